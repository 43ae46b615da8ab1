// Package tgui holds small chat UI helpers shared by both bots: inline
// keyboard rows, callback data in the "prefix:action:payload" form, and
// HTML escaping for ParseMode="HTML".
package tgui
