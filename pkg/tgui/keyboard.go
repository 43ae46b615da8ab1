package tgui

import "offerbot/internal/transport"

// Inline is a small builder for inline keyboards.
type Inline struct {
	rows [][]transport.Button
}

func NewInline() *Inline { return &Inline{} }

// Row appends a row of buttons. Empty rows are skipped.
func (i *Inline) Row(btn ...transport.Button) *Inline {
	if len(btn) > 0 {
		i.rows = append(i.rows, btn)
	}
	return i
}

// Rows returns the keyboard in the shape transport.SendOptions expects.
func (i *Inline) Rows() [][]transport.Button {
	if i == nil {
		return nil
	}
	return i.rows
}

// Btn creates a callback button with raw callback_data.
// Use Data to build "prefix:action:payload".
func Btn(text, data string) transport.Button {
	return transport.Button{Text: text, Data: data}
}

func URLBtn(text, url string) transport.Button {
	return transport.Button{Text: text, URL: url}
}

// WebAppBtn opens url as a Telegram Mini App.
func WebAppBtn(text, url string) transport.Button {
	return transport.Button{Text: text, WebApp: url}
}

// Confirm builds a one-row yes/no keyboard.
func Confirm(yes, no transport.Button) [][]transport.Button {
	return NewInline().Row(yes, no).Rows()
}

// Column puts every button on its own row.
func Column(btn ...transport.Button) [][]transport.Button {
	in := NewInline()
	for _, b := range btn {
		in.Row(b)
	}
	return in.Rows()
}
