package config

import (
	"reflect"
	"slices"
	"strings"

	logx "offerbot/pkg/logx"
)

// Change describes one committed reload: which sections differ, which of
// those only take effect after a restart, and log fields that never carry
// secrets.
type Change struct {
	Prev, Next *Config
	Sections   []string
	Restart    []string
	Fields     []logx.Field
}

// Changed reports whether section differs between Prev and Next.
func (c Change) Changed(section string) bool { return slices.Contains(c.Sections, section) }

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Then folds a later change into c, as if both reloads had happened at once.
func (c Change) Then(later Change) Change { return Diff(c.Prev, later.Next) }

// Diff compares two configs section by section.
func Diff(prev, next *Config) Change {
	ch := Change{Prev: prev, Next: next}
	if prev == nil {
		prev = &Config{}
	}
	if next == nil {
		next = &Config{}
	}
	section := func(name string, restart bool, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, name)
		if restart {
			ch.Restart = append(ch.Restart, name)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	pt, nt := prev.Telegram, next.Telegram
	identity := pt.UserToken != nt.UserToken ||
		pt.AdminToken != nt.AdminToken ||
		strings.TrimSpace(pt.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		pt.OperatorChatID != nt.OperatorChatID
	if identity || !slices.Equal(pt.AdminIDs, nt.AdminIDs) || pt.OwnerChatID != nt.OwnerChatID {
		section("telegram", identity,
			logx.Int("telegram.admin_count", len(nt.AdminIDs)),
			logx.Bool("telegram.operator_chat_set", nt.OperatorChatID != 0),
			logx.Bool("telegram.owner_chat_set", nt.OwnerChatID != 0),
		)
	}

	if !reflect.DeepEqual(prev.Logging, next.Logging) {
		section("logging", false,
			logx.String("logging.level", next.Logging.Level),
			logx.Bool("logging.file", next.Logging.File.Enabled),
			logx.Bool("logging.telegram", next.Logging.Telegram.Enabled),
		)
	}

	if prev.Storage != next.Storage {
		section("storage", true, logx.String("storage.driver", next.Storage.Driver))
	}

	pa, na := prev.API, next.API
	listener := pa.Enabled != na.Enabled ||
		pa.Host != na.Host ||
		pa.Port != na.Port ||
		pa.BodyLimit != na.BodyLimit ||
		pa.ShutdownTimeout != na.ShutdownTimeout ||
		!slices.Equal(pa.CORSOrigins, na.CORSOrigins)
	if listener || pa.RatePerMinute != na.RatePerMinute || pa.AdminToken != na.AdminToken {
		section("api", listener,
			logx.Bool("api.enabled", na.Enabled),
			logx.Int("api.port", na.Port),
			logx.Int("api.rate_per_minute", na.RatePerMinute),
			logx.Bool("api.admin_token_set", na.AdminToken != ""),
		)
	}

	if !reflect.DeepEqual(prev.Broadcast, next.Broadcast) {
		section("broadcast", false,
			logx.Int("broadcast.concurrency", next.Broadcast.Concurrency),
			logx.Int("broadcast.chunk_size", next.Broadcast.ChunkSize),
			logx.String("broadcast.throttle_delay", next.Broadcast.ThrottleDelay),
			logx.Bool("broadcast.use_relay", next.Broadcast.RelayEnabled()),
			logx.String("broadcast.delivery", next.Broadcast.Delivery),
		)
	}

	if prev.Composer != next.Composer {
		section("composer", false, logx.String("composer.session_ttl", next.Composer.SessionTTL))
	}

	if prev.Leads != next.Leads {
		section("leads", prev.Leads.DedupWindow != next.Leads.DedupWindow,
			logx.String("leads.notify_timeout", next.Leads.NotifyTimeout),
			logx.Bool("leads.notify_admins", next.Leads.NotifyAdmins),
		)
	}

	// The reconcile schedule hot-reloads; the rest of sheets is wired once.
	ps, ns := prev.Sheets, next.Sheets
	if !reflect.DeepEqual(ps, ns) {
		ps.ReconcileCron, ns.ReconcileCron = "", ""
		section("sheets", !reflect.DeepEqual(ps, ns),
			logx.Bool("sheets.enabled", next.Sheets.Enabled),
			logx.String("sheets.reconcile_cron", next.Sheets.ReconcileCron),
		)
	}
	for _, n := range []struct {
		name       string
		prev, next any
		enabled    bool
	}{
		{"email", prev.Email, next.Email, next.Email.Enabled},
		{"webhook", prev.Webhook, next.Webhook, next.Webhook.Enabled},
		{"amqp", prev.AMQP, next.AMQP, next.AMQP.Enabled},
	} {
		if !reflect.DeepEqual(n.prev, n.next) {
			section(n.name, true, logx.Bool(n.name+".enabled", n.enabled))
		}
	}

	if !reflect.DeepEqual(prev.UserBot, next.UserBot) {
		section("user_bot", false, logx.Bool("user_bot.welcome_photo_set", next.UserBot.WelcomePhoto != ""))
	}

	if prev.Pprof != next.Pprof {
		section("pprof", false,
			logx.Bool("pprof.enabled", next.Pprof.Enabled),
			logx.String("pprof.addr", next.Pprof.Addr),
		)
	}
	return ch
}
