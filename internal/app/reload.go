package app

import (
	"context"
	"strings"

	"offerbot/internal/config"
	logx "offerbot/pkg/logx"
)

// reloadLoop applies committed config changes until ctx is done.
func (a *App) reloadLoop(ctx context.Context) {
	sub, cancel := a.cfgm.Subscribe(8)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(drainLatest(sub, ch))
		}
	}
}

// drainLatest folds a burst of queued changes into one.
func drainLatest(sub <-chan config.Change, ch config.Change) config.Change {
	for {
		select {
		case later, ok := <-sub:
			if !ok {
				return ch
			}
			ch = ch.Then(later)
		default:
			return ch
		}
	}
}

// applyConfig pushes the changed hot-reloadable sections into the running
// components. Sections that need a restart are only reported.
func (a *App) applyConfig(ch config.Change) {
	next := ch.Next
	if next == nil || ch.Empty() {
		return
	}
	if len(ch.Restart) > 0 {
		a.log.Warn("config sections changed that apply after restart", logx.String("sections", strings.Join(ch.Restart, ",")))
	}

	if ch.Changed("logging") {
		a.logs.Apply(mapLogConfig(next))
	}
	if ch.Changed("telegram") {
		a.setAdmins(next.Telegram.AdminIDs)
	}
	if ch.Changed("broadcast") {
		a.limiter.Resize(next.Broadcast.Concurrency)
		if opts, err := mapBroadcastOptions(next); err != nil {
			a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
		} else {
			a.dispatcher.Apply(opts)
		}
	}
	// Composer settings carry broadcast.use_relay.
	if ch.Changed("composer") || ch.Changed("broadcast") {
		if cs, err := mapComposerSettings(next); err != nil {
			a.log.Warn("invalid composer config; keeping previous", logx.Err(err))
		} else {
			a.composer.Apply(cs)
		}
	}
	if ch.Changed("user_bot") || ch.Changed("telegram") {
		a.userBot.Apply(mapUserSettings(next))
	}
	if ch.Changed("leads") || ch.Changed("telegram") {
		a.adminBot.Apply(mapAdminSettings(next))
	}
	if ch.Changed("leads") {
		if d, err := config.ParseDurationField("leads.notify_timeout", next.Leads.NotifyTimeout); err != nil {
			a.log.Warn("invalid leads.notify_timeout; keeping previous", logx.Err(err))
		} else {
			a.leads.SetNotifyTimeout(d)
		}
	}
	if ch.Changed("api") && a.api != nil {
		a.api.Apply(mapAPIConfig(next))
	}
	if ch.Changed("sheets") {
		a.applyReconcile(next)
	}
	if ch.Changed("pprof") {
		a.applyPprof(next.Pprof)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyReconcile(cfg *config.Config) {
	if a.reconciler == nil {
		return
	}
	if !cfg.Sheets.ReconcileEnabled() {
		if a.sched.Remove(reconcileJob) {
			a.log.Info("sheet reconcile disabled via config")
		}
		return
	}
	if err := a.sched.Add(reconcileJob, cfg.Sheets.ReconcileCron, reconcileTimeout, a.reconciler.Job); err != nil {
		a.log.Warn("invalid sheets.reconcile_cron; keeping previous", logx.Err(err))
	}
}
