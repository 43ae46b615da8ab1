package app

import (
	"context"
	"sync"

	"offerbot/internal/config"
	"offerbot/internal/observability/pprof"
	logx "offerbot/pkg/logx"
)

// debugListener restarts the pprof server when its config changes.
type debugListener struct {
	mu     sync.Mutex
	cfg    config.PprofConfig
	cancel context.CancelFunc
	done   chan struct{}
}

func (a *App) applyPprof(cfg config.PprofConfig) {
	d := &a.debug
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		if d.cfg == cfg {
			return
		}
		d.cancel()
		<-d.done
		d.cancel, d.done = nil, nil
	}
	d.cfg = cfg
	if !cfg.Enabled || a.sup == nil {
		return
	}

	srv, err := pprof.New(pprof.Config{Enabled: cfg.Enabled, Addr: cfg.Addr, Token: cfg.Token}, a.log)
	if err != nil {
		a.log.Warn("pprof disabled", logx.Err(err))
		return
	}
	ctx, cancel := context.WithCancel(a.sup.Context())
	done := make(chan struct{})
	d.cancel, d.done = cancel, done
	// A bind failure only disables profiling.
	a.sup.Go0("pprof", func(context.Context) {
		defer close(done)
		if err := srv.Run(ctx); err != nil {
			a.log.Warn("pprof stopped", logx.Err(err))
		}
	})
}
