package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"offerbot/internal/metrics"
	logx "offerbot/pkg/logx"
)

// HandlerFunc handles one routed update.
type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

var errDenied = errors.New("access denied")

// PanicError is returned for a handler that panicked.
type PanicError struct{ Value any }

func (e PanicError) Error() string { return fmt.Sprintf("handler panic: %v", e.Value) }

// slowHandler is the duration from which successful handlers log at INFO.
const slowHandler = 750 * time.Millisecond

// outcome is the result label of offerbot_handler_total.
func outcome(err error) string {
	var pe PanicError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errDenied):
		return "denied"
	case errors.As(err, &pe):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// observe counts and logs every handled update under the bot name.
func observe(bot string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)
			res := outcome(err)
			metrics.HandlerTotal.WithLabelValues(bot, req.Command, res).Inc()

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Bool("admin", req.IsAdmin),
				logx.String("result", res),
				logx.Duration("dur", took),
			}
			switch {
			case res == "denied":
				req.Logger.Debug("request denied", fields...)
			case err != nil:
				req.Logger.Warn("request failed", append(fields, logx.Err(err))...)
			case took >= slowHandler:
				req.Logger.Info("request ok", fields...)
			default:
				req.Logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// recoverPanic turns a handler panic into a PanicError so the worker survives.
func recoverPanic() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("handler panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = PanicError{Value: r}
				}
			}()
			return next(ctx, req)
		}
	}
}

// gate stops non-admins on admin routes. A denied callback still gets the
// denied toast so the client spinner stops.
func gate(access Access, denied string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if access == AccessAdmin && !req.IsAdmin {
				if req.Callback != nil {
					_ = req.Answer(ctx, denied)
				}
				return errDenied
			}
			return next(ctx, req)
		}
	}
}

// deadline bounds the handler; d <= 0 leaves ctx as is.
func deadline(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}
