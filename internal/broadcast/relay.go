package broadcast

import (
	"context"
	"errors"
	"time"

	"offerbot/internal/content"
	"offerbot/internal/metrics"
	"offerbot/internal/transport"
	logx "offerbot/pkg/logx"
)

// Bot is one sending identity as the dispatcher and relay see it.
type Bot interface {
	// SendContent sends it to chatID with ctl attached as an inline button.
	// The returned content carries file ids valid for this identity.
	SendContent(ctx context.Context, chatID int64, it content.Item, ctl *content.Control) (transport.Delivered, error)
	// CopyContent copies an existing message without a forward header.
	CopyContent(ctx context.Context, chatID int64, from transport.MessageRef, ctl *content.Control) error
	// FetchFile downloads a file this identity can see into memory.
	FetchFile(ctx context.Context, fileID string, maxBytes int64) ([]byte, error)
}

// Handle points at content re-created under the target identity. It is only
// meaningful for the run that produced it.
type Handle struct {
	Ref     transport.MessageRef
	Content content.Item
}

// Relay re-creates composed content under a second identity so that identity
// can send it natively. It never returns an error; failures are logged and
// reported as a false result.
type Relay struct {
	source      Bot
	target      Bot
	destination int64
	limiter     *Limiter
	maxFile     int64
	timeout     time.Duration
	log         logx.Logger
}

type RelayOption func(*Relay)

// WithMaxFileSize caps in-memory downloads. Default 20 MiB.
func WithMaxFileSize(n int64) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.maxFile = n
		}
	}
}

func WithRelayLogger(log logx.Logger) RelayOption { return func(r *Relay) { r.log = log } }

// WithRelayTimeout bounds each platform call made by the relay.
func WithRelayTimeout(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRelay builds a relay from source to target. destination is the chat the
// re-created message is posted in; it must be reachable by target.
func NewRelay(source, target Bot, destination int64, lim *Limiter, opts ...RelayOption) *Relay {
	r := &Relay{
		source:      source,
		target:      target,
		destination: destination,
		limiter:     lim,
		maxFile:     20 << 20,
		timeout:     60 * time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	if r.limiter == nil {
		r.limiter = NewLimiter(DefaultPermits)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	return r
}

// Target is the identity the relay posts under.
func (r *Relay) Target() Bot { return r.target }

// Relay re-creates it under the target identity.
func (r *Relay) Relay(ctx context.Context, it content.Item) (Handle, bool) {
	log := r.log.With(logx.String("kind", content.Summary(it)), logx.Int64("destination", r.destination))

	prepared, err := r.prepare(ctx, it)
	if err != nil {
		result := "failed"
		if errors.Is(err, errUnsupported) {
			result = "unsupported"
		}
		metrics.RelayTotal.WithLabelValues(result).Inc()
		log.Warn("relay skipped", logx.String("class", Classify(err)), logx.Err(err))
		return Handle{}, false
	}

	var d transport.Delivered
	err = r.call(ctx, func(cctx context.Context) error {
		var serr error
		d, serr = r.target.SendContent(cctx, r.destination, prepared, nil)
		return serr
	})
	if err != nil {
		metrics.RelayTotal.WithLabelValues("failed").Inc()
		log.Warn("relay send failed", logx.String("class", Classify(err)), logx.Err(err))
		return Handle{}, false
	}
	if d.Content == nil {
		d.Content = prepared
	}
	metrics.RelayTotal.WithLabelValues("ok").Inc()
	log.Debug("relay done", logx.Int("message_id", d.Ref.MessageID))
	return Handle{Ref: d.Ref, Content: stripUpload(d.Content)}, true
}

// prepare turns it into something the target identity can send. Media whose
// file id belongs to the source identity is downloaded and attached as an upload.
func (r *Relay) prepare(ctx context.Context, it content.Item) (content.Item, error) {
	switch v := it.(type) {
	case content.Text:
		if v.Bare {
			return nil, errUnsupported
		}
		return v, nil
	case content.Photo, content.Video, content.Document, content.Voice, content.VideoNote:
		if r.source == r.target {
			return it, nil
		}
		m, _ := content.MediaOf(it)
		var data []byte
		err := r.call(ctx, func(cctx context.Context) error {
			var ferr error
			data, ferr = r.source.FetchFile(cctx, m.FileID, r.maxFile)
			return ferr
		})
		if err != nil {
			return nil, err
		}
		m.Upload = &content.Upload{Name: content.UploadName(it), Data: data}
		return content.WithMedia(it, m), nil
	default:
		return nil, errUnsupported
	}
}

func (r *Relay) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.limiter.Do(ctx, func() error {
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return fn(cctx)
	})
}

// stripUpload drops buffered bytes so the handle only references the target file id.
func stripUpload(it content.Item) content.Item {
	m, ok := content.MediaOf(it)
	if !ok || m.Upload == nil {
		return it
	}
	m.Upload = nil
	return content.WithMedia(it, m)
}
