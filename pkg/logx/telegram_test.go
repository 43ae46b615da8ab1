package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFormatTelegramLine(t *testing.T) {
	t.Parallel()

	got := formatTelegramLine([]byte(`{"level":"warn","message":"broadcast finished","total":3,"comp":"broadcast","time":"x"}`))
	want := "[WARN] broadcast finished\n- comp=broadcast\n- total=3"
	if got != want {
		t.Fatalf("formatTelegramLine() = %q, want %q", got, want)
	}

	raw := formatTelegramLine([]byte("  not json  \n"))
	if raw != "not json" {
		t.Fatalf("non-json line = %q", raw)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"abcdefghijklmnop", 12, "abcdefghi..."},
		{"abcdef", 3, "abc"},
		{"abc", 0, "abc"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.max); got != tc.want {
			t.Fatalf("truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

type recordingSender struct {
	mu    sync.Mutex
	lines []string
	done  chan struct{}
}

func (r *recordingSender) SendLog(_ context.Context, chatID int64, _ int, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, text)
	if len(r.lines) == 1 {
		close(r.done)
	}
	return nil
}

func TestTelegramSinkRespectsMinLevel(t *testing.T) {
	rec := &recordingSender{done: make(chan struct{})}
	svc, log := New(Config{
		Level: "debug",
		Telegram: TelegramConfig{
			Enabled:    true,
			ChatID:     42,
			MinLevel:   "warn",
			RatePerSec: 5,
		},
	}, rec)
	defer svc.Close()

	log.Info("quiet")
	log.Warn("loud", String("k", "v"))

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("telegram sink did not deliver")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.lines) != 1 {
		t.Fatalf("lines = %d, want 1: %v", len(rec.lines), rec.lines)
	}
	if !strings.HasPrefix(rec.lines[0], "[WARN] loud") {
		t.Fatalf("unexpected line %q", rec.lines[0])
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "debug", "INFO", "warning", "error", "trace"} {
		if !ValidLevel(s) {
			t.Fatalf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel(loud) = true")
	}
	if parseLevel("nope", zerolog.ErrorLevel) != zerolog.ErrorLevel {
		t.Fatal("parseLevel default not used")
	}
}
