package email

import (
	"bufio"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerbot/internal/storage"
	logx "offerbot/pkg/logx"
)

func confirmation() storage.Confirmation {
	return storage.Confirmation{
		ID:             3,
		FirstName:      "Мария",
		LastName:       "<script>",
		Email:          "maria@example.com",
		PaymentType:    "installment",
		ConfirmedAt:    time.Date(2026, 6, 1, 15, 4, 5, 0, time.UTC),
		AdditionalData: `{"plan":"pro"}`,
	}
}

func TestBuildMultipart(t *testing.T) {
	n, err := New(Config{Host: "smtp.example.com", Port: 587, User: "bot@example.com", To: "owner@example.com"},
		WithNow(func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }))
	require.NoError(t, err)

	raw, err := n.Build(confirmation())
	require.NoError(t, err)
	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	require.NoError(t, err)

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Новое подтверждение оферты - installment", subject)
	assert.Equal(t, "bot@example.com", msg.Header.Get("From"))
	assert.Equal(t, "owner@example.com", msg.Header.Get("To"))

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)

	mr := multipart.NewReader(msg.Body, params["boundary"])
	var parts []string
	var types []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(p)
		require.NoError(t, err)
		types = append(types, p.Header.Get("Content-Type"))
		parts = append(parts, string(b))
	}
	require.Len(t, parts, 2)
	assert.Equal(t, []string{"text/plain; charset=UTF-8", "text/html; charset=UTF-8"}, types)
	assert.Contains(t, parts[0], "Имя: Мария")
	assert.Contains(t, parts[0], "IP адрес: Не указан")
	assert.Contains(t, parts[0], `"plan": "pro"`)
	assert.Contains(t, parts[1], "&lt;script&gt;")
	assert.NotContains(t, parts[1], "<script>")
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{Port: 587, User: "a@b.co", To: "c@d.co"})
	assert.Error(t, err)
	_, err = New(Config{Host: "h", Port: 0, User: "a@b.co", To: "c@d.co"})
	assert.Error(t, err)
	_, err = New(Config{Host: "h", Port: 25, User: "", To: "c@d.co"})
	assert.Error(t, err)
	_, err = New(Config{Host: "h", Port: 25, User: "a@b.co", To: "nobody"})
	assert.Error(t, err)
}

// fakeSMTP accepts one message and hands its DATA to the returned channel.
func fakeSMTP(t *testing.T) (string, int, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	out := make(chan string, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		write := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
		write("220 fake ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"):
				write("250-fake")
				write("250 8BITMIME")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				write("250 ok")
			case cmd == "DATA":
				write("354 go ahead")
				var data strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					data.WriteString(l)
				}
				out <- data.String()
				write("250 queued")
			case cmd == "QUIT":
				write("221 bye")
				return
			default:
				write("502 unknown")
			}
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p, out
}

func TestNotifyDelivers(t *testing.T) {
	host, port, got := fakeSMTP(t)
	n, err := New(Config{Host: host, Port: port, User: "bot@example.com", Password: "x", To: "owner@example.com"},
		WithTLSConfig(nil), WithLogger(logx.Nop()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Notify(ctx, confirmation()))

	select {
	case data := <-got:
		assert.Contains(t, data, "Subject: =?UTF-8?b?")
		assert.Contains(t, data, "multipart/alternative")
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestNotifyDialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	n, err := New(Config{Host: "127.0.0.1", Port: addr.Port, User: "bot@example.com", To: "owner@example.com"})
	require.NoError(t, err)
	err = n.Notify(context.Background(), confirmation())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial")
}
