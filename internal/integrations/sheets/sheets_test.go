package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"offerbot/internal/storage"
	logx "offerbot/pkg/logx"
)

// fakeAPI emulates the handful of Sheets endpoints the client calls.
type fakeAPI struct {
	mu      sync.Mutex
	titles  []string
	header  []any
	rows    [][]any
	added   int
	appends int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req struct {
			Requests []struct {
				AddSheet struct {
					Properties struct {
						Title string `json:"title"`
					} `json:"properties"`
				} `json:"addSheet"`
			} `json:"requests"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.titles = append(f.titles, req.Requests[0].AddSheet.Properties.Title)
		f.added++
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		var vr struct {
			Values [][]any `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.rows = append(f.rows, vr.Values...)
		f.appends++
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		var vr struct {
			Values [][]any `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.header = vr.Values[0]
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodGet && strings.HasSuffix(path, "A1:J1"):
		writeValues(w, [][]any{f.header})
	case r.Method == http.MethodGet && strings.HasSuffix(path, "D2:D"):
		col := make([][]any, 0, len(f.rows))
		for _, row := range f.rows {
			col = append(col, []any{row[3]})
		}
		writeValues(w, col)
	case r.Method == http.MethodGet:
		sheets := make([]map[string]any, 0, len(f.titles))
		for _, t := range f.titles {
			sheets = append(sheets, map[string]any{"properties": map[string]any{"title": t}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"sheets": sheets})
	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusNotFound)
	}
}

func writeValues(w http.ResponseWriter, values [][]any) {
	if len(values) == 1 && values[0] == nil {
		values = nil
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"values": values})
}

func newSheet(t *testing.T, api *fakeAPI) *Sheet {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	s, err := New(context.Background(), Config{SpreadsheetID: "sid", Worksheet: "Leads", Endpoint: srv.URL + "/"}, logx.Nop(),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return s
}

func TestEnsureCreatesWorksheetAndHeader(t *testing.T) {
	api := &fakeAPI{}
	s := newSheet(t, api)
	ctx := context.Background()

	require.NoError(t, s.Ensure(ctx))
	require.NoError(t, s.Ensure(ctx))
	assert.Equal(t, []string{"Leads"}, api.titles)
	assert.Equal(t, 1, api.added)
	require.Len(t, api.header, len(Headers))
	assert.Equal(t, "Email", api.header[3])
}

func TestAppendAndEmails(t *testing.T) {
	api := &fakeAPI{titles: []string{"Leads"}}
	s := newSheet(t, api)
	ctx := context.Background()

	at := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Notify(ctx, storage.Confirmation{Email: "A@x.io", FirstName: "A", PaymentType: "crypto", ConfirmedAt: at}))
	require.NoError(t, s.AppendRows(ctx, []storage.Confirmation{{Email: "b@x.io"}, {Email: "c@x.io"}}))
	require.NoError(t, s.AppendRows(ctx, nil))

	assert.Zero(t, api.added)
	assert.Equal(t, 2, api.appends)
	require.Len(t, api.rows, 3)
	assert.Equal(t, "2026-03-03 12:00:00", api.rows[0][0])
	assert.Equal(t, "crypto", api.rows[0][6])

	emails, err := s.Emails(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.io", "b@x.io", "c@x.io"}, emails)
}

func TestQuotedRange(t *testing.T) {
	s := &Sheet{title: "Bob's leads"}
	assert.Equal(t, "'Bob''s leads'!A:J", s.a1("A:"+lastCol()))
}

func TestNewRequiresSpreadsheet(t *testing.T) {
	_, err := New(context.Background(), Config{}, logx.Nop())
	assert.Error(t, err)
}
