package pprof

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "offerbot/pkg/logx"
)

func TestNewRequiresTokenOffLoopback(t *testing.T) {
	_, err := New(Config{Addr: "0.0.0.0:6060"}, logx.Nop())
	require.Error(t, err)

	_, err = New(Config{Addr: "0.0.0.0:6060", Token: "t"}, logx.Nop())
	require.NoError(t, err)

	s, err := New(Config{}, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, defaultAddr, s.cfg.Addr)

	_, err = New(Config{Addr: "nope"}, logx.Nop())
	require.Error(t, err)
}

func TestHandlerChecksToken(t *testing.T) {
	s, err := New(Config{Addr: "[::]:6060", Token: "sekret"}, logx.Nop())
	require.NoError(t, err)
	h := s.Handler()

	get := func(target string, header map[string]string) int {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		for k, v := range header {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusForbidden, get("/debug/pprof/", nil))
	assert.Equal(t, http.StatusForbidden, get("/debug/pprof/?token=wrong", nil))
	assert.Equal(t, http.StatusOK, get("/debug/pprof/?token=sekret", nil))
	assert.Equal(t, http.StatusOK, get("/debug/pprof/", map[string]string{"Authorization": "Bearer sekret"}))
}

func TestHandlerOpenOnLoopbackWithoutToken(t *testing.T) {
	s, err := New(Config{Addr: "localhost:0"}, logx.Nop())
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
