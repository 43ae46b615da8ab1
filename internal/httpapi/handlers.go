package httpapi

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"offerbot/internal/leads"
	logx "offerbot/pkg/logx"
)

const defaultListLimit = 100

func ipField(c echo.Context) logx.Field   { return logx.String("ip", c.RealIP()) }
func pathField(c echo.Context) logx.Field { return logx.String("path", c.Request().URL.Path) }

type confirmationResponse struct {
	Success        bool   `json:"success"`
	ConfirmationID int64  `json:"confirmation_id"`
	Message        string `json:"message"`
	Duplicate      bool   `json:"duplicate"`
}

func (s *Server) handleOfferConfirmation(c echo.Context) error {
	var raw map[string]any
	dec := json.NewDecoder(c.Request().Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil || raw == nil {
		s.log.Warn("unparseable lead body", ipField(c), logx.Err(err))
		return c.JSON(http.StatusBadRequest, map[string]any{"success": false, "message": "invalid request body"})
	}

	in := leads.Coerce(raw)
	in.IP = c.RealIP()
	in.UserAgent = c.Request().UserAgent()
	res, err := s.leads.Submit(c.Request().Context(), in)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"success": false, "message": "failed to save confirmation"})
	}

	msg := "confirmation saved"
	if res.Duplicate {
		msg = "confirmation already recorded"
	}
	return c.JSON(http.StatusOK, confirmationResponse{
		Success:        true,
		ConfirmationID: res.ID,
		Message:        msg,
		Duplicate:      res.Duplicate,
	})
}

func listLimit(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return n
}

func (s *Server) handleStats(c echo.Context) error {
	st, err := s.store.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	if st.ByPaymentType == nil {
		st.ByPaymentType = map[string]int{}
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleConfirmations(c echo.Context) error {
	list, err := s.store.ListConfirmations(c.Request().Context(), listLimit(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"count": len(list), "confirmations": list})
}

func (s *Server) handleUsers(c echo.Context) error {
	list, err := s.store.ListClients(c.Request().Context(), listLimit(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"count": len(list), "users": list})
}

func (s *Server) handleServerInfo(c echo.Context) error {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	info := map[string]any{
		"go_version":  runtime.Version(),
		"goroutines":  runtime.NumGoroutine(),
		"cpus":        runtime.NumCPU(),
		"uptime":      s.clk.Since(s.started).Round(time.Second).String(),
		"started_at":  s.started.UTC().Format(time.RFC3339),
		"alloc_bytes": ms.Alloc,
		"sys_bytes":   ms.Sys,
		"heap_bytes":  ms.HeapInuse,
		"num_gc":      ms.NumGC,
	}
	if s.store != nil {
		db := "ok"
		if err := s.store.Ping(c.Request().Context()); err != nil {
			db = err.Error()
		}
		info["database"] = db
	}
	if s.counters != nil {
		info["supervisor"] = s.counters()
	}
	return c.JSON(http.StatusOK, info)
}
