// Package sheets appends leads to a Google spreadsheet worksheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"offerbot/internal/storage"
	logx "offerbot/pkg/logx"
)

// Headers is row 1 of the worksheet; emails live in column D.
var Headers = []string{
	"Дата и время",
	"Имя",
	"Фамилия",
	"Email",
	"TG User ID",
	"TG Username",
	"Тип оплаты",
	"IP адрес",
	"User Agent",
	"Дополнительные данные",
}

const DefaultWorksheet = "Offer Confirmations"

type Config struct {
	CredentialsPath string
	SpreadsheetID   string
	Worksheet       string
	// Endpoint overrides the API base URL.
	Endpoint string
}

type Sheet struct {
	svc   *gsheets.Service
	id    string
	title string
	log   logx.Logger

	mu    sync.Mutex
	ready bool
}

// New builds a client. Extra options are appended after the ones derived from cfg.
func New(ctx context.Context, cfg Config, log logx.Logger, extra ...option.ClientOption) (*Sheet, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("sheets: spreadsheet id is required")
	}
	if cfg.Worksheet == "" {
		cfg.Worksheet = DefaultWorksheet
	}
	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath), option.WithScopes(gsheets.SpreadsheetsScope))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	opts = append(opts, extra...)
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: client: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sheet{svc: svc, id: cfg.SpreadsheetID, title: cfg.Worksheet, log: log.With(logx.String("comp", "sheets"))}, nil
}

func (s *Sheet) Name() string { return "sheets" }

func (s *Sheet) a1(ref string) string {
	return "'" + strings.ReplaceAll(s.title, "'", "''") + "'!" + ref
}

func lastCol() string { return string(rune('A' + len(Headers) - 1)) }

// Ensure creates the worksheet if missing and rewrites a mismatched header row.
// It succeeds once per Sheet; failures are retried on the next call.
func (s *Sheet) Ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	ss, err := s.svc.Spreadsheets.Get(s.id).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: get spreadsheet: %w", err)
	}
	found := false
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == s.title {
			found = true
			break
		}
	}
	if !found {
		req := &gsheets.BatchUpdateSpreadsheetRequest{Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{Properties: &gsheets.SheetProperties{Title: s.title}},
		}}}
		if _, err := s.svc.Spreadsheets.BatchUpdate(s.id, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("sheets: add worksheet: %w", err)
		}
		s.log.Info("worksheet created", logx.String("title", s.title))
	}

	headerRange := s.a1("A1:" + lastCol() + "1")
	vr, err := s.svc.Spreadsheets.Values.Get(s.id, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: read header: %w", err)
	}
	if !headerMatches(vr.Values) {
		row := make([]any, len(Headers))
		for i, h := range Headers {
			row[i] = h
		}
		_, err := s.svc.Spreadsheets.Values.Update(s.id, headerRange, &gsheets.ValueRange{Values: [][]any{row}}).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("sheets: write header: %w", err)
		}
		s.log.Info("header row written")
	}
	s.ready = true
	return nil
}

func headerMatches(values [][]any) bool {
	if len(values) == 0 || len(values[0]) < len(Headers) {
		return false
	}
	for i, h := range Headers {
		if fmt.Sprint(values[0][i]) != h {
			return false
		}
	}
	return true
}

// Row renders a confirmation in header order.
func Row(c storage.Confirmation) []any {
	return []any{
		c.ConfirmedAt.UTC().Format("2006-01-02 15:04:05"),
		c.FirstName,
		c.LastName,
		c.Email,
		c.TelegramUserID,
		c.TelegramUsername,
		c.PaymentType,
		c.IPAddress,
		c.UserAgent,
		c.AdditionalData,
	}
}

func (s *Sheet) Notify(ctx context.Context, c storage.Confirmation) error {
	return s.AppendRows(ctx, []storage.Confirmation{c})
}

func (s *Sheet) AppendRows(ctx context.Context, rows []storage.Confirmation) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.Ensure(ctx); err != nil {
		return err
	}
	values := make([][]any, 0, len(rows))
	for _, c := range rows {
		values = append(values, Row(c))
	}
	_, err := s.svc.Spreadsheets.Values.Append(s.id, s.a1("A:"+lastCol()), &gsheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: append: %w", err)
	}
	s.log.Debug("rows appended", logx.Int("rows", len(values)))
	return nil
}

// Emails lists column D below the header, lower-cased.
func (s *Sheet) Emails(ctx context.Context) ([]string, error) {
	if err := s.Ensure(ctx); err != nil {
		return nil, err
	}
	vr, err := s.svc.Spreadsheets.Values.Get(s.id, s.a1("D2:D")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: read emails: %w", err)
	}
	out := make([]string, 0, len(vr.Values))
	for _, r := range vr.Values {
		if len(r) == 0 {
			continue
		}
		if e := strings.ToLower(strings.TrimSpace(fmt.Sprint(r[0]))); e != "" {
			out = append(out, e)
		}
	}
	s.log.Debug("emails read", logx.Int("rows", len(out)))
	return out, nil
}
