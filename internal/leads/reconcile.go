package leads

import (
	"context"
	"fmt"
	"strings"

	"offerbot/internal/metrics"
	"offerbot/internal/storage"
	logx "offerbot/pkg/logx"
)

// Sheet is the spreadsheet view reconcile needs.
type Sheet interface {
	// Emails returns the email column, lower-cased.
	Emails(ctx context.Context) ([]string, error)
	AppendRows(ctx context.Context, rows []storage.Confirmation) error
}

type History interface {
	AllConfirmations(ctx context.Context) ([]storage.Confirmation, error)
}

// Reconciler backfills the spreadsheet with stored confirmations whose
// email is absent from it, oldest first.
type Reconciler struct {
	store History
	sheet Sheet
	log   logx.Logger
}

func NewReconciler(store History, sheet Sheet, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{store: store, sheet: sheet, log: log.With(logx.String("comp", "reconcile"))}
}

// Run appends the missing rows and returns how many were appended.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	have, err := r.sheet.Emails(ctx)
	if err != nil {
		return 0, fmt.Errorf("read sheet: %w", err)
	}
	seen := make(map[string]struct{}, len(have))
	for _, e := range have {
		seen[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}

	all, err := r.store.AllConfirmations(ctx)
	if err != nil {
		return 0, fmt.Errorf("load confirmations: %w", err)
	}
	var missing []storage.Confirmation
	for _, c := range all {
		key := strings.ToLower(strings.TrimSpace(c.Email))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		missing = append(missing, c)
	}
	if len(missing) == 0 {
		r.log.Debug("sheet up to date", logx.Int("stored", len(all)))
		return 0, nil
	}
	if err := r.sheet.AppendRows(ctx, missing); err != nil {
		return 0, fmt.Errorf("append rows: %w", err)
	}
	metrics.ReconcileRowsTotal.Add(float64(len(missing)))
	r.log.Info("sheet reconciled", logx.Int("appended", len(missing)), logx.Int("stored", len(all)))
	return len(missing), nil
}

// Job adapts Run to a scheduler job.
func (r *Reconciler) Job(ctx context.Context) error {
	_, err := r.Run(ctx)
	return err
}
