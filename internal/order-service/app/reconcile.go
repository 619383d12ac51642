package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jcmexdev/ecommerce-orders/internal/coordinator/sagalog"
	"github.com/jcmexdev/ecommerce-orders/internal/order-service/domain"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/entitystore"
)

// ReconcileReport counts what one reconciliation pass did.
type ReconcileReport struct {
	Examined int
	// Restored placements had stock reserved but no order; the stock was
	// given back.
	Restored int
	// Placed placements turned out to have their order.
	Placed int
	// AlreadyRestored placements died right after a restore marker, and the
	// product has changed since, so the restore is taken as applied.
	AlreadyRestored int
	// Abandoned placements stopped before any stock was reserved, or left no
	// readable payload.
	Abandoned int
	// Failed placements could not be repaired and stay unsettled.
	Failed int
}

type ReconcilerConfig struct {
	Tables Tables
	// Grace is how long a placement must have been quiet before it is
	// considered stuck.
	Grace time.Duration
	Now   func() time.Time
}

// Reconciler repairs placements that stopped between reserving stock and
// writing the order: a crash mid-saga or a compensation that failed.
type Reconciler struct {
	store entitystore.Store
	log   sagalog.Repository
	cfg   ReconcilerConfig
}

func NewReconciler(store entitystore.Store, log sagalog.Repository, cfg ReconcilerConfig) *Reconciler {
	if cfg.Tables == (Tables{}) {
		cfg.Tables = DefaultTables()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{store: store, log: log, cfg: cfg}
}

// Run makes one pass. Each placement is repaired at most once: the RECONCILED
// row removes it from later passes.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	stuck, err := r.log.ListUnsettled(ctx, r.cfg.Now().Add(-r.cfg.Grace))
	if err != nil {
		return report, fmt.Errorf("reconcile: list unsettled placements: %w", err)
	}

	for _, entry := range stuck {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Examined++

		outcome, err := r.reconcile(ctx, entry)
		if err != nil {
			report.Failed++
			slog.ErrorContext(ctx, "CRITICAL: could not reconcile placement",
				"order_id", entry.SagaID, "status", entry.Status, "error", err)
			continue
		}

		switch outcome {
		case outcomeRestored:
			report.Restored++
		case outcomePlaced:
			report.Placed++
		case outcomeAlreadyRestored:
			report.AlreadyRestored++
		case outcomeAbandoned:
			report.Abandoned++
		}
		r.markReconciled(ctx, entry.SagaID, string(outcome))
	}

	if report.Examined > 0 {
		slog.InfoContext(ctx, "reconciliation pass finished",
			"examined", report.Examined,
			"restored", report.Restored,
			"placed", report.Placed,
			"already_restored", report.AlreadyRestored,
			"abandoned", report.Abandoned,
			"failed", report.Failed,
		)
	}
	return report, nil
}

type outcome string

const (
	outcomeRestored  outcome = "stock restored"
	outcomePlaced    outcome = "order present"
	outcomeAbandoned outcome = "nothing reserved"

	outcomeAlreadyRestored outcome = "restore already applied"
)

func (r *Reconciler) reconcile(ctx context.Context, entry *sagalog.SagaLog) (outcome, error) {
	var p placement
	if err := json.Unmarshal([]byte(entry.Payload), &p); err != nil || p.ProductID == "" || p.Quantity < 1 {
		slog.WarnContext(ctx, "placement has no usable payload", "order_id", entry.SagaID)
		return outcomeAbandoned, nil
	}

	_, err := r.store.Get(ctx, r.cfg.Tables.Order, domain.OrderPartition, entry.SagaID)
	if err == nil {
		return outcomePlaced, nil
	}
	if !errors.Is(err, entitystore.ErrNotFound) {
		return "", err
	}

	if entry.Status == sagalog.StatusRestoring {
		landed, err := r.restoreLanded(ctx, entry, p.ProductID)
		if err != nil {
			return "", err
		}
		if landed {
			slog.WarnContext(ctx, "product changed after the last restore marker, not restoring again",
				"order_id", entry.SagaID, "product_id", p.ProductID, "quantity", p.Quantity)
			return outcomeAlreadyRestored, nil
		}
	} else if !reservationOutstanding(entry) {
		return outcomeAbandoned, nil
	}
	if err := restoreStock(ctx, r.store, r.log, r.cfg.Tables.Product, entry.SagaID, p.ProductID, p.Quantity); err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "restored stock of abandoned placement",
		"order_id", entry.SagaID, "product_id", p.ProductID, "quantity", p.Quantity)
	return outcomeRestored, nil
}

// restoreLanded reports whether the product has moved past the etag a
// RESTORING row recorded. An unchanged etag proves the restore did not land.
// A changed one is taken as the restore, which can also hide a concurrent
// write made while the restore was lost; giving stock back twice is the worse
// error.
func (r *Reconciler) restoreLanded(ctx context.Context, entry *sagalog.SagaLog, productID string) (bool, error) {
	row, err := r.store.Get(ctx, r.cfg.Tables.Product, domain.ProductPartition, productID)
	if err != nil {
		return false, fmt.Errorf("check restore of %s: %w", productID, err)
	}
	return string(row.ETag) != entry.Checkpoint, nil
}

// reservationOutstanding reports whether the log shows stock taken and not
// yet given back, given that no order exists.
func reservationOutstanding(entry *sagalog.SagaLog) bool {
	switch entry.Status {
	case sagalog.StatusStepDone:
		return entry.CurrentStep == reserveStockStepName
	case sagalog.StatusCompensating, sagalog.StatusFailed:
		// The order step failed after the reservation succeeded.
		return entry.CurrentStep == persistOrderStepName
	}
	return false
}

func (r *Reconciler) markReconciled(ctx context.Context, sagaID, note string) {
	entry := sagalog.NewEntry(ctx, sagaID, sagalog.StatusReconciled, "", "", []string{note})
	if err := r.log.Save(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "failed to mark placement reconciled", "order_id", sagaID, "error", err)
	}
}

// RunEvery calls Run on every tick until ctx is done.
func (r *Reconciler) RunEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "reconciliation pass failed", "error", err)
			}
		}
	}
}
