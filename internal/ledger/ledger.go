// Package ledger stores the platform's append-only gift transaction records.
//
// Gift, fee, top-up and cash-out flows append records here; the analysis
// service reads snapshots back out. Records are never updated. The only
// deletion is the janitor's purge of abandoned pending records.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mbd888/giftguard/internal/fraud"
	"github.com/mbd888/giftguard/internal/idgen"
	"github.com/mbd888/giftguard/internal/metrics"
	"github.com/mbd888/giftguard/internal/pagination"
	"github.com/mbd888/giftguard/internal/validation"
)

var (
	ErrDuplicateRecord = errors.New("ledger: record already exists")
	ErrRecordNotFound  = errors.New("ledger: record not found")
)

// Store persists ledger records.
type Store interface {
	// Append stores rec. Returns ErrDuplicateRecord if the id is taken.
	Append(ctx context.Context, rec *fraud.RawTransaction) error
	Get(ctx context.Context, id string) (*fraud.RawTransaction, error)
	// List returns up to limit records newest first, starting after cursor.
	List(ctx context.Context, cursor *pagination.Cursor, limit int) ([]*fraud.RawTransaction, error)
	// Snapshot returns the newest limit records, oldest first. A limit <= 0
	// yields an empty, non-nil slice.
	Snapshot(ctx context.Context, limit int) ([]fraud.RawTransaction, error)
	Count(ctx context.Context) (int, error)
	// DeletePendingBefore removes pending records created before cutoffMs.
	DeletePendingBefore(ctx context.Context, cutoffMs int64) (int, error)
}

// Ledger validates and appends records.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New creates a new ledger
func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Record validates rec, fills in a missing id and timestamp, and appends it.
// Validation failures are returned as validation.ValidationErrors.
func (l *Ledger) Record(ctx context.Context, rec fraud.RawTransaction) (*fraud.RawTransaction, error) {
	rec.Amount = strings.TrimSpace(rec.Amount)
	if errs := validateRecord(&rec); len(errs) > 0 {
		return nil, errs
	}

	if rec.ID == "" {
		rec.ID = idgen.WithPrefix(idgen.PrefixTransaction)
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = l.now().UnixMilli()
	}
	if rec.TxHash != "" {
		rec.TxHash = validation.NormalizeTxHash(rec.TxHash)
	}

	if err := l.store.Append(ctx, &rec); err != nil {
		return nil, err
	}
	metrics.LedgerRecordsTotal.WithLabelValues(string(rec.Type)).Inc()
	return &rec, nil
}

func validateRecord(rec *fraud.RawTransaction) validation.ValidationErrors {
	return validation.Validate(
		validation.MaxLength("_id", rec.ID, validation.MaxIDLength),
		validation.ValidAmount("amount", rec.Amount),
		validation.Required("owner", rec.Owner),
		validation.MaxLength("owner", rec.Owner, validation.MaxIDLength),
		validation.MaxLength("senderId", rec.SenderID, validation.MaxIDLength),
		validation.MaxLength("receiverId", rec.ReceiverID, validation.MaxIDLength),
		validation.Check("status", rec.Status.Valid(), "must be one of pending, completed, failed"),
		validation.Check("type", rec.Type.Valid(), "must be one of gift-give, gift-receive, fee, top-up, cash-out"),
		validation.Check("createdAt", rec.CreatedAt >= 0, "must not be negative"),
		validation.ValidTxHash("txHash", rec.TxHash),
	)
}

// Get returns a single record.
func (l *Ledger) Get(ctx context.Context, id string) (*fraud.RawTransaction, error) {
	return l.store.Get(ctx, id)
}

// List pages through records newest first.
func (l *Ledger) List(ctx context.Context, cursor *pagination.Cursor, limit int) ([]*fraud.RawTransaction, error) {
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	return l.store.List(ctx, cursor, limit)
}

// Snapshot returns the newest limit records in chronological order.
func (l *Ledger) Snapshot(ctx context.Context, limit int) ([]fraud.RawTransaction, error) {
	return l.store.Snapshot(ctx, limit)
}

// Count returns the number of stored records.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	return l.store.Count(ctx)
}

// PurgeStalePending deletes pending records older than maxAge.
func (l *Ledger) PurgeStalePending(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := l.now().Add(-maxAge).UnixMilli()
	n, err := l.store.DeletePendingBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.PendingPurgedTotal.Add(float64(n))
	return n, nil
}
