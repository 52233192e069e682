package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"boxoffice/internal/shared/apperr"
	"boxoffice/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrorClass is a store-agnostic classification of a persistence error.
type ErrorClass int

const (
	ErrorClassFatal ErrorClass = iota
	ErrorClassRetryable
	ErrorClassConstraint
	ErrorClassBusiness
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassConstraint:
		return "constraint"
	case ErrorClassBusiness:
		return "business"
	default:
		return "fatal"
	}
}

// ClassifyError decides whether a failed transaction is worth replaying.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassFatal
	}
	if apperr.IsBusiness(err) {
		return ErrorClassBusiness
	}
	if apperr.IsKind(err, apperr.KindTransient) {
		return ErrorClassRetryable
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return ErrorClassConstraint
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassFatal
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrorClassRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassRetryable
	}
	if pgconn.SafeToRetry(err) {
		return ErrorClassRetryable
	}
	return ErrorClassFatal
}

func classifySQLState(code string) ErrorClass {
	switch {
	case strings.HasPrefix(code, "40"): // serialization_failure, deadlock_detected
		return ErrorClassRetryable
	case strings.HasPrefix(code, "08"): // connection exceptions
		return ErrorClassRetryable
	case code == "55P03", code == "57P01", code == "57P02", code == "57P03":
		return ErrorClassRetryable
	case strings.HasPrefix(code, "23"):
		return ErrorClassConstraint
	}
	return ErrorClassFatal
}

// RetryPolicy bounds how often a transaction is replayed after a retryable failure.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// Delay returns min(MaxDelay, 2^attempt*BaseDelay) with ±12.5% jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	exp := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if exp > float64(p.MaxDelay) {
		exp = float64(p.MaxDelay)
	}
	jitter := exp * 0.25 * (rand.Float64() - 0.5)
	return time.Duration(exp + jitter)
}

// TxRunner executes units of work inside a gorm transaction and replays them
// when the store reports a retryable failure.
type TxRunner struct {
	policy   RetryPolicy
	log      *logger.Logger
	transact func(ctx context.Context, fn func(tx *gorm.DB) error) error
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewTxRunner(db *gorm.DB, policy RetryPolicy, log *logger.Logger) *TxRunner {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &TxRunner{
		policy: policy,
		log:    log,
		transact: func(ctx context.Context, fn func(tx *gorm.DB) error) error {
			return db.WithContext(ctx).Transaction(fn)
		},
		sleep: sleepContext,
	}
}

// Run executes fn in a transaction. Business errors are returned untouched;
// retryable errors are replayed and surface as apperr.Transient once exhausted.
func (r *TxRunner) Run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	txID := "txn_" + uuid.NewString()[:8]

	for attempt := 1; ; attempt++ {
		started := time.Now()
		err := r.transact(ctx, fn)
		if err == nil {
			r.log.DebugContext(ctx, "Transaction committed",
				slog.String("tx_id", txID),
				slog.Int("attempt", attempt),
				slog.Duration("duration", time.Since(started)),
			)
			return nil
		}

		class := ClassifyError(err)
		if class != ErrorClassRetryable {
			if class != ErrorClassBusiness {
				r.log.ErrorContext(ctx, "Transaction failed",
					slog.String("tx_id", txID),
					slog.Int("attempt", attempt),
					slog.String("class", class.String()),
					slog.String("error", err.Error()),
				)
			}
			return err
		}
		if attempt >= r.policy.MaxAttempts {
			r.log.ErrorContext(ctx, "Transaction failed after retries",
				slog.String("tx_id", txID),
				slog.Int("attempts", attempt),
				slog.String("error", err.Error()),
			)
			return apperr.Transient("tx_retries_exhausted", err)
		}

		delay := r.policy.Delay(attempt)
		r.log.WarnContext(ctx, "Transaction retry scheduled",
			slog.String("tx_id", txID),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.policy.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
