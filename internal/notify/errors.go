package notify

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrDataStoreConflict means a conditional write lost a race. Callers
	// re-read and re-evaluate instead of retrying the same write.
	ErrDataStoreConflict = errors.New("notify: data store conflict")
	// ErrTickInProgress is returned when another tick holds the local mutex or
	// the shared lease.
	ErrTickInProgress = errors.New("notify: tick already in progress")
	// ErrLeaseLost means the tick lease could not be renewed while the tick
	// was running; dispatch stops so another instance can take over.
	ErrLeaseLost = errors.New("notify: tick lease lost")
	// ErrNotFound is returned by lookups for records that do not exist.
	ErrNotFound = errors.New("notify: not found")
)

// ErrorClass is the retry classification stored on a failed record.
type ErrorClass string

const (
	ClassTransient ErrorClass = "transient"
	ClassPermanent ErrorClass = "permanent"
)

// TransientDeliveryError wraps a send failure that may succeed on retry.
type TransientDeliveryError struct {
	Err error
}

func (e *TransientDeliveryError) Error() string {
	if e == nil || e.Err == nil {
		return "transient delivery error"
	}
	return "transient delivery error: " + e.Err.Error()
}

func (e *TransientDeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PermanentDeliveryError wraps a send failure that will never succeed.
type PermanentDeliveryError struct {
	Err error
}

func (e *PermanentDeliveryError) Error() string {
	if e == nil || e.Err == nil {
		return "permanent delivery error"
	}
	return "permanent delivery error: " + e.Err.Error()
}

func (e *PermanentDeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientDeliveryError{Err: err}
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentDeliveryError{Err: err}
}

// IsPermanent reports whether err carries a PermanentDeliveryError.
func IsPermanent(err error) bool {
	var perm *PermanentDeliveryError
	return errors.As(err, &perm)
}

// IsTransient reports whether err will be retried. Unclassified errors are
// treated as transient.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}

// Classify maps a send error to its retry class.
func Classify(err error) ErrorClass {
	if IsPermanent(err) {
		return ClassPermanent
	}
	return ClassTransient
}

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate key") ||
		strings.Contains(lower, "duplicate entry")
}
