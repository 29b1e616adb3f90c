package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/lib/pq"
)

// ErrNotConnected is returned when the client is used before Connect
var ErrNotConnected = errors.New("postgres client not connected")

const uniqueViolation = "23505"

// transientCodes are SQLSTATE codes worth retrying the whole transaction for
var transientCodes = map[pq.ErrorCode]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57P01": true, // admin_shutdown
	"57P03": true, // cannot_connect_now
	"53300": true, // too_many_connections
}

// IsUniqueViolation reports whether err is a unique constraint violation,
// optionally restricted to the named constraint or index.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// IsTransient reports whether err is a failure that a retry of the whole
// transaction may resolve: lost connections, lock timeouts, deadlocks and
// serialization failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08: connection exception
		if strings.HasPrefix(string(pqErr.Code), "08") {
			return true
		}
		return transientCodes[pqErr.Code]
	}

	return false
}
