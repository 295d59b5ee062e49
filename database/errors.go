package database

import (
	"context"
	"errors"
	"fmt"

	"mrv/sentinel"

	"github.com/jackc/pgx/v5/pgconn"
)

// unavailable marks connection-level failures with sentinel.ErrUnavailable
// so callers can tell "database down" from "bad query". Other errors pass
// through untouched.
func unavailable(err error) error {
	if err == nil || errors.Is(err, sentinel.ErrUnavailable) {
		return err
	}
	var connectErr *pgconn.ConnectError
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &connectErr),
		pgconn.Timeout(err),
		pgconn.SafeToRetry(err):
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	return err
}
