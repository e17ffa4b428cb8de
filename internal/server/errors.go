package server

import (
	"errors"

	"github.com/raventid/go-pupa-server/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen     = errors.New("listen")
	ErrAccept     = errors.New("accept")
	ErrAuth       = errors.New("auth")
	ErrConnRead   = errors.New("conn_read")
	ErrConnWrite  = errors.New("conn_write")
	ErrAdminRead  = errors.New("admin_read")
	ErrAdminWrite = errors.New("admin_write")
	ErrContext    = errors.New("context_cancelled")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead):
		return metrics.ErrGameRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrGameWrite
	case errors.Is(err, ErrAdminRead):
		return metrics.ErrAdminRead
	case errors.Is(err, ErrAdminWrite):
		return metrics.ErrAdminWrite
	case errors.Is(err, ErrAuth):
		return metrics.ErrAuth
	case errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return metrics.ErrAccept
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}
