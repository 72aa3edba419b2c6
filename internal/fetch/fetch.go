package fetch

import (
	"context"
	"errors"

	"github.com/jonesrussell/spechawk/internal/domain"
)

// Fetcher is the capability contract every fetch mode implements.
type Fetcher interface {
	// Mode identifies the fetcher in the hierarchy.
	Mode() domain.FetchMode
	// Start prepares the fetcher (pools, collectors). Idempotent.
	Start(ctx context.Context) error
	// Stop releases resources. Idempotent.
	Stop(ctx context.Context) error
	// Fetch retrieves one source. Transport failures are reported inside
	// the FetchResult (status 0 + error), not as a Go error; a non-nil
	// error means the fetcher itself is unusable.
	Fetch(ctx context.Context, source domain.Source) (*domain.FetchResult, error)
}

// ErrNoResult is returned by a fetcher that produced nothing usable for a
// source; the service treats it as a trigger for mode fallback.
var ErrNoResult = errors.New("fetch: no result from fetcher")

// ErrModeUnavailable is returned when a requested fetch mode is not
// available in this build (e.g. browser-full without a browser runtime).
var ErrModeUnavailable = errors.New("fetch: mode unavailable")
