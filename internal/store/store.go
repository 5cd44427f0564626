// Package store persists validation results and confirmation records.
//
// Two implementations share one contract: Memory for tests, the CLI and
// deployments without a database, and Postgres backed by a pgx pool.
package store

import (
	"context"
	"errors"

	"github.com/JonMunkholm/addrintel/internal/address"
	"github.com/JonMunkholm/addrintel/internal/confirm"
)

// ErrResultNotFound is returned for unknown result ids.
var ErrResultNotFound = errors.New("validation result not found")

// Store is the persistence contract used by the service.
type Store interface {
	SaveResult(ctx context.Context, res *address.Result) error
	// Result returns ErrResultNotFound for unknown ids.
	Result(ctx context.Context, id string) (*address.Result, error)

	// Tally counts the stored results.
	Tally(ctx context.Context) (Tally, error)

	confirm.Store

	Close()
}

// Tally summarizes stored results.
type Tally struct {
	Total    int
	Complete int
	// ByModel counts results per interpreter model. Results without a
	// model are counted under "unknown".
	ByModel map[string]int
}

// UnknownModel is the ByModel key for results that name no model.
const UnknownModel = "unknown"

func modelKey(model string) string {
	if model == "" {
		return UnknownModel
	}
	return model
}
