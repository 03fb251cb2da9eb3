package out

import (
	"context"

	"inbox_server/core/domain"
)

// FlagCache holds recent email classifications. Implementations bound both
// entry count and age.
type FlagCache interface {
	// Get returns ok=false on a miss.
	Get(ctx context.Context, emailID string) (domain.FlaggedEmail, bool, error)
	Set(ctx context.Context, entry domain.FlaggedEmail) error
}
