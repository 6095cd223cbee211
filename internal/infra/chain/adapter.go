package chain

import (
	"context"

	"github.com/vietddude/suindexer/internal/core/domain"
)

// EventSource is the boundary between the indexer and the upstream ledger.
type EventSource interface {
	// QueryEvents returns up to limit events matching filter, strictly after
	// cursor (from the start of the log when cursor is nil)
	QueryEvents(
		ctx context.Context,
		filter domain.EventFilter,
		cursor *domain.EventID,
		limit int,
		order domain.Order,
	) (*domain.EventPage, error)
}
