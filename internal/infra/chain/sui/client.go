package sui

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/suindexer/internal/core/domain"
	"github.com/vietddude/suindexer/internal/infra/chain"
	"github.com/vietddude/suindexer/internal/infra/rpc/provider"
)

// MaxPageSize is the largest page suix_queryEvents will return.
const MaxPageSize = 50

const methodQueryEvents = "suix_queryEvents"

// Client is a typed Sui JSON-RPC client over a generic provider.
type Client struct {
	provider provider.Provider
}

var _ chain.EventSource = (*Client)(nil)

// NewClient creates a new Sui client.
func NewClient(p provider.Provider) *Client {
	return &Client{provider: p}
}

// QueryEvents calls suix_queryEvents(query, cursor, limit, descending_order).
func (c *Client) QueryEvents(
	ctx context.Context,
	filter domain.EventFilter,
	cursor *domain.EventID,
	limit int,
	order domain.Order,
) (*domain.EventPage, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}

	// A nil cursor must be sent as JSON null, not an empty object
	var cursorParam any
	if cursor != nil {
		cursorParam = cursor
	}

	raw, err := c.provider.Call(ctx, methodQueryEvents, []any{
		filter,
		cursorParam,
		limit,
		order == domain.OrderDescending,
	})
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	var page domain.EventPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode events page: %w", err)
	}
	return &page, nil
}

// PackageEventType returns the fully qualified Move event type
// "<package>::<module>::<event>".
func PackageEventType(packageID, module, event string) string {
	return fmt.Sprintf("%s::%s::%s", packageID, module, event)
}
