package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/vietddude/suindexer/internal/core/domain"
	"github.com/vietddude/suindexer/internal/infra/storage"
)

// PropertyCreated is the event type key for property::PropertyCreated.
const PropertyCreated domain.EventType = "PropertyCreated"

// ErrUnknownVariant is returned for a property_type outside ROOM/APARTMENT/HOUSE.
var ErrUnknownVariant = fmt.Errorf("%w: unknown property type variant", ErrMalformedEvent)

// u64 decodes a Move u64, which Sui renders as a decimal string.
type u64 uint64

func (v *u64) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid u64 %q: %w", b, err)
	}
	*v = u64(n)
	return nil
}

// variant decodes a Move enum either as {"variant": "ROOM", ...} or as "ROOM".
type variant string

func (v *variant) UnmarshalJSON(b []byte) error {
	var obj struct {
		Variant string `json:"variant"`
	}
	if err := json.Unmarshal(b, &obj); err == nil {
		*v = variant(obj.Variant)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid enum %s", b)
	}
	*v = variant(s)
	return nil
}

type propertyCreatedEvent struct {
	PropertyID   string  `json:"property_id"`
	Owner        string  `json:"owner"`
	PricePerDay  u64     `json:"price_per_day"`
	PropertyType variant `json:"property_type"`
	NumRooms     u64     `json:"num_rooms"`
}

func parsePropertyType(v variant) (domain.PropertyType, error) {
	switch v {
	case "ROOM":
		return domain.PropertyTypeRoom, nil
	case "APARTMENT":
		return domain.PropertyTypeApartment, nil
	case "HOUSE":
		return domain.PropertyTypeHouse, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownVariant, v)
	}
}

// DecodeProperty maps a PropertyCreated payload onto a projection row.
func DecodeProperty(ev *domain.Event) (*domain.Property, error) {
	var data propertyCreatedEvent
	if err := json.Unmarshal(ev.ParsedJSON, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if data.PropertyID == "" || data.Owner == "" {
		return nil, fmt.Errorf("%w: missing property_id or owner", ErrMalformedEvent)
	}

	// Projection columns are signed 64-bit
	if data.PricePerDay > math.MaxInt64 || data.NumRooms > math.MaxInt64 {
		return nil, fmt.Errorf("%w: price_per_day or num_rooms exceeds %d", ErrMalformedEvent, int64(math.MaxInt64))
	}

	kind, err := parsePropertyType(data.PropertyType)
	if err != nil {
		return nil, err
	}

	createdAt := ev.Timestamp()
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return &domain.Property{
		ID:           data.PropertyID,
		Owner:        data.Owner,
		PricePerDay:  uint64(data.PricePerDay),
		PropertyType: kind,
		NumRooms:     uint64(data.NumRooms),
		TxDigest:     ev.ID.TxDigest,
		CreatedAt:    createdAt,
	}, nil
}

// NewPropertyCreated builds the processor for <packageID>::property::PropertyCreated.
func NewPropertyCreated(packageID string, logger *slog.Logger) *Processor {
	logger = logger.With("component", "processor", "event_type", string(PropertyCreated))

	return &Processor{
		EventType: PropertyCreated,
		Filter:    domain.MoveEventTypeFilter(packageID + "::property::PropertyCreated"),
		Process: func(ctx context.Context, ev *domain.Event, tx storage.Tx) error {
			property, err := DecodeProperty(ev)
			if err != nil {
				return err
			}

			exists, err := tx.Properties().Exists(ctx, property.ID)
			if err != nil {
				return err
			}
			if exists {
				logger.Debug("Property already exists, skipping", "property_id", property.ID)
				return nil
			}

			if err := tx.Properties().Insert(ctx, property); err != nil {
				return err
			}
			logger.Debug("Created property", "property_id", property.ID, "owner", property.Owner)
			return nil
		},
	}
}
