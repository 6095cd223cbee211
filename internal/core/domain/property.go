package domain

import "time"

// PropertyType mirrors the on-chain enum variant.
type PropertyType int

const (
	PropertyTypeRoom PropertyType = iota
	PropertyTypeApartment
	PropertyTypeHouse
)

func (t PropertyType) String() string {
	switch t {
	case PropertyTypeRoom:
		return "ROOM"
	case PropertyTypeApartment:
		return "APARTMENT"
	case PropertyTypeHouse:
		return "HOUSE"
	default:
		return "UNKNOWN"
	}
}

// Property is the projection row built from PropertyCreated events.
type Property struct {
	ID           string       `json:"id"`
	Owner        string       `json:"owner"`
	PricePerDay  uint64       `json:"price_per_day"`
	PropertyType PropertyType `json:"property_type"`
	NumRooms     uint64       `json:"num_rooms"`
	TxDigest     string       `json:"tx_digest"`
	CreatedAt    time.Time    `json:"created_at"`
}
