package xloop

import (
	"strconv"
	"time"
)

// Category names a family of related events (the "base" of an event).
type Category string

// EventID discriminates events within a Category. Zero is a valid id.
type EventID int32

const (
	// AnyCategory matches every category when used for registration.
	AnyCategory Category = "*"
	// AnyID matches every id within the registered category.
	AnyID EventID = -1
)

func (id EventID) String() string { return strconv.FormatInt(int64(id), 10) }

// Event is the record traveling through the loop.
type Event struct {
	// Category is the event family.
	Category Category
	// ID is the sub-identifier within Category.
	ID EventID
	// Payload holds the opaque event data. The bus never interprets it.
	Payload []byte
	// PostedAt is stamped from the bus clock when the event is posted.
	PostedAt time.Time
}

// Size returns the payload size declared by the producer.
func (e *Event) Size() int { return len(e.Payload) }

// Matches reports whether a registration for (cat, id) receives e.
func (e *Event) Matches(cat Category, id EventID) bool {
	if cat != AnyCategory && cat != e.Category {
		return false
	}
	return id == AnyID || id == e.ID
}

// ValidKey checks a registration key. Wildcards are accepted.
func ValidKey(cat Category, id EventID) error {
	if cat == "" {
		return ErrInvalidCategory
	}
	if id < AnyID {
		return ErrInvalidEventID
	}
	return nil
}

// ValidEvent checks a posted key. Wildcards cannot be posted.
func ValidEvent(cat Category, id EventID) error {
	if cat == "" || cat == AnyCategory {
		return ErrInvalidCategory
	}
	if id < 0 {
		return ErrInvalidEventID
	}
	return nil
}
