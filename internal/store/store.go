package store

import (
	"errors"
	"time"

	"github.com/you/streamalerts/internal/core"
)

// ErrNotFound is returned when a named record does not exist.
var ErrNotFound = errors.New("store: not found")

// Record is one durable name/value entry with a write timestamp.
type Record struct {
	Name      string
	Value     string
	UpdatedAt time.Time
}

// Store is the persistence collaborator for credential material. Writes are
// last-write-wins keyed by name.
type Store interface {
	Get(name string) (Record, error)
	Put(name, value string) error
	List() ([]Record, error)
}

// AlertLog keeps a history of published alerts for the listing endpoint.
type AlertLog interface {
	Append(ev core.AlertEvent) error
	ListRecent(limit int) ([]core.AlertEvent, error)
	Count() (int64, error)
}
