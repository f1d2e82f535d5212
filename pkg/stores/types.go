package stores

import (
	"context"
	"errors"
	"time"

	"github.com/techblog/sasscfg/pkg/config"
)

// ErrNotFound is returned when a snapshot lookup matches nothing.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is a stored copy of a settings record.
type Snapshot struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"`
	Format    config.Format   `json:"format"`
	Digest    string          `json:"digest"`
	Project   *config.Project `json:"project"`
	Explicit  []string        `json:"explicit"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventRecord is a persisted telemetry event.
type EventRecord struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the snapshot history.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Snapshot operations
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
	LatestSnapshot(ctx context.Context, source string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, source string, limit int) ([]*Snapshot, error)
	PruneSnapshots(ctx context.Context, source string, keep int) (int64, error)

	// Event operations
	AppendEvent(ctx context.Context, event *EventRecord) error
	ListEvents(ctx context.Context, source string, limit int) ([]*EventRecord, error)
}

// NewSnapshot captures a loaded config. The record is cloned so later
// changes to lc do not leak into the snapshot.
func NewSnapshot(lc *config.LoadedConfig, note string) *Snapshot {
	return &Snapshot{
		Source:   lc.Source,
		Format:   lc.Format,
		Digest:   lc.Digest,
		Project:  lc.Project.Clone(),
		Explicit: lc.ExplicitKeys(),
		Note:     note,
	}
}
