package ledger

import (
	"time"

	"github.com/starford/sensorhub/internal/models"
)

// Ledger is the history the driver, publisher, and read surfaces share.
// Consumers depend on this interface rather than *DB so tests can swap in
// fakes.
type Ledger interface {
	UpsertRecord(sensor string, rec models.Record, seenAt time.Time) (bool, error)
	GetRecord(sensor string, k models.Key) (*RecordRow, error)
	ListRecords(sensor string, limit, offset int) ([]RecordRow, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	DeleteSensor(sensor string) error

	MarkPublished(sensor string, k models.Key, postID, postURL string) (*Publication, error)
	Publication(sensor string, k models.Key) (*Publication, error)
	Publications(sensor string) ([]Publication, error)
	DeletePublications(sensor string) error

	Cursor(sensor string) (models.Key, bool, error)
	SetCursor(sensor string, k models.Key) error

	Close() error
}

var _ Ledger = (*DB)(nil)
