package store

import (
	"github.com/celer-network/oracle-updater/store/models"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when no entity exists under the requested key.
	ErrNotFound = errors.New("not found")
)

// Store persists in-flight updates so a restarted worker can resume tracking
// them, plus a bounded history of submission outcomes per batch.
type Store interface {
	PutPendingUpdate(update *models.PendingUpdate) error
	GetPendingUpdate(chain, batchID string) (*models.PendingUpdate, error)
	DeletePendingUpdate(chain, batchID string) error
	// GetPendingUpdates returns every persisted pending update across chains.
	GetPendingUpdates() ([]*models.PendingUpdate, error)

	PutSubmissionRecord(record *models.SubmissionRecord) error
	// GetSubmissionRecords returns the newest records first, at most limit.
	GetSubmissionRecords(chain, batchID string, limit int) ([]*models.SubmissionRecord, error)
}
