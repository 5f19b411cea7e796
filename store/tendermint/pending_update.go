package tendermint

import (
	"github.com/celer-network/oracle-updater/store/models"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const errStrDecodePendingUpdate = "could not decode pending update"

var prefixPendingUpdate = []byte("pu")

func pendingUpdateKey(chain, batchID string) []byte {
	return concatKeys([]byte(chain), []byte(batchID))
}

func (store *TMStore) PutPendingUpdate(update *models.PendingUpdate) error {
	return set(store.nsPending, pendingUpdateKey(update.Chain, update.BatchID), update)
}

func (store *TMStore) GetPendingUpdate(chain, batchID string) (*models.PendingUpdate, error) {
	var update models.PendingUpdate
	if err := get(store.nsPending, pendingUpdateKey(chain, batchID), &update); err != nil {
		return nil, err
	}
	return &update, nil
}

func (store *TMStore) DeletePendingUpdate(chain, batchID string) error {
	return store.nsPending.Delete(pendingUpdateKey(chain, batchID))
}

func (store *TMStore) GetPendingUpdates() ([]*models.PendingUpdate, error) {
	iter, err := store.nsPending.Iterator(nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, errStrCreateIter)
	}
	defer iter.Close()

	var updates []*models.PendingUpdate
	for ; iter.Valid(); iter.Next() {
		var update models.PendingUpdate
		if err := msgpack.Unmarshal(iter.Value(), &update); err != nil {
			return nil, errors.Wrap(err, errStrDecodePendingUpdate)
		}
		updates = append(updates, &update)
	}
	return updates, errors.Wrap(iter.Error(), "iteration failed")
}
