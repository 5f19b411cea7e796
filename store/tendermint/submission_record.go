package tendermint

import (
	"encoding/binary"

	"github.com/celer-network/oracle-updater/store/models"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const errStrDecodeSubmissionRecord = "could not decode submission record"

var prefixSubmissionRecord = []byte("sr")

func submissionRecordPrefix(chain, batchID string) []byte {
	return append(concatKeys([]byte(chain), []byte(batchID)), separator...)
}

func (store *TMStore) PutSubmissionRecord(record *models.SubmissionRecord) error {
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(record.Recorded.UnixNano()))
	key := append(submissionRecordPrefix(record.Chain, record.BatchID), ts...)
	key = append(key, record.ID[:]...)
	return set(store.nsRecord, key, record)
}

func (store *TMStore) GetSubmissionRecords(chain, batchID string, limit int) ([]*models.SubmissionRecord, error) {
	prefix := submissionRecordPrefix(chain, batchID)
	iter, err := store.nsRecord.ReverseIterator(prefix, prefixEnd(prefix))
	if err != nil {
		return nil, errors.Wrap(err, errStrCreateIter)
	}
	defer iter.Close()

	var records []*models.SubmissionRecord
	for ; iter.Valid() && (limit <= 0 || len(records) < limit); iter.Next() {
		var record models.SubmissionRecord
		if err := msgpack.Unmarshal(iter.Value(), &record); err != nil {
			return nil, errors.Wrap(err, errStrDecodeSubmissionRecord)
		}
		records = append(records, &record)
	}
	return records, errors.Wrap(iter.Error(), "iteration failed")
}
