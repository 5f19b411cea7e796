package tendermint

import (
	"github.com/celer-network/oracle-updater/store"
	"github.com/celer-network/oracle-updater/types"
	"github.com/pkg/errors"
	tmdb "github.com/tendermint/tm-db"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	BackendMemDB     = "memdb"
	BackendGoLevelDB = "goleveldb"

	dbName = "oracle-updater"

	errStrCreateIter = "could not create iterator"
)

var separator = []byte("|")

// TMStore is a Store implementation using Tendermint tm-db
type TMStore struct {
	nsPending *tmdb.PrefixDB
	nsRecord  *tmdb.PrefixDB
}

var _ store.Store = (*TMStore)(nil)

// NewTMStore creates a new TMStore
func NewTMStore(db tmdb.DB) *TMStore {
	return &TMStore{
		nsPending: tmdb.NewPrefixDB(db, prefixPendingUpdate),
		nsRecord:  tmdb.NewPrefixDB(db, prefixSubmissionRecord),
	}
}

// OpenDB opens the configured backend. An empty backend means memdb.
func OpenDB(cfg types.StoreConfig) (tmdb.DB, error) {
	switch cfg.Backend {
	case "", BackendMemDB:
		return tmdb.NewMemDB(), nil
	case BackendGoLevelDB:
		if cfg.Dir == "" {
			return nil, errors.Wrap(types.ErrConfigInvalid, "goleveldb store needs a dir")
		}
		db, err := tmdb.NewDB(dbName, tmdb.GoLevelDBBackend, cfg.Dir)
		if err != nil {
			return nil, errors.Wrap(err, "could not open store")
		}
		return db, nil
	}
	return nil, errors.Wrapf(types.ErrConfigInvalid, "unknown store backend %q", cfg.Backend)
}

// get will retrieve the binary data under the given key from the DB and decode it into the given
// entity. The provided entity needs to be a pointer to an initialized entity of the correct type.
func get(db tmdb.DB, key []byte, entity interface{}) error {
	value, err := db.Get(key)
	if err != nil {
		return errors.Wrap(err, "could not get data")
	}
	if value == nil {
		return store.ErrNotFound
	}
	err = msgpack.Unmarshal(value, entity)
	if err != nil {
		return errors.Wrap(err, "could not decode data")
	}
	return nil
}

// set will encode the given entity using MessagePack and will insert the resulting binary data in
// the DB under the provided key.
func set(db tmdb.DB, key []byte, entity interface{}) error {
	val, err := msgpack.Marshal(entity)
	if err != nil {
		return errors.Wrap(err, "could not encode entity")
	}
	err = db.Set(key, val)
	if err != nil {
		return errors.Wrap(err, "could not store data")
	}
	return nil
}

func concatKeys(parts ...[]byte) []byte {
	var res []byte
	for i, p := range parts {
		if i > 0 {
			res = append(res, separator...)
		}
		res = append(res, p...)
	}
	return res
}

// prefixEnd returns the smallest key greater than every key with the prefix.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
