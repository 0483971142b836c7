package vector

import (
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Record is the persisted form of one indexed chunk.
type Record struct {
	Chunk      Chunk     `msgpack:"chunk"`
	Embedding  []float32 `msgpack:"embedding"`
	Seq        uint64    `msgpack:"seq"`
	UploadedAt time.Time `msgpack:"uploaded_at"`
}

// Snapshotter persists index records.
type Snapshotter interface {
	Put(r Record) error
	Delete(chunkIDs ...string) error
	// Load calls fn for every stored record in key order.
	Load(fn func(Record) error) error
	Close() error
}

const chunkKeyPrefix = "chunk/"

// BadgerSnapshot stores records in a badger database, one key per chunk.
type BadgerSnapshot struct {
	db *badger.DB
}

var _ Snapshotter = (*BadgerSnapshot)(nil)

// OpenBadgerSnapshot opens (or creates) the database in dir. An empty dir
// runs badger in memory, which is only useful in tests.
func OpenBadgerSnapshot(dir string) (*BadgerSnapshot, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{slog.With("component", "badger")})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot at %q: %w", dir, err)
	}
	return &BadgerSnapshot{db: db}, nil
}

// Put implements Snapshotter.
func (s *BadgerSnapshot) Put(r Record) error {
	val, err := msgpack.Marshal(&r)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(chunkKeyPrefix+r.Chunk.ID), val)
	})
}

// Delete implements Snapshotter. Missing keys are ignored.
func (s *BadgerSnapshot) Delete(chunkIDs ...string) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range chunkIDs {
		if err := wb.Delete([]byte(chunkKeyPrefix + id)); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Load implements Snapshotter.
func (s *BadgerSnapshot) Load(fn func(Record) error) error {
	prefix := []byte(chunkKeyPrefix)
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var r Record
			err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &r)
			})
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", item.Key(), err)
			}
			if err := fn(r); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close implements Snapshotter.
func (s *BadgerSnapshot) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger output through slog, dropping its chatty
// info and debug lines.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.logger.Error(fmt.Sprintf(f, v...)) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.logger.Warn(fmt.Sprintf(f, v...)) }
func (badgerLogger) Infof(string, ...interface{})          {}
func (badgerLogger) Debugf(string, ...interface{})         {}
