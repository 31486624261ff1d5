package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/kbingest/storage"
	"github.com/timshannon/badgerhold/v4"
)

// gcDiscardRatio is the share of stale data a value log file needs before
// Compact rewrites it.
const gcDiscardRatio = 0.5

// Backend owns the badgerhold store shared by the repositories and the
// embedded vector index.
type Backend struct {
	store  *badgerhold.Store
	logger *slog.Logger
}

// slogAdapter routes badger's printf-style logging into slog. Badger's info
// chatter is demoted to debug.
type slogAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = slogAdapter{}

func (a slogAdapter) logf(level slog.Level, format string, args []any) {
	if !a.logger.Enabled(context.Background(), level) {
		return
	}
	a.logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (a slogAdapter) Errorf(format string, args ...any)   { a.logf(slog.LevelError, format, args) }
func (a slogAdapter) Warningf(format string, args ...any) { a.logf(slog.LevelWarn, format, args) }
func (a slogAdapter) Infof(format string, args ...any)    { a.logf(slog.LevelDebug, format, args) }
func (a slogAdapter) Debugf(format string, args ...any)   { a.logf(slog.LevelDebug, format, args) }

// OpenBackend opens the database directory at path, creating it when
// missing. With inMemory set the path is ignored. Writes are synced so run
// checkpoints survive a crash.
func OpenBackend(path string, inMemory bool) (*Backend, error) {
	opts := badgerhold.DefaultOptions
	if inMemory {
		opts.InMemory = true
	} else {
		if err := prepareDir(path); err != nil {
			return nil, err
		}
		opts.Dir, opts.ValueDir = path, path
	}

	logger := slog.Default().With("component", "badger")
	opts.Logger = slogAdapter{logger: logger}
	opts.Compression = options.None
	opts.SyncWrites = true

	store, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %q: %w", path, err)
	}
	return &Backend{store: store, logger: logger}, nil
}

func prepareDir(path string) error {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return os.MkdirAll(path, 0755)
	case err != nil:
		return err
	case !info.IsDir():
		return fmt.Errorf("storage path %s is not a directory", path)
	}
	return nil
}

func (b *Backend) Close() error {
	return b.store.Close()
}

func (b *Backend) IsClosed() bool {
	return b.store.Badger().IsClosed()
}

// Store exposes the badgerhold store for typed queries.
func (b *Backend) Store() *badgerhold.Store {
	return b.store
}

// WithTx runs fn in a read-write transaction when write is set and a
// read-only one otherwise. A write transaction commits only if fn returns
// nil.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, write bool) error {
	if b.IsClosed() {
		return storage.ErrStorageClosed
	}
	db := b.store.Badger()
	if write {
		return translate(db.Update(fn))
	}
	return translate(db.View(fn))
}

// Compact reclaims value log space left behind by bulk deletes. It rewrites
// files until badger reports nothing left to collect and returns how many
// files were rewritten. In-memory databases have nothing to compact.
func (b *Backend) Compact(ctx context.Context) (int, error) {
	if b.IsClosed() {
		return 0, storage.ErrStorageClosed
	}
	rewritten := 0
	for {
		if err := ctx.Err(); err != nil {
			return rewritten, err
		}
		err := b.store.Badger().RunValueLogGC(gcDiscardRatio)
		switch {
		case err == nil:
			rewritten++
		case errors.Is(err, badger.ErrNoRewrite),
			errors.Is(err, badger.ErrGCInMemoryMode),
			errors.Is(err, badger.ErrRejected):
			if rewritten > 0 {
				b.logger.Debug("value log compacted", "files", rewritten)
			}
			return rewritten, nil
		default:
			return rewritten, translate(err)
		}
	}
}

// translate maps badger and badgerhold errors onto storage sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badgerhold.ErrNotFound), errors.Is(err, badger.ErrKeyNotFound):
		return storage.ErrNotFound
	case errors.Is(err, badgerhold.ErrKeyExists):
		return storage.ErrDuplicateKey
	case errors.Is(err, badger.ErrDBClosed):
		return storage.ErrStorageClosed
	}
	return err
}
