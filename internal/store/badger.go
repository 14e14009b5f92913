package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v2"

	"github.com/recera/scattershare/pkg/kv"
)

// Key layout inside the badger database.
const (
	badgerValuePrefix  = "kv/"
	badgerHandlePrefix = "handle/"
	badgerHandleSeq    = "seq/handle"
)

// BadgerConfig configures a badger-backed store.
type BadgerConfig struct {
	Dir string
	// InMemory keeps everything in RAM; Dir is ignored.
	InMemory     bool
	MaxAge       time.Duration // lifetime of plain kv entries, <= 0 for none
	HandleMaxAge time.Duration // lifetime of shared payloads, <= 0 for none
	// GCInterval runs value log garbage collection, <= 0 disables it.
	GCInterval time.Duration
	Logger     *slog.Logger
}

// Badger is a store on top of a badger database. Expiry is left to badger's
// per-entry TTL.
type Badger struct {
	db  *badger.DB
	seq *badger.Sequence
	log *slog.Logger

	maxAge       time.Duration
	handleMaxAge time.Duration

	stopCh    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// OpenBadger opens or creates a badger store.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, errors.New("store: badger needs a directory")
	}
	log := cfg.Logger.With("comp", "badger", "dir", cfg.Dir)

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	db, err := badger.Open(opts.WithLogger(badgerLogger{log}))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	seq, err := db.GetSequence([]byte(badgerHandleSeq), 16)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open handle sequence: %w", err)
	}

	b := &Badger{
		db:           db,
		seq:          seq,
		log:          log,
		maxAge:       cfg.MaxAge,
		handleMaxAge: cfg.HandleMaxAge,
		stopCh:       make(chan struct{}),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		go b.gcLoop(cfg.GCInterval)
	}
	return b, nil
}

// Get implements kv.Store.
func (b *Badger) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, kv.Wrap("get", key, err)
	}
	data, err := b.read(badgerValuePrefix + key)
	return data, kv.Wrap("get", key, err)
}

// Set implements kv.Store.
func (b *Badger) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return kv.Wrap("set", key, err)
	}
	return kv.Wrap("set", key, b.write(badgerValuePrefix+key, value, b.maxAge))
}

// Remove implements kv.Store.
func (b *Badger) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return kv.Wrap("remove", key, err)
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerValuePrefix + key))
	})
	return kv.Wrap("remove", key, err)
}

// Keys implements kv.Lister.
func (b *Badger) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, kv.Wrap("keys", prefix, err)
	}
	full := []byte(badgerValuePrefix + prefix)

	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(full); it.ValidForPrefix(full); it.Next() {
			k := string(it.Item().Key())
			keys = append(keys, strings.TrimPrefix(k, badgerValuePrefix))
		}
		return nil
	})
	if err != nil {
		return nil, kv.Wrap("keys", prefix, err)
	}
	return keys, nil
}

// Put implements kv.HandleStore. Handles are decimal integers from 1.
func (b *Badger) Put(ctx context.Context, payload []byte) (kv.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", kv.Wrap("put", "", err)
	}
	n, err := b.seq.Next()
	if err != nil {
		return "", kv.Wrap("put", "", err)
	}
	h := kv.Handle(strconv.FormatUint(n+1, 10))
	if err := b.write(badgerHandlePrefix+string(h), payload, b.handleMaxAge); err != nil {
		return "", kv.Wrap("put", string(h), err)
	}
	return h, nil
}

// Fetch implements kv.HandleStore.
func (b *Badger) Fetch(ctx context.Context, h kv.Handle) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, kv.Wrap("fetch", string(h), err)
	}
	data, err := b.read(badgerHandlePrefix + string(h))
	return data, kv.Wrap("fetch", string(h), err)
}

// Close releases the handle sequence and closes the database.
func (b *Badger) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		if err := b.seq.Release(); err != nil {
			b.log.Warn("failed to release handle sequence", "err", err)
		}
		b.closeErr = b.db.Close()
	})
	return b.closeErr
}

func (b *Badger) read(key string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, kv.ErrNotFound
	}
	return data, err
}

func (b *Badger) write(key string, value []byte, ttl time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (b *Badger) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// One rewrite per tick; ErrNoRewrite just means nothing to do.
			if err := b.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.log.Debug("value log gc", "err", err)
			}
		case <-b.stopCh:
			return
		}
	}
}

// badgerLogger routes badger's logging into slog. Badger is chatty at info
// level, so info is logged as debug.
type badgerLogger struct{ log *slog.Logger }

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
