package main

import (
	"fmt"
	"log/slog"

	"github.com/recera/scattershare/internal/config"
	"github.com/recera/scattershare/internal/store"
	"github.com/recera/scattershare/pkg/kv"
)

// backend is the storage every command shares: plain keys for chunk
// reassembly and handles for stored shares.
type backend interface {
	kv.Store
	kv.HandleStore
	Close() error
}

// memoryBackend gives kv.Memory a Close.
type memoryBackend struct{ *kv.Memory }

func (memoryBackend) Close() error { return nil }

func openBackend(cfg *config.Config, log *slog.Logger) (backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return memoryBackend{kv.NewMemory()}, nil

	case config.BackendBadger:
		b, err := store.OpenBadger(store.BadgerConfig{
			Dir:          cfg.Storage.Dir,
			MaxAge:       cfg.Storage.MaxAge,
			HandleMaxAge: cfg.Storage.HandleMaxAge,
			GCInterval:   cfg.Storage.CleanupInterval,
			Logger:       log,
		})
		if err != nil {
			return nil, err
		}
		return b, nil

	case config.BackendFile:
		sc := cfg.StoreConfig()
		sc.Logger = log
		s, err := store.New(sc)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
