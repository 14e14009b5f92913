// Package store implements the kv ports on the local filesystem. Values live
// in individual blob files; an index.json tracks keys, sizes, access times
// and the next handle number. Entries are evicted by age and by total size.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/recera/scattershare/pkg/kv"
)

const indexVersion = "1"

// Kinds of entries kept in the index.
const (
	kindValue  = "kv"
	kindHandle = "handle"
)

// Store is a file-backed kv.Store, kv.Lister and kv.HandleStore.
type Store struct {
	mu           sync.RWMutex
	dir          string
	index        *Index
	maxSize      int64
	maxAge       time.Duration
	handleMaxAge time.Duration
	strategy     EvictionStrategy
	stats        Stats
	now          func() time.Time
	log          *slog.Logger

	stopCh    chan struct{}
	closeOnce sync.Once
}

// Index tracks all stored entries.
type Index struct {
	Version    string            `json:"version"`
	NextHandle uint64            `json:"next_handle"`
	Entries    map[string]*Entry `json:"entries"`
	Updated    time.Time         `json:"updated"`
}

// Entry is one stored value or handle payload.
type Entry struct {
	Key         string    `json:"key"`
	Kind        string    `json:"kind"`
	Hash        string    `json:"hash"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Created     time.Time `json:"created"`
	LastAccess  time.Time `json:"last_access"`
	AccessCount int       `json:"access_count"`
}

// Stats tracks store activity.
type Stats struct {
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Evictions  int64 `json:"evictions"`
	TotalSize  int64 `json:"total_size"`
	EntryCount int   `json:"entry_count"`
}

// EvictionStrategy picks which entry to drop when the store is full.
type EvictionStrategy int

const (
	// LRU removes least recently used entries.
	LRU EvictionStrategy = iota
	// LFU removes least frequently used entries.
	LFU
	// FIFO removes oldest entries first.
	FIFO
)

// ParseEvictionStrategy accepts "lru", "lfu" and "fifo".
func ParseEvictionStrategy(s string) (EvictionStrategy, error) {
	switch strings.ToLower(s) {
	case "", "lru":
		return LRU, nil
	case "lfu":
		return LFU, nil
	case "fifo":
		return FIFO, nil
	}
	return LRU, fmt.Errorf("store: unknown eviction strategy %q", s)
}

// Config holds store configuration.
type Config struct {
	Dir     string        // storage directory (default: $HOME/.cache/scattershare)
	MaxSize int64         // total size bound in bytes, <= 0 for none
	MaxAge  time.Duration // lifetime of plain kv entries, <= 0 for none
	// HandleMaxAge is the lifetime of shared payloads, <= 0 for none.
	HandleMaxAge    time.Duration
	Strategy        EvictionStrategy
	CleanupInterval time.Duration // <= 0 disables the background sweep
	Logger          *slog.Logger
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	homeDir, _ := os.UserHomeDir()
	return Config{
		Dir:             filepath.Join(homeDir, ".cache", "scattershare"),
		MaxSize:         256 << 20,
		MaxAge:          24 * time.Hour,
		HandleMaxAge:    0,
		Strategy:        LRU,
		CleanupInterval: time.Hour,
	}
}

// New opens or creates a store in cfg.Dir.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultConfig().Dir
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(cfg.Dir, "blobs"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &Store{
		dir:          cfg.Dir,
		maxSize:      cfg.MaxSize,
		maxAge:       cfg.MaxAge,
		handleMaxAge: cfg.HandleMaxAge,
		strategy:     cfg.Strategy,
		now:          time.Now,
		log:          cfg.Logger.With("comp", "store", "dir", cfg.Dir),
		stopCh:       make(chan struct{}),
		index:        newIndex(),
	}

	if err := s.loadIndex(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("index unreadable, starting fresh", "err", err)
		}
		s.index = newIndex()
	}

	if cfg.CleanupInterval > 0 {
		go s.cleanupLoop(cfg.CleanupInterval)
	}
	return s, nil
}

func newIndex() *Index {
	return &Index{
		Version: indexVersion,
		Entries: make(map[string]*Entry),
		Updated: time.Now(),
	}
}

// Get implements kv.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, kv.Wrap("get", key, err)
	}
	data, err := s.read(valueKey(key))
	if err != nil {
		return nil, kv.Wrap("get", key, err)
	}
	return data, nil
}

// Set implements kv.Store.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return kv.Wrap("set", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return kv.Wrap("set", key, s.writeLocked(valueKey(key), kindValue, value))
}

// Remove implements kv.Store.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return kv.Wrap("remove", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.index.Entries[valueKey(key)]
	if !ok {
		return nil
	}
	s.dropLocked(valueKey(key), entry)
	return kv.Wrap("remove", key, s.saveIndexLocked())
}

// Keys implements kv.Lister.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, kv.Wrap("keys", prefix, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	full := valueKey(prefix)
	var keys []string
	for k, e := range s.index.Entries {
		if e.Kind == kindValue && strings.HasPrefix(k, full) {
			keys = append(keys, strings.TrimPrefix(k, valueKey("")))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Put implements kv.HandleStore. Handles are decimal integers, increasing
// from 1 for the lifetime of the store directory.
func (s *Store) Put(ctx context.Context, payload []byte) (kv.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", kv.Wrap("put", "", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index.NextHandle++
	h := kv.Handle(strconv.FormatUint(s.index.NextHandle, 10))
	if err := s.writeLocked(handleKey(h), kindHandle, payload); err != nil {
		return "", kv.Wrap("put", string(h), err)
	}
	return h, nil
}

// Fetch implements kv.HandleStore.
func (s *Store) Fetch(ctx context.Context, h kv.Handle) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, kv.Wrap("fetch", string(h), err)
	}
	data, err := s.read(handleKey(h))
	if err != nil {
		return nil, kv.Wrap("fetch", string(h), err)
	}
	return data, nil
}

// GetStats returns a snapshot of the store statistics.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Clear removes every entry but keeps the handle counter, so handles are
// never reused.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(s.dir, "blobs")); err != nil {
		return fmt.Errorf("failed to clear blobs: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(s.dir, "blobs"), 0755); err != nil {
		return err
	}
	next := s.index.NextHandle
	s.index = newIndex()
	s.index.NextHandle = next
	s.stats = Stats{}
	return s.saveIndexLocked()
}

// Close stops the cleanup goroutine and saves the index.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.stopCh) })
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveIndexLocked()
}

// Sweep removes expired entries and returns how many were dropped.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, e := range s.index.Entries {
		if s.isExpired(e) {
			s.dropLocked(k, e)
			n++
		}
	}
	if n > 0 {
		if err := s.saveIndexLocked(); err != nil {
			s.log.Warn("failed to save index after sweep", "err", err)
		}
	}
	return n
}

// Private methods

func valueKey(key string) string { return kindValue + ":" + key }

func handleKey(h kv.Handle) string { return kindHandle + ":" + string(h) }

func (s *Store) read(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.index.Entries[key]
	if !ok {
		s.stats.Misses++
		return nil, kv.ErrNotFound
	}
	if s.isExpired(entry) {
		s.dropLocked(key, entry)
		s.stats.Misses++
		return nil, kv.ErrNotFound
	}

	data, err := os.ReadFile(entry.Path)
	if err != nil {
		// Blob is gone or unreadable; forget the entry.
		s.log.Warn("dropping entry with unreadable blob", "key", key, "err", err)
		s.dropLocked(key, entry)
		s.stats.Misses++
		return nil, kv.ErrNotFound
	}

	entry.LastAccess = s.now()
	entry.AccessCount++
	s.stats.Hits++
	return data, nil
}

func (s *Store) writeLocked(key, kind string, data []byte) error {
	hash := hashBytes(data)
	if existing, ok := s.index.Entries[key]; ok && existing.Hash == hash {
		existing.LastAccess = s.now()
		return nil
	}

	size := int64(len(data))
	s.ensureSpaceLocked(size, key)

	path := filepath.Join(s.dir, "blobs", fmt.Sprintf("%s_%s", sanitizeKey(key), hash[:8]))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}

	if old, ok := s.index.Entries[key]; ok {
		if old.Path != path {
			s.removeFile(old.Path)
		}
		s.stats.TotalSize -= old.Size
	}
	now := s.now()
	s.index.Entries[key] = &Entry{
		Key:        key,
		Kind:       kind,
		Hash:       hash,
		Path:       path,
		Size:       size,
		Created:    now,
		LastAccess: now,
	}
	s.stats.TotalSize += size
	s.stats.EntryCount = len(s.index.Entries)
	return s.saveIndexLocked()
}

func (s *Store) dropLocked(key string, entry *Entry) {
	s.removeFile(entry.Path)
	delete(s.index.Entries, key)
	s.stats.TotalSize -= entry.Size
	s.stats.EntryCount = len(s.index.Entries)
	s.index.Updated = s.now()
}

func (s *Store) isExpired(entry *Entry) bool {
	maxAge := s.maxAge
	if entry.Kind == kindHandle {
		maxAge = s.handleMaxAge
	}
	if maxAge <= 0 {
		return false
	}
	return s.now().Sub(entry.Created) > maxAge
}

// ensureSpaceLocked evicts entries until needed bytes fit. The entry being
// written is never chosen.
func (s *Store) ensureSpaceLocked(needed int64, keep string) {
	if s.maxSize <= 0 {
		return
	}
	for s.stats.TotalSize+needed > s.maxSize {
		var victimKey string
		var victim *Entry
		for k, e := range s.index.Entries {
			if k == keep {
				continue
			}
			if victim == nil || s.evictsBefore(e, victim) {
				victimKey, victim = k, e
			}
		}
		if victim == nil {
			return
		}
		s.log.Debug("evicting entry", "key", victimKey, "size", victim.Size)
		s.dropLocked(victimKey, victim)
		s.stats.Evictions++
	}
}

func (s *Store) evictsBefore(a, b *Entry) bool {
	switch s.strategy {
	case LFU:
		if a.AccessCount != b.AccessCount {
			return a.AccessCount < b.AccessCount
		}
		return a.LastAccess.Before(b.LastAccess)
	case FIFO:
		return a.Created.Before(b.Created)
	default:
		return a.LastAccess.Before(b.LastAccess)
	}
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.dir, "index.json"))
	if err != nil {
		return err
	}
	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return err
	}
	if index.Entries == nil {
		index.Entries = make(map[string]*Entry)
	}
	s.index = &index

	var total int64
	for _, e := range index.Entries {
		total += e.Size
	}
	s.stats.TotalSize = total
	s.stats.EntryCount = len(index.Entries)
	return nil
}

// saveIndexLocked writes the index; the caller holds at least a read lock.
func (s *Store) saveIndexLocked() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, "index.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.log.Info("swept expired entries", "removed", n)
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("failed to remove blob", "path", path, "err", err)
	}
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func sanitizeKey(key string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
		".", "_",
	)
	sanitized := replacer.Replace(key)
	if len(sanitized) > 100 {
		sanitized = sanitized[:100]
	}
	return sanitized
}
