// Package cache implements the content-addressed artifact cache: a
// fingerprint-keyed index persisted in the database with artifact files
// stored under a sandbox. Artifacts are published atomically and never
// removed while a delivery holds a lease on them.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/disk"
	"gorm.io/gorm"

	"github.com/jmylchreest/snipd/internal/config"
	"github.com/jmylchreest/snipd/internal/database"
	"github.com/jmylchreest/snipd/internal/models"
	"github.com/jmylchreest/snipd/internal/storage"
)

// transientDir holds artifacts that live outside the cache index: cache
// disabled, or a cache write that failed. They are reaped with their job.
const transientDir = "transient"

// Store is the artifact cache.
type Store struct {
	mu      sync.Mutex
	cfg     config.CacheConfig
	db      *database.DB
	sandbox *storage.Sandbox
	logger  *slog.Logger

	// leases counts in-flight deliveries per relative path. A leased
	// file is never removed; eviction marks it doomed instead and the
	// last release removes it.
	leases map[string]int
	doomed map[string]bool
}

// New creates an artifact cache over the given sandbox and index database.
func New(cfg config.CacheConfig, db *database.DB, sandbox *storage.Sandbox, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:     cfg,
		db:      db,
		sandbox: sandbox,
		logger:  logger,
		leases:  make(map[string]int),
		doomed:  make(map[string]bool),
	}
}

// Enabled reports whether artifacts are retained across jobs.
func (s *Store) Enabled() bool {
	return s.cfg.Enabled
}

// Lookup returns the artifact for a fingerprint, if cached. A hit
// refreshes the entry's last-access time. Index rows whose file has
// gone missing are dropped and reported as a miss.
func (s *Store) Lookup(ctx context.Context, fingerprint string) (*models.ArtifactRef, bool) {
	if !s.cfg.Enabled {
		return nil, false
	}

	var entry models.CacheEntry
	err := s.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&entry).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("cache lookup failed", slog.String("fingerprint", fingerprint), slog.String("error", err.Error()))
		}
		return nil, false
	}

	exists, err := s.sandbox.Exists(entry.Path)
	if err != nil || !exists {
		s.logger.Warn("cache entry has no file, dropping",
			slog.String("fingerprint", fingerprint),
			slog.String("path", entry.Path),
		)
		s.db.WithContext(ctx).Delete(&entry)
		return nil, false
	}

	s.db.WithContext(ctx).Model(&entry).Updates(map[string]any{
		"last_access_at": time.Now(),
		"hit_count":      gorm.Expr("hit_count + 1"),
	})

	return &models.ArtifactRef{
		Fingerprint: entry.Fingerprint,
		Path:        entry.Path,
		Filename:    entry.Filename,
		ContentType: entry.ContentType,
		SizeBytes:   entry.SizeBytes,
	}, true
}

// Commit moves a produced artifact into the cache and records it in the
// index. The source must be a non-empty file; it is consumed on success.
// Returns models.ErrCacheDisabled when caching is off so the caller can
// fall back to a transient publish.
func (s *Store) Commit(ctx context.Context, fingerprint, srcAbsPath, filename, contentType string) (*models.ArtifactRef, error) {
	if !s.cfg.Enabled {
		return nil, models.ErrCacheDisabled
	}

	info, err := os.Stat(srcAbsPath)
	if err != nil {
		return nil, fmt.Errorf("stating artifact: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("artifact is empty: %s", srcAbsPath)
	}

	// Shard by fingerprint prefix to keep directories small.
	relPath := fmt.Sprintf("%s/%s/%s", fingerprint[:2], fingerprint[2:4], fingerprint)
	if ext := extOf(filename); ext != "" {
		relPath += "." + ext
	}

	now := time.Now()
	entry := models.CacheEntry{
		ID:           models.NewULID(),
		Fingerprint:  fingerprint,
		Path:         relPath,
		Filename:     filename,
		ContentType:  contentType,
		SizeBytes:    info.Size(),
		CreatedAt:    now,
		LastAccessAt: now,
	}

	// Index row first, file second. A row without a file is healed on
	// lookup; a file without a row would leak.
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("inserting cache entry: %w", err)
	}

	if err := s.sandbox.AtomicPublish(srcAbsPath, relPath); err != nil {
		s.db.WithContext(ctx).Delete(&entry)
		return nil, fmt.Errorf("publishing artifact: %w", err)
	}

	s.logger.Info("artifact cached",
		slog.String("fingerprint", fingerprint),
		slog.String("path", relPath),
		slog.Int64("size_bytes", entry.SizeBytes),
	)

	return &models.ArtifactRef{
		Fingerprint: fingerprint,
		Path:        relPath,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   entry.SizeBytes,
	}, nil
}

// PublishTransient moves a produced artifact into the transient area,
// outside the cache index. Used when caching is disabled or a cache
// write failed; the artifact is removed when its job is evicted.
func (s *Store) PublishTransient(fingerprint, srcAbsPath, filename, contentType string) (*models.ArtifactRef, error) {
	info, err := os.Stat(srcAbsPath)
	if err != nil {
		return nil, fmt.Errorf("stating artifact: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("artifact is empty: %s", srcAbsPath)
	}

	relPath := fmt.Sprintf("%s/%s", transientDir, uuid.NewString())
	if ext := extOf(filename); ext != "" {
		relPath += "." + ext
	}

	if err := s.sandbox.AtomicPublish(srcAbsPath, relPath); err != nil {
		return nil, fmt.Errorf("publishing transient artifact: %w", err)
	}

	return &models.ArtifactRef{
		Fingerprint: fingerprint,
		Path:        relPath,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   info.Size(),
		Transient:   true,
	}, nil
}

// Delivery is an open artifact with a lease held for the duration of a
// download. Close releases both.
type Delivery struct {
	File *os.File
	once sync.Once
	done func()
}

// Close closes the file and drops the lease. Safe to call twice.
func (d *Delivery) Close() {
	d.once.Do(func() {
		d.File.Close()
		d.done()
	})
}

// OpenDelivery opens an artifact for delivery and takes a lease on it,
// so eviction cannot remove the file mid-stream. The last lease released
// on a doomed file removes it.
func (s *Store) OpenDelivery(ref *models.ArtifactRef) (*Delivery, error) {
	s.mu.Lock()
	if s.doomed[ref.Path] && s.leases[ref.Path] == 0 {
		s.mu.Unlock()
		return nil, models.ErrArtifactUnavailable
	}
	s.leases[ref.Path]++
	s.mu.Unlock()

	f, err := s.sandbox.Open(ref.Path)
	if err != nil {
		s.release(ref.Path)
		return nil, fmt.Errorf("%w: %v", models.ErrArtifactUnavailable, err)
	}

	return &Delivery{
		File: f,
		done: func() { s.release(ref.Path) },
	}, nil
}

// release drops one lease and removes the file if it was doomed while leased.
func (s *Store) release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leases[path] > 0 {
		s.leases[path]--
	}
	if s.leases[path] == 0 {
		delete(s.leases, path)
		if s.doomed[path] {
			delete(s.doomed, path)
			if err := s.sandbox.Remove(path); err != nil {
				s.logger.Warn("removing doomed artifact", slog.String("path", path), slog.String("error", err.Error()))
			}
		}
	}
}

// RemoveTransient removes a transient artifact, deferring if a delivery
// currently holds a lease on it.
func (s *Store) RemoveTransient(ref *models.ArtifactRef) {
	if ref == nil || !ref.Transient {
		return
	}
	s.removePath(ref.Path)
}

// removePath removes a file now, or marks it doomed if leased.
func (s *Store) removePath(path string) {
	s.mu.Lock()
	if s.leases[path] > 0 {
		s.doomed[path] = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.sandbox.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("removing artifact", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// EvictIfNeeded applies the eviction policy: entries idle past the
// retention window go first, then the oldest entries until the total
// size cap and the free-disk floor are both satisfied. Leased files are
// marked doomed rather than removed.
func (s *Store) EvictIfNeeded(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}

	cutoff := time.Now().Add(-s.cfg.Retention.Duration())
	var stale []models.CacheEntry
	if err := s.db.WithContext(ctx).Where("last_access_at < ?", cutoff).Find(&stale).Error; err != nil {
		s.logger.Warn("eviction scan failed", slog.String("error", err.Error()))
		return
	}
	for i := range stale {
		s.evictEntry(ctx, &stale[i], "retention")
	}

	if s.cfg.MaxTotalSize > 0 {
		s.evictForSize(ctx)
	}
	if s.cfg.MinFreeDisk > 0 {
		s.evictForDiskPressure(ctx)
	}
}

// evictForSize removes oldest entries until the total is under the cap.
func (s *Store) evictForSize(ctx context.Context) {
	total, err := s.totalSize(ctx)
	if err != nil {
		return
	}
	if total <= s.cfg.MaxTotalSize.Bytes() {
		return
	}

	var entries []models.CacheEntry
	if err := s.db.WithContext(ctx).Order("last_access_at asc").Find(&entries).Error; err != nil {
		return
	}
	for i := range entries {
		if total <= s.cfg.MaxTotalSize.Bytes() {
			break
		}
		s.evictEntry(ctx, &entries[i], "size_cap")
		total -= entries[i].SizeBytes
	}
}

// evictForDiskPressure removes oldest entries while free space on the
// cache filesystem is below the configured floor.
func (s *Store) evictForDiskPressure(ctx context.Context) {
	usage, err := disk.Usage(s.sandbox.BaseDir())
	if err != nil {
		s.logger.Warn("reading disk usage", slog.String("error", err.Error()))
		return
	}
	if usage.Free >= uint64(s.cfg.MinFreeDisk.Bytes()) {
		return
	}

	needed := int64(s.cfg.MinFreeDisk.Bytes()) - int64(usage.Free)
	var entries []models.CacheEntry
	if err := s.db.WithContext(ctx).Order("last_access_at asc").Find(&entries).Error; err != nil {
		return
	}
	for i := range entries {
		if needed <= 0 {
			break
		}
		s.evictEntry(ctx, &entries[i], "disk_pressure")
		needed -= entries[i].SizeBytes
	}
}

// evictEntry drops the index row and removes (or dooms) the file.
func (s *Store) evictEntry(ctx context.Context, entry *models.CacheEntry, reason string) {
	if err := s.db.WithContext(ctx).Delete(entry).Error; err != nil {
		s.logger.Warn("deleting cache entry", slog.String("fingerprint", entry.Fingerprint), slog.String("error", err.Error()))
		return
	}
	s.removePath(entry.Path)
	s.logger.Info("artifact evicted",
		slog.String("fingerprint", entry.Fingerprint),
		slog.String("reason", reason),
		slog.Int64("size_bytes", entry.SizeBytes),
	)
}

// totalSize sums the indexed artifact sizes.
func (s *Store) totalSize(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&models.CacheEntry{}).
		Select("COALESCE(SUM(size_bytes), 0)").Scan(&total).Error
	if err != nil {
		s.logger.Warn("summing cache size", slog.String("error", err.Error()))
		return 0, err
	}
	return total, nil
}

// Stats returns the entry count and total bytes in the cache index.
func (s *Store) Stats(ctx context.Context) (count int64, bytes int64) {
	s.db.WithContext(ctx).Model(&models.CacheEntry{}).Count(&count)
	bytes, _ = s.totalSize(ctx)
	return count, bytes
}

// Reconcile drops index rows whose files are gone and clears leftover
// transient files. Called once at startup.
func (s *Store) Reconcile(ctx context.Context) {
	var entries []models.CacheEntry
	if err := s.db.WithContext(ctx).Find(&entries).Error; err != nil {
		s.logger.Warn("reconcile scan failed", slog.String("error", err.Error()))
		return
	}
	dropped := 0
	for i := range entries {
		exists, err := s.sandbox.Exists(entries[i].Path)
		if err == nil && !exists {
			s.db.WithContext(ctx).Delete(&entries[i])
			dropped++
		}
	}

	// Transient artifacts do not survive a restart; their jobs are gone.
	if err := s.sandbox.RemoveAll(transientDir); err != nil {
		s.logger.Debug("clearing transient artifacts", slog.String("error", err.Error()))
	}

	if dropped > 0 {
		s.logger.Info("cache reconciled", slog.Int("dropped_entries", dropped))
	}
}

// extOf returns the extension of a filename without the dot.
func extOf(filename string) string {
	for i := len(filename) - 1; i >= 0; i-- {
		switch filename[i] {
		case '.':
			return filename[i+1:]
		case '/':
			return ""
		}
	}
	return ""
}
