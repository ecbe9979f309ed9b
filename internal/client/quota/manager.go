// Package quota enforces the storage ceiling over the local cache.
// Only passively cached records are evicted; records with queued
// operations are never touched.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/offsync/offsync/internal/client/storage"
	"github.com/offsync/offsync/internal/models"
)

// ErrQuotaExceeded indicates a cache write was refused because the ceiling
// is exceeded and nothing evictable is left. Pending-mutation writes are
// never refused.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// DefaultWatermarkPercent is how far below the ceiling eviction drains
// usage, to avoid evicting again on the very next write
const DefaultWatermarkPercent = 90

// Protector reports which records must never be evicted.
// The queue service satisfies this.
type Protector interface {
	InFlightRecordKeys(ctx context.Context) (map[string]bool, error)
}

// Config holds quota parameters
type Config struct {
	// CeilingBytes is the storage ceiling; zero disables enforcement
	CeilingBytes int64
	// WatermarkPercent of the ceiling is the eviction target
	WatermarkPercent int
}

// Manager enforces the ceiling. CheckAndEvict runs after every cache
// write; PutCached is the guarded write path for passive datasets.
type Manager struct {
	cache     storage.CacheStorage
	protector Protector
	logger    *slog.Logger
	cfg       Config

	// onEvict is notified per module with the bytes freed
	onEvict func(moduleID string, bytesFreed int64)
}

// NewManager creates a quota manager. onEvict may be nil.
func NewManager(cache storage.CacheStorage, protector Protector, cfg Config, onEvict func(string, int64), logger *slog.Logger) *Manager {
	if cfg.WatermarkPercent <= 0 || cfg.WatermarkPercent > 100 {
		cfg.WatermarkPercent = DefaultWatermarkPercent
	}
	return &Manager{
		cache:     cache,
		protector: protector,
		cfg:       cfg,
		onEvict:   onEvict,
		logger:    logger,
	}
}

// PutCached writes a passively cached record through quota enforcement.
// If the ceiling cannot be respected even after eviction, the write is
// rolled back and ErrQuotaExceeded is returned.
func (m *Manager) PutCached(ctx context.Context, record *models.Record) error {
	if err := m.cache.PutRecord(ctx, record); err != nil {
		return fmt.Errorf("failed to write cached record: %w", err)
	}

	metrics, err := m.CheckAndEvict(ctx)
	if err != nil {
		return err
	}

	if metrics.OverCeiling() {
		// everything evictable is gone and we are still over: refuse
		// this passive write rather than overflow silently
		if err := m.cache.DeleteRecord(ctx, record.ModuleID, record.RecordID); err != nil {
			return fmt.Errorf("failed to roll back refused write: %w", err)
		}
		return fmt.Errorf("%w: ceiling %d bytes", ErrQuotaExceeded, m.cfg.CeilingBytes)
	}

	return nil
}

// Metrics recomputes usage without evicting anything.
func (m *Manager) Metrics(ctx context.Context) (*models.StorageMetrics, error) {
	metrics, err := m.cache.Usage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute usage: %w", err)
	}
	metrics.Ceiling = m.cfg.CeilingBytes
	return metrics, nil
}

// CheckAndEvict recomputes usage and, when the ceiling is exceeded,
// evicts passive records in ascending priority order until usage drops
// below the watermark or nothing evictable remains. It returns the
// metrics after any eviction.
func (m *Manager) CheckAndEvict(ctx context.Context) (*models.StorageMetrics, error) {
	metrics, err := m.cache.Usage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute usage: %w", err)
	}
	metrics.Ceiling = m.cfg.CeilingBytes

	if !metrics.OverCeiling() {
		return metrics, nil
	}

	target := m.cfg.CeilingBytes * int64(m.cfg.WatermarkPercent) / 100

	protected, err := m.protector.InFlightRecordKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list protected records: %w", err)
	}

	records, err := m.cache.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached records: %w", err)
	}

	var candidates []*models.Record
	for _, rec := range records {
		if rec.Dirty || protected[rec.Key()] {
			continue
		}
		candidates = append(candidates, rec)
	}

	// low priority first, oldest first within equal priority
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].CachedAt.Before(candidates[j].CachedAt)
	})

	freedByModule := make(map[string]int64)
	for _, rec := range candidates {
		if metrics.TotalBytes <= target {
			break
		}

		if err := m.cache.DeleteRecord(ctx, rec.ModuleID, rec.RecordID); err != nil {
			return nil, fmt.Errorf("failed to evict record %s: %w", rec.Key(), err)
		}

		after, err := m.cache.Usage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to recompute usage: %w", err)
		}
		freedByModule[rec.ModuleID] += metrics.TotalBytes - after.TotalBytes
		metrics = after
		metrics.Ceiling = m.cfg.CeilingBytes
	}

	for moduleID, freed := range freedByModule {
		m.logger.Info("evicted cached records",
			"module", moduleID,
			"bytes_freed", freed)
		if m.onEvict != nil {
			m.onEvict(moduleID, freed)
		}
	}

	return metrics, nil
}
