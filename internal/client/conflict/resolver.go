package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/offsync/offsync/internal/client/storage"
	"github.com/offsync/offsync/internal/models"
)

// Strategy selects how a divergence is decided
type Strategy string

// Strategies
const (
	StrategyLocalWins     Strategy = "local-wins"
	StrategyServerWins    Strategy = "server-wins"
	StrategyTimestampWins Strategy = "timestamp-wins"
	StrategyManual        Strategy = "manual"
)

// Valid reports whether the strategy is known
func (s Strategy) Valid() bool {
	switch s {
	case StrategyLocalWins, StrategyServerWins, StrategyTimestampWins, StrategyManual:
		return true
	}
	return false
}

// ErrUnknownStrategy indicates a strategy name outside the known set
var ErrUnknownStrategy = errors.New("unknown conflict strategy")

// DefaultSkewTolerance bounds how close local and server timestamps may be
// before timestamp ordering is considered untrustworthy
const DefaultSkewTolerance = 2 * time.Second

// Result of resolving one conflict
type Result struct {
	// Chosen is the final value when Resolved is true
	Chosen any
	// Choice records which side won
	Choice models.ResolutionChoice
	// Resolved is false when the conflict needs human input; the item
	// stays pending until ResolveManually is called
	Resolved bool
}

// Config holds resolver parameters
type Config struct {
	// DefaultStrategy applies to modules without an explicit entry
	DefaultStrategy Strategy
	// PerModule overrides the default per module
	PerModule map[string]Strategy
	// SkewTolerance for timestamp-wins; when the two timestamps are
	// within this window of each other the resolver defers to manual
	SkewTolerance time.Duration
}

// Resolver applies resolution strategies and owns conflict resolution:
// no other component marks a ConflictItem resolved. Every decision is
// appended to the immutable resolution history.
type Resolver struct {
	store  storage.ConflictStorage
	logger *slog.Logger
	cfg    Config
}

// NewResolver creates a resolver
func NewResolver(store storage.ConflictStorage, cfg Config, logger *slog.Logger) (*Resolver, error) {
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = StrategyManual
	}
	if !cfg.DefaultStrategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.DefaultStrategy)
	}
	for module, s := range cfg.PerModule {
		if !s.Valid() {
			return nil, fmt.Errorf("%w: %q for module %s", ErrUnknownStrategy, s, module)
		}
	}
	if cfg.SkewTolerance <= 0 {
		cfg.SkewTolerance = DefaultSkewTolerance
	}

	return &Resolver{store: store, cfg: cfg, logger: logger}, nil
}

// StrategyFor returns the strategy configured for a module
func (r *Resolver) StrategyFor(moduleID string) Strategy {
	if s, ok := r.cfg.PerModule[moduleID]; ok {
		return s
	}
	return r.cfg.DefaultStrategy
}

// Resolve decides a conflict under the given strategy. The outcome is a
// pure function of the item and the strategy: no hidden randomness, so
// identical inputs always resolve identically.
//
// When the result is not resolved the item is persisted as pending for
// later manual resolution.
func (r *Resolver) Resolve(ctx context.Context, item *models.ConflictItem, strategy Strategy) (*Result, error) {
	switch strategy {
	case StrategyLocalWins:
		return r.decide(ctx, item, item.LocalValue, models.ChoiceLocal, "strategy:"+string(strategy))

	case StrategyServerWins:
		return r.decide(ctx, item, item.ServerValue, models.ChoiceServer, "strategy:"+string(strategy))

	case StrategyTimestampWins:
		skew := item.LocalTimestamp - item.ServerTimestamp
		if skew < 0 {
			skew = -skew
		}
		if time.Duration(skew)*time.Millisecond < r.cfg.SkewTolerance {
			// timestamps too close to order reliably across two clocks
			r.logger.Info("timestamp skew within tolerance, deferring to manual",
				"conflict_id", item.ID,
				"local_ts", item.LocalTimestamp,
				"server_ts", item.ServerTimestamp)
			return r.deferManual(ctx, item)
		}
		if item.LocalTimestamp > item.ServerTimestamp {
			return r.decide(ctx, item, item.LocalValue, models.ChoiceLocal, "strategy:"+string(strategy))
		}
		return r.decide(ctx, item, item.ServerValue, models.ChoiceServer, "strategy:"+string(strategy))

	case StrategyManual:
		return r.deferManual(ctx, item)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

// ResolveManually supplies the human decision for a pending conflict
func (r *Resolver) ResolveManually(ctx context.Context, conflictID string, chosen any, decidedBy string) (*models.Resolution, error) {
	item, err := r.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conflict: %w", err)
	}
	if item.Status == models.ConflictResolved {
		return nil, fmt.Errorf("conflict %s is already resolved", conflictID)
	}

	choice := models.ChoiceManual
	if Equal(chosen, item.LocalValue) {
		choice = models.ChoiceLocal
	} else if Equal(chosen, item.ServerValue) {
		choice = models.ChoiceServer
	}

	res, err := r.record(ctx, item, chosen, choice, decidedBy)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// decide records an automatic resolution
func (r *Resolver) decide(ctx context.Context, item *models.ConflictItem, chosen any, choice models.ResolutionChoice, decidedBy string) (*Result, error) {
	if _, err := r.record(ctx, item, chosen, choice, decidedBy); err != nil {
		return nil, err
	}
	return &Result{Resolved: true, Chosen: chosen, Choice: choice}, nil
}

// deferManual persists the item as pending and reports that human input is needed
func (r *Resolver) deferManual(ctx context.Context, item *models.ConflictItem) (*Result, error) {
	item.Status = models.ConflictPending
	if err := r.store.SaveConflict(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to persist pending conflict: %w", err)
	}
	return &Result{Resolved: false}, nil
}

// record marks the item resolved and appends the audit row. The item is
// persisted before the history row so a crash in between leaves a
// resolved conflict without audit rather than audited ghost state.
func (r *Resolver) record(ctx context.Context, item *models.ConflictItem, chosen any, choice models.ResolutionChoice, decidedBy string) (*models.Resolution, error) {
	item.Status = models.ConflictResolved
	item.Resolution = choice
	if err := r.store.SaveConflict(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to persist resolved conflict: %w", err)
	}

	res := &models.Resolution{
		ID:         uuid.New().String(),
		ConflictID: item.ID,
		ModuleID:   item.ModuleID,
		RecordID:   item.RecordID,
		Field:      item.Field,
		Chosen:     chosen,
		Choice:     choice,
		DecidedBy:  decidedBy,
		DecidedAt:  time.Now(),
	}
	if err := r.store.AppendResolution(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to append resolution history: %w", err)
	}

	r.logger.Info("conflict resolved",
		"conflict_id", item.ID,
		"record", models.RecordKey(item.ModuleID, item.RecordID),
		"field", item.Field,
		"choice", choice,
		"decided_by", decidedBy)

	return res, nil
}
