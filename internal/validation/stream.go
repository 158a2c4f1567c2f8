// Package validation implements the node's validation/state-derivation
// stream: for every newly observed block, replay its
// solutions against each predicate, recording per-solution-set failures
// and advancing validation_progress exactly once per block.
package validation

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/essential-labs/essential-node/internal/nodeerr"
	"github.com/essential-labs/essential-node/internal/predicate"
	"github.com/essential-labs/essential-node/internal/store"
)

// blockSignal is the subset of *notifier.Subscription the stream needs —
// declared locally so internal/validation does not import
// internal/notifier directly, the same decoupling internal/store uses
// for its own notifier dependency.
type blockSignal interface {
	C() <-chan struct{}
}

// pollInterval is the fallback cadence the stream re-scans at even
// without a notifier signal, so a missed or coalesced notification never
// stalls validation indefinitely.
const pollInterval = 5 * time.Second

// Stream drives the block validation state machine.
type Stream struct {
	store  *store.Store
	engine predicate.Engine
	log    *slog.Logger
	bus    *OutcomeBus

	initialBackoff, maxBackoff time.Duration
}

// NewStream constructs a validation stream over st, checking solutions
// with engine.
func NewStream(st *store.Store, engine predicate.Engine, initialBackoff, maxBackoff time.Duration, log *slog.Logger) *Stream {
	if log == nil {
		log = slog.Default()
	}
	return &Stream{
		store:          st,
		engine:         engine,
		log:            log.With("component", "validation"),
		bus:            NewOutcomeBus(),
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}
}

// Subscribe registers a new outcome subscriber. Callers MUST Close it
// when done.
func (s *Stream) Subscribe() *OutcomeSubscription { return s.bus.Subscribe() }

// Recent returns the most recently produced outcomes, for callers that
// want current state without having subscribed in time to catch it live.
func (s *Stream) Recent() []store.ValidationOutcome { return s.bus.Recent() }

// Run performs an initial catch-up scan, then re-scans every time signal
// fires or pollInterval elapses, until ctx is cancelled. Infrastructure
// failures are retried with exponential backoff; they never cause Run to
// return early except on cancellation.
func (s *Stream) Run(ctx context.Context, signal blockSignal) error {
	backoff := s.initialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		if err := s.catchUp(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nodeerr.ErrCancelled
			}
			s.log.Warn("validation pass failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nodeerr.ErrCancelled
			case <-time.After(backoff):
			}
			backoff *= 2
			if s.maxBackoff > 0 && backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
			continue
		}
		backoff = s.initialBackoff
		if backoff <= 0 {
			backoff = time.Second
		}

		var wake <-chan struct{}
		if signal != nil {
			wake = signal.C()
		}
		select {
		case <-ctx.Done():
			return nodeerr.ErrCancelled
		case <-wake:
		case <-time.After(pollInterval):
		}
	}
}

// catchUp validates every unchecked block from the current progress
// marker through the latest inserted block, in ascending number order.
func (s *Stream) catchUp(ctx context.Context) error {
	progress, err := s.store.GetValidationProgress(ctx)
	if err != nil {
		return err
	}
	start := uint64(0)
	if progress != nil {
		start = progress.BlockNumber + 1
	}

	blocks, err := s.store.ListUncheckedBlocks(ctx, start, math.MaxUint64)
	if err != nil {
		return err
	}

	for _, blk := range blocks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		outcome, err := s.validateBlock(ctx, blk)
		if err != nil {
			return err
		}
		s.bus.Publish(outcome)
	}
	return nil
}

// validateBlock runs every solution of blk against its predicate,
// records any failed solution sets and advances progress, all in one
// transaction.
func (s *Stream) validateBlock(ctx context.Context, blk *store.Block) (store.ValidationOutcome, error) {
	var parentAddress []byte
	if blk.ParentBlockID != store.GenesisParentID {
		parent, err := s.store.GetBlockByID(ctx, blk.ParentBlockID)
		if err != nil {
			return store.ValidationOutcome{}, err
		}
		if parent != nil {
			parentAddress = parent.BlockAddress
		}
	}

	var failedSetIDs []int64
	var failedSetIndexes []uint64

	for _, set := range blk.SolutionSets {
		passed, err := s.checkSolutionSet(ctx, parentAddress, set)
		if err != nil {
			return store.ValidationOutcome{}, err
		}
		if !passed {
			failedSetIDs = append(failedSetIDs, set.ID)
			failedSetIndexes = append(failedSetIndexes, set.SolutionSetIndex)
		}
	}

	if err := s.store.RecordValidationResult(ctx, blk.ID, blk.Number, failedSetIDs); err != nil {
		return store.ValidationOutcome{}, err
	}

	return store.ValidationOutcome{
		BlockNumber:    blk.Number,
		Passed:         len(failedSetIndexes) == 0,
		FailedSetIndex: failedSetIndexes,
	}, nil
}

// checkSolutionSet reports whether every solution in set is accepted by
// its predicate. The first rejection short-circuits the remaining
// solutions in the set, since the set as a whole already fails.
func (s *Stream) checkSolutionSet(ctx context.Context, parentAddress []byte, set store.SolutionSet) (bool, error) {
	for _, sol := range set.Solutions {
		bytecode, err := s.store.GetPredicateBytecode(ctx, sol.ContractAddr, sol.PredicateAddr)
		if err != nil {
			return false, err
		}

		decVars := valuesOf(sol.DecVars, func(d store.DecVar) []byte { return d.Value })
		predData := valuesOf(sol.PredData, func(p store.PredData) []byte { return p.Value })

		bound := set.SolutionSetIndex
		reader := func(ctx context.Context, contractAddr, key []byte) ([]byte, bool, error) {
			v, err := s.store.QueryOptimistic(ctx, parentAddress, contractAddr, key, &bound)
			if err != nil {
				return nil, false, err
			}
			return v.Value, v.Found, nil
		}

		outcome, err := s.engine.Check(ctx, bytecode, decVars, predData, reader)
		if err != nil {
			return false, err
		}
		if !outcome.Accepted {
			return false, nil
		}
	}
	return true, nil
}

func valuesOf[T any](items []T, get func(T) []byte) [][]byte {
	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = get(item)
	}
	return out
}
