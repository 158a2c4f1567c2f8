package relayer

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/essential-labs/essential-node/internal/nodeerr"
	"github.com/essential-labs/essential-node/internal/store"
)

// BlockWorker streams blocks from the upstream endpoint into the store,
// enforcing parent-chain consistency as it goes.
type BlockWorker struct {
	store  *store.Store
	client *Client
	log    *slog.Logger

	initialBackoff, maxBackoff time.Duration

	status statusBox
}

// NewBlockWorker constructs a block worker. initialBackoff/maxBackoff
// bound the restart-on-failure sleep of step 4; client carries its own,
// smaller connect-retry budget for step 2.
func NewBlockWorker(st *store.Store, client *Client, initialBackoff, maxBackoff time.Duration, log *slog.Logger) *BlockWorker {
	if log == nil {
		log = slog.Default()
	}
	return &BlockWorker{store: st, client: client, initialBackoff: initialBackoff, maxBackoff: maxBackoff, log: log.With("component", "relayer.blocks")}
}

// Status returns the current progress snapshot.
func (w *BlockWorker) Status() Status { return w.status.snapshot() }

// Run executes the restart loop until ctx is cancelled,
// at which point it returns nodeerr.ErrCancelled. Any other returned
// error is a bug in the worker itself — ordinary upstream/storage
// failures are retried internally and never propagate out of Run.
func (w *BlockWorker) Run(ctx context.Context) error {
	backoff := w.initialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return nodeerr.ErrCancelled
		default:
		}

		if err := w.runOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, nodeerr.ErrCancelled) {
				return nodeerr.ErrCancelled
			}

			w.status.recordFailure(err)
			w.log.Warn("block stream restart after error", "error", err, "backoff", backoff)

			select {
			case <-ctx.Done():
				return nodeerr.ErrCancelled
			case <-time.After(backoff):
			}
			backoff *= 2
			if w.maxBackoff > 0 && backoff > w.maxBackoff {
				backoff = w.maxBackoff
			}
			continue
		}

		// Clean stream end (upstream caught up to its own tip): reset
		// backoff and reconnect after a short pause rather than busy
		// looping.
		backoff = w.initialBackoff
		if backoff <= 0 {
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			return nodeerr.ErrCancelled
		case <-time.After(backoff):
		}
	}
}

// runOnce determines the resume point and streams until the connection
// ends or fails, inserting each received block under parent-consistency
// enforcement.
func (w *BlockWorker) runOnce(ctx context.Context) error {
	tipAddress, tipID, err := w.resumePoint(ctx)
	if err != nil {
		return err
	}

	return w.client.StreamBlocks(ctx, tipAddress, func(rec blockRecord) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !bytes.Equal(rec.ParentBlockAddress, tipAddress) {
			return nodeerr.New(nodeerr.Integrity, "block parent address does not match stream tip", nil)
		}

		blk := rec.toStoreBlock()
		blk.ParentBlockID = tipID

		id, err := w.store.InsertBlock(ctx, blk)
		if err != nil {
			return err
		}

		tipAddress = rec.BlockAddress
		tipID = id
		w.status.recordSuccess(hex.EncodeToString(tipAddress))
		return nil
	})
}

// resumePoint returns the address/id to resume the stream from: the
// latest finalized block, or the genesis sentinel if nothing has been
// finalized yet.
func (w *BlockWorker) resumePoint(ctx context.Context) (address []byte, id int64, err error) {
	finalized, err := w.store.LatestFinalizedBlock(ctx)
	if err != nil {
		return nil, 0, err
	}
	if finalized == nil {
		return nil, store.GenesisParentID, nil
	}
	return finalized.BlockAddress, finalized.ID, nil
}

func (r blockRecord) toStoreBlock() *store.Block {
	sets := make([]store.SolutionSet, len(r.SolutionSets))
	for i, s := range r.SolutionSets {
		sols := make([]store.Solution, len(s.Solutions))
		for j, sol := range s.Solutions {
			muts := make([]store.Mutation, len(sol.Mutations))
			for k, m := range sol.Mutations {
				muts[k] = store.Mutation{MutationIndex: uint64(k), Key: m.Key, Value: m.Value}
			}
			decVars := make([]store.DecVar, len(sol.DecVars))
			for k, v := range sol.DecVars {
				decVars[k] = store.DecVar{DecVarIndex: uint64(k), Value: v}
			}
			predData := make([]store.PredData, len(sol.PredData))
			for k, v := range sol.PredData {
				predData[k] = store.PredData{PredDataIndex: uint64(k), Value: v}
			}
			sols[j] = store.Solution{
				SolutionIndex: uint64(j),
				ContractAddr:  sol.ContractAddr,
				PredicateAddr: sol.PredicateAddr,
				Mutations:     muts,
				DecVars:       decVars,
				PredData:      predData,
			}
		}
		sets[i] = store.SolutionSet{ContentHash: s.ContentHash, Solutions: sols}
	}

	return &store.Block{
		BlockAddress: r.BlockAddress,
		Number:       r.Number,
		Timestamp:    store.Timestamp{Seconds: r.TimestampSeconds, Nanoseconds: r.TimestampNanoseconds},
		SolutionSets: sets,
	}
}
