package relayer

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/essential-labs/essential-node/internal/nodeerr"
	"github.com/essential-labs/essential-node/internal/store"
)

// ContractWorker streams contract registrations from the upstream
// endpoint into the store. Unlike BlockWorker it has no parent chain to
// enforce; idempotency comes entirely from the store's insert-or-ignore
// on content_hash.
type ContractWorker struct {
	store  *store.Store
	client *Client
	log    *slog.Logger

	initialBackoff, maxBackoff time.Duration

	status statusBox
}

// NewContractWorker constructs a contract worker.
func NewContractWorker(st *store.Store, client *Client, initialBackoff, maxBackoff time.Duration, log *slog.Logger) *ContractWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ContractWorker{store: st, client: client, initialBackoff: initialBackoff, maxBackoff: maxBackoff, log: log.With("component", "relayer.contracts")}
}

// Status returns the current progress snapshot.
func (w *ContractWorker) Status() Status { return w.status.snapshot() }

// Run mirrors BlockWorker.Run's restart loop, keyed on a cursor it carries
// across restarts (the last contract inserted in this process, starting
// from "") rather than a derived parent-chain tip.
func (w *ContractWorker) Run(ctx context.Context) error {
	backoff := w.initialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	cursor := ""

	for {
		select {
		case <-ctx.Done():
			return nodeerr.ErrCancelled
		default:
		}

		next, err := w.runOnce(ctx, cursor)
		cursor = next

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, nodeerr.ErrCancelled) {
				return nodeerr.ErrCancelled
			}

			w.status.recordFailure(err)
			w.log.Warn("contract stream restart after error", "error", err, "backoff", backoff)

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

// runOnce streams from cursor until the connection ends or fails,
// returning the cursor to resume from on the next call.
func (w *ContractWorker) runOnce(ctx context.Context, cursor string) (nextCursor string, err error) {
	nextCursor = cursor
	streamErr := w.client.StreamContracts(ctx, cursor, func(rec contractRecord) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c := rec.toStoreContract()
		if _, err := w.store.InsertContract(ctx, c); err != nil {
			return err
		}

		nextCursor = hex.EncodeToString(rec.ContentHash)
		w.status.recordSuccess(nextCursor)
		return nil
	})
	return nextCursor, streamErr
}

func (r contractRecord) toStoreContract() *store.Contract {
	preds := make([]store.Predicate, len(r.Predicates))
	for i, p := range r.Predicates {
		preds[i] = store.Predicate{ContentHash: p.ContentHash, Bytecode: p.Bytecode}
	}
	return &store.Contract{
		ContentHash: r.ContentHash,
		Salt:        r.Salt,
		CreatedAt:   store.Timestamp{Seconds: r.CreatedAtSeconds, Nanoseconds: r.CreatedAtNanoseconds},
		Predicates:  preds,
	}
}
