// Package node composes the connection pool, store, notifier, relayer
// workers and validation stream into a single running instance.
package node

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/essential-labs/essential-node/internal/config"
	"github.com/essential-labs/essential-node/internal/nodeerr"
	"github.com/essential-labs/essential-node/internal/notifier"
	"github.com/essential-labs/essential-node/internal/predicate"
	"github.com/essential-labs/essential-node/internal/relayer"
	"github.com/essential-labs/essential-node/internal/store"
	"github.com/essential-labs/essential-node/internal/validation"
)

// shutdownDeadline bounds how long Shutdown waits for workers to observe
// cancellation before giving up on a graceful stop.
const shutdownDeadline = 10 * time.Second

// Node is a running instance: pool-backed store, notifier, and whichever
// of the relayer/validation workers are enabled in configuration. Worker
// goroutines are supervised by an errgroup.Group, generalizing a single
// monitored child goroutine into several.
type Node struct {
	cfg        *config.Config
	log        *slog.Logger
	instanceID string

	store    *store.Store
	notifier *notifier.Notifier
	engine   *predicate.WasmEngine
	validate *validation.Stream

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Start creates/verifies the schema, initialises the connection pool at
// capacity min(cpu_count, configured_cap), and spawns the enabled
// workers. All workers observe one shared cancellation context, the
// errgroup's, which Shutdown cancels; no worker can be cancelled on its
// own.
func Start(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Node, error) {
	if log == nil {
		log = slog.Default()
	}
	instanceID := uuid.NewString()
	log = log.With("instance_id", instanceID)

	capacity := cfg.ConnPoolSize
	if cpu := runtime.NumCPU(); cpu < capacity {
		capacity = cpu
	}
	if capacity < 1 {
		capacity = 1
	}

	st, err := store.Open(ctx, cfg.DBPath, capacity, log)
	if err != nil {
		return nil, err
	}

	notif := notifier.New()
	st.SetNotifier(notif)

	engine, err := predicate.NewWasmEngine(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(workerCtx)

	n := &Node{
		cfg:        cfg,
		log:        log,
		instanceID: instanceID,
		store:      st,
		notifier:   notif,
		engine:     engine,
		cancel:     cancel,
		group:      group,
	}

	if cfg.Relayer.Enabled {
		client := relayer.NewClient(cfg.Relayer.Endpoint, cfg.Retry.InitialBackoff, cfg.Retry.MaxBackoff)
		blockWorker := relayer.NewBlockWorker(st, client, cfg.Retry.InitialBackoff, cfg.Retry.MaxBackoff, log)
		contractWorker := relayer.NewContractWorker(st, client, cfg.Retry.InitialBackoff, cfg.Retry.MaxBackoff, log)

		group.Go(func() error { return swallowCancelled(blockWorker.Run(groupCtx)) })
		group.Go(func() error { return swallowCancelled(contractWorker.Run(groupCtx)) })
	}

	if cfg.Validation.Enabled {
		n.validate = validation.NewStream(st, engine, cfg.Retry.InitialBackoff, cfg.Retry.MaxBackoff, log)
		sub := notif.Subscribe()
		group.Go(func() error {
			defer sub.Close()
			return swallowCancelled(n.validate.Run(groupCtx, sub))
		})
	}

	return n, nil
}

// swallowCancelled turns the cooperative-shutdown sentinel into a nil
// error so errgroup.Group.Wait only ever reports genuine worker failures,
// not an expected cancellation.
func swallowCancelled(err error) error {
	if errors.Is(err, nodeerr.ErrCancelled) {
		return nil
	}
	return err
}

// InstanceID returns the random identifier generated for this run,
// included in every log line this Node's logger emits so multiple
// concurrent node processes writing to the same log sink stay
// distinguishable.
func (n *Node) InstanceID() string { return n.instanceID }

// Store returns the read/write query handle backed by the connection
// pool; callers that only read are expected to use the store's read
// methods.
func (n *Node) Store() *store.Store { return n.store }

// Subscribe returns a new subscription to the block-change notifier.
// Callers MUST Close it when done.
func (n *Node) Subscribe() *notifier.Subscription { return n.notifier.Subscribe() }

// SubscribeOutcomes returns a new subscription to the validation-outcome
// stream, or nil if validation is disabled.
// Callers MUST Close it when done.
func (n *Node) SubscribeOutcomes() *validation.OutcomeSubscription {
	if n.validate == nil {
		return nil
	}
	return n.validate.Subscribe()
}

// Shutdown fires the cancellation token, waits for workers to exit
// (bounded by shutdownDeadline), then closes the pool and engine.
func (n *Node) Shutdown() error {
	n.cancel()

	done := make(chan error, 1)
	go func() { done <- n.group.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-time.After(shutdownDeadline):
		n.log.Warn("shutdown deadline exceeded waiting for workers")
	}

	closeErr := n.engine.Close(context.Background())
	storeErr := n.store.Close()

	switch {
	case waitErr != nil:
		return waitErr
	case storeErr != nil:
		return storeErr
	default:
		return closeErr
	}
}
