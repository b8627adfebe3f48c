// Package watcher turns on-chain Transfer events of tracked contracts into
// ownership-sync jobs.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"railwars.gg/internal/chain"
	"railwars.gg/internal/jobs"
	"railwars.gg/internal/nft"
)

type Store interface {
	TrackedContracts(ctx context.Context) ([]nft.TrackedContract, error)
	ResyncTokens(ctx context.Context) ([]nft.TokenRef, error)
}

type Chains interface {
	Client(chainID int64) (chain.Client, error)
}

type Enqueuer interface {
	Submit(ctx context.Context, job jobs.Job) error
}

type Stats struct {
	Subscriptions int
	Resubscribing int
	Dropped       uint64
	Events        uint64
	Enqueued      uint64
	EnqueueErrors uint64
}

// Watcher keeps at most one live subscription per (chain, contract). A
// subscription the node drops is resubscribed with backoff until it comes
// back or the contract is untracked.
type Watcher struct {
	store  Store
	chains Chains
	queue  Enqueuer
	log    logrus.FieldLogger

	retryInitial time.Duration
	retryMax     time.Duration

	mu      sync.Mutex
	subs    map[string]chain.Subscription
	pending map[string]*retry

	dropped       atomic.Uint64
	events        atomic.Uint64
	enqueued      atomic.Uint64
	enqueueErrors atomic.Uint64
}

// retry is a resubscribe loop in progress for one key.
type retry struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func New(store Store, chains Chains, queue Enqueuer, log logrus.FieldLogger) *Watcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Watcher{
		store:        store,
		chains:       chains,
		queue:        queue,
		log:          log,
		retryInitial: time.Second,
		retryMax:     time.Minute,
		subs:         map[string]chain.Subscription{},
		pending:      map[string]*retry{},
	}
}

func subKey(chainID int64, contract string) string {
	return fmt.Sprintf("%d:%s", chainID, nft.NormalizeAddress(contract))
}

// Start subscribes every tracked contract. A contract that fails to subscribe
// is logged and skipped; the returned count is the number that succeeded.
func (w *Watcher) Start(ctx context.Context) (int, error) {
	tracked, err := w.store.TrackedContracts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tracked contracts: %w", err)
	}
	n := 0
	for _, tc := range tracked {
		if err := w.Track(ctx, tc); err != nil {
			w.log.WithError(err).WithFields(logrus.Fields{
				"chain_id": tc.ChainID, "contract": tc.ContractAddress, "game_id": tc.GameID,
			}).Error("subscribe tracked contract")
			continue
		}
		n++
	}
	w.log.WithFields(logrus.Fields{"subscribed": n, "tracked": len(tracked)}).Info("chain watcher started")
	return n, nil
}

// Track (re)subscribes tc. Any existing listener for the same contract is
// removed first, so calling it twice never doubles events.
func (w *Watcher) Track(ctx context.Context, tc nft.TrackedContract) error {
	key := subKey(tc.ChainID, tc.ContractAddress)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelRetryLocked(key)
	if old, ok := w.subs[key]; ok {
		old.Unsubscribe()
		delete(w.subs, key)
	}
	return w.subscribeLocked(ctx, tc, key)
}

func (w *Watcher) subscribeLocked(ctx context.Context, tc nft.TrackedContract, key string) error {
	addr := nft.NormalizeAddress(tc.ContractAddress)
	client, err := w.chains.Client(tc.ChainID)
	if err != nil {
		return err
	}
	// Events outlive the caller's request.
	submitCtx := context.WithoutCancel(ctx)
	sub, err := client.SubscribeTransfers(ctx, addr, func(ev chain.TransferEvent) {
		w.onTransfer(submitCtx, tc.ChainID, addr, ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", key, err)
	}
	w.subs[key] = sub
	go w.supervise(tc, key, sub)
	return nil
}

func (w *Watcher) cancelRetryLocked(key string) bool {
	r, ok := w.pending[key]
	if !ok {
		return false
	}
	r.cancel()
	delete(w.pending, key)
	return true
}

// supervise waits for sub to end. An Unsubscribe ends it quietly; a failure
// hands the key to a resubscribe loop, unless sub was already replaced.
func (w *Watcher) supervise(tc nft.TrackedContract, key string, sub chain.Subscription) {
	err, failed := <-sub.Err()
	if !failed {
		return
	}
	w.mu.Lock()
	if w.subs[key] != sub {
		w.mu.Unlock()
		return
	}
	delete(w.subs, key)
	ctx, cancel := context.WithCancel(context.Background())
	r := &retry{ctx: ctx, cancel: cancel}
	w.pending[key] = r
	w.mu.Unlock()

	sub.Unsubscribe()
	w.dropped.Add(1)
	w.log.WithError(err).WithField("contract", key).Warn("transfer subscription lost; resubscribing")
	w.resubscribe(r, tc, key)
}

func (w *Watcher) resubscribe(r *retry, tc nft.TrackedContract, key string) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.retryInitial
	b.MaxInterval = w.retryMax
	b.Reset()
	for attempt := 1; ; attempt++ {
		t := time.NewTimer(b.NextBackOff())
		select {
		case <-r.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		w.mu.Lock()
		if w.pending[key] != r {
			w.mu.Unlock()
			return
		}
		err := w.subscribeLocked(r.ctx, tc, key)
		if err == nil {
			delete(w.pending, key)
		}
		w.mu.Unlock()

		if err == nil {
			w.log.WithFields(logrus.Fields{"contract": key, "attempts": attempt}).Info("transfer subscription restored")
			return
		}
		w.log.WithError(err).WithFields(logrus.Fields{"contract": key, "attempt": attempt}).Warn("resubscribe failed")
	}
}

// Untrack removes the listener of (chainID, contract), if any, and stops a
// resubscribe in progress.
func (w *Watcher) Untrack(chainID int64, contract string) bool {
	return w.untrack(subKey(chainID, contract))
}

func (w *Watcher) untrack(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	retrying := w.cancelRetryLocked(key)
	sub, ok := w.subs[key]
	if !ok {
		return retrying
	}
	sub.Unsubscribe()
	delete(w.subs, key)
	return true
}

// keys lists live and resubscribing keys.
func (w *Watcher) keys() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.subs)+len(w.pending))
	for k := range w.subs {
		out = append(out, k)
	}
	for k := range w.pending {
		if _, ok := w.subs[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Reload subscribes contracts tracked since the last call and drops the
// listeners of contracts no longer tracked. Live subscriptions and those
// being resubscribed are kept.
func (w *Watcher) Reload(ctx context.Context) (added, removed int, err error) {
	tracked, err := w.store.TrackedContracts(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list tracked contracts: %w", err)
	}
	want := make(map[string]nft.TrackedContract, len(tracked))
	for _, tc := range tracked {
		want[subKey(tc.ChainID, tc.ContractAddress)] = tc
	}
	live := map[string]bool{}
	for _, key := range w.keys() {
		if _, ok := want[key]; !ok {
			if w.untrack(key) {
				removed++
			}
			continue
		}
		live[key] = true
	}
	for key, tc := range want {
		if live[key] {
			continue
		}
		if err := w.Track(ctx, tc); err != nil {
			w.log.WithError(err).WithField("contract", key).Warn("subscribe tracked contract")
			continue
		}
		added++
	}
	if added > 0 || removed > 0 {
		w.log.WithFields(logrus.Fields{"added": added, "removed": removed}).Info("tracked contracts reloaded")
	}
	return added, removed, nil
}

// Stop removes every listener. It is safe to call without Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	subs := w.subs
	w.subs = map[string]chain.Subscription{}
	for key := range w.pending {
		w.cancelRetryLocked(key)
	}
	w.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

// Tracked lists the live subscription keys.
func (w *Watcher) Tracked() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.subs))
	for k := range w.subs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// onTransfer enqueues a re-read of the token. The recipient is ignored: the
// worker asks the chain who owns the token when the job runs.
func (w *Watcher) onTransfer(ctx context.Context, chainID int64, contract string, ev chain.TransferEvent) {
	w.events.Add(1)
	if ev.TokenID == nil {
		return
	}
	sj := nft.SyncJob{ChainID: chainID, ContractAddress: contract, TokenID: ev.TokenID.String()}
	if err := w.submit(ctx, sj); err != nil {
		w.enqueueErrors.Add(1)
		w.log.WithError(err).WithFields(logrus.Fields{
			"chain_id": chainID, "contract": contract, "token_id": sj.TokenID, "tx": ev.TxHash,
		}).Error("enqueue ownership sync")
	}
}

func (w *Watcher) submit(ctx context.Context, sj nft.SyncJob) error {
	job, err := jobs.NewJob(sj.Key(), sj)
	if err != nil {
		return err
	}
	if err := w.queue.Submit(ctx, job); err != nil {
		return err
	}
	w.enqueued.Add(1)
	return nil
}

// ResyncAll enqueues one job per stored token of every tracked game, to catch
// transfers missed while offline. Submit blocks while the ownership pool is
// saturated, which paces the flood.
func (w *Watcher) ResyncAll(ctx context.Context) (int, error) {
	refs, err := w.store.ResyncTokens(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tokens for resync: %w", err)
	}
	n := 0
	for _, ref := range refs {
		sj := nft.SyncJob{ChainID: ref.ChainID, ContractAddress: ref.ContractAddress, TokenID: ref.TokenID}
		if err := w.submit(ctx, sj); err != nil {
			if errors.Is(err, jobs.ErrClosed) || ctx.Err() != nil {
				return n, err
			}
			w.enqueueErrors.Add(1)
			w.log.WithError(err).WithField("token_id", ref.TokenID).Warn("enqueue resync")
			continue
		}
		n++
	}
	w.log.WithField("jobs", n).Info("ownership resync enqueued")
	return n, nil
}

func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	n, pending := len(w.subs), len(w.pending)
	w.mu.Unlock()
	return Stats{
		Subscriptions: n,
		Resubscribing: pending,
		Dropped:       w.dropped.Load(),
		Events:        w.events.Load(),
		Enqueued:      w.enqueued.Load(),
		EnqueueErrors: w.enqueueErrors.Load(),
	}
}
