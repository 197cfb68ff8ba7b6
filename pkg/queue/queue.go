package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/orchestra/pkg/orcherr"
	"github.com/cuemby/orchestra/pkg/storage"
	"github.com/cuemby/orchestra/pkg/types"
)

// Queue wraps a storage.Store whose values are JSON-encoded
// types.QueueEntry, keyed by token. An entry lives until Remove is
// called, or, for a token with an ExpiresAt, until the store's TTL for
// that entry runs out.
type Queue struct {
	store storage.Store
}

// New wraps an existing storage.Store as a Queue.
func New(store storage.Store) *Queue {
	return &Queue{store: store}
}

// Enqueue stores a new entry for cfg.Token. It is an error to enqueue
// a token that already has an entry.
func (q *Queue) Enqueue(cfg types.JobConfig, now time.Time) error {
	_, err := q.store.Read(string(cfg.Token.Value), false)
	if err == nil {
		return orcherr.New(orcherr.BadRequest, fmt.Errorf("token %q already queued", cfg.Token.Value))
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return orcherr.New(orcherr.BackendUnavailable, err)
	}

	entry := types.QueueEntry{
		Token:      cfg.Token,
		Config:     cfg,
		EnqueuedAt: now,
	}
	return q.write(entry)
}

func (q *Queue) write(entry types.QueueEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("queue: marshal entry: %w", err)
	}
	if err := q.store.Write(string(entry.Token.Value), data, ttlFor(entry.Token)); err != nil {
		return orcherr.New(orcherr.BackendUnavailable, err)
	}
	return nil
}

// ttlFor derives a store TTL from a token's own expiry, matching the
// minimum-positive-duration clamp write used to apply before this was
// factored out for Dispatch's CompareAndSwap to share.
func ttlFor(token types.Token) time.Duration {
	if !token.Expires {
		return 0
	}
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	return ttl
}

// Get returns the current entry for a token.
func (q *Queue) Get(token string) (types.QueueEntry, error) {
	raw, err := q.store.Read(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return types.QueueEntry{}, orcherr.New(orcherr.UnknownToken, err)
		}
		return types.QueueEntry{}, orcherr.New(orcherr.BackendUnavailable, err)
	}
	var entry types.QueueEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return types.QueueEntry{}, fmt.Errorf("queue: unmarshal entry: %w", err)
	}
	return entry, nil
}

// Remove deletes a token's queue entry, e.g. once a lease has been
// handed off into the registry.
func (q *Queue) Remove(token string) error {
	if err := q.store.Delete(token); err != nil {
		return orcherr.New(orcherr.BackendUnavailable, err)
	}
	return nil
}

// Size returns the number of entries currently queued, for the
// Orchestration-Controls API's `GET /orchestration` status (spec.md
// §6.1).
func (q *Queue) Size() (int, error) {
	keys, err := q.store.Keys()
	if err != nil {
		return 0, orcherr.New(orcherr.BackendUnavailable, err)
	}
	return len(keys), nil
}

// Dispatch selects the oldest entry with no live lease (lexicographic
// token tie-break on equal EnqueuedAt), assigns it a fresh lease owned
// by owner, and persists the updated entry. It returns orcherr.Busy if
// every entry is currently leased.
//
// The read-the-candidates step below is a snapshot, not a lock: another
// caller (a second pool slot in this process, or another replica
// sharing the same backing store) can lease the same chosen candidate
// between that snapshot and this call's write. Exclusivity therefore
// does not come from the snapshot; it comes from claiming the winner
// with storage.Store.CompareAndSwap, which only applies the lease write
// if the entry is still exactly as observed. A lost race falls through
// to the next-oldest candidate rather than failing outright, so one
// replica's win doesn't manufacture spurious Busy errors for another.
func (q *Queue) Dispatch(owner types.WorkerID, leaseID string, leaseTTL time.Duration, now time.Time) (types.QueueEntry, error) {
	keys, err := q.store.Keys()
	if err != nil {
		return types.QueueEntry{}, orcherr.New(orcherr.BackendUnavailable, err)
	}

	type candidate struct {
		entry types.QueueEntry
		raw   []byte
	}
	var candidates []candidate
	for _, k := range keys {
		raw, err := q.store.Read(k, false)
		if err != nil {
			continue
		}
		var entry types.QueueEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if !entry.Leased(now) {
			candidates = append(candidates, candidate{entry: entry, raw: raw})
		}
	}
	if len(candidates) == 0 {
		return types.QueueEntry{}, orcherr.New(orcherr.Busy, fmt.Errorf("no unleased jobs available"))
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].entry.EnqueuedAt.Equal(candidates[j].entry.EnqueuedAt) {
			return candidates[i].entry.Token.Value < candidates[j].entry.Token.Value
		}
		return candidates[i].entry.EnqueuedAt.Before(candidates[j].entry.EnqueuedAt)
	})

	owned := owner
	expiresAt := now.Add(leaseTTL)
	for _, c := range candidates {
		chosen := c.entry
		chosen.LeaseOwner = &owned
		chosen.LeaseID = leaseID
		chosen.LeaseExpiresAt = &expiresAt
		data, err := json.Marshal(chosen)
		if err != nil {
			return types.QueueEntry{}, fmt.Errorf("queue: marshal entry: %w", err)
		}
		ok, err := q.store.CompareAndSwap(chosen.Token.Value, c.raw, data, ttlFor(chosen.Token))
		if err != nil {
			return types.QueueEntry{}, orcherr.New(orcherr.BackendUnavailable, err)
		}
		if ok {
			return chosen, nil
		}
	}
	return types.QueueEntry{}, orcherr.New(orcherr.Busy, fmt.Errorf("no unleased jobs available"))
}

// Requeue clears a token's lease and increments its requeue count,
// returning orcherr.Fatal once the count has reached maxRequeues so the caller can
// route the job to a terminal failure instead of looping forever.
func (q *Queue) Requeue(token string, maxRequeues int) (types.QueueEntry, error) {
	entry, err := q.Get(token)
	if err != nil {
		return types.QueueEntry{}, err
	}
	if entry.RequeueCount >= maxRequeues {
		return types.QueueEntry{}, orcherr.New(orcherr.Fatal, fmt.Errorf("token %q exceeded max requeues (%d)", token, maxRequeues))
	}
	entry.LeaseOwner = nil
	entry.LeaseID = ""
	entry.LeaseExpiresAt = nil
	entry.RequeueCount++
	if err := q.write(entry); err != nil {
		return types.QueueEntry{}, err
	}
	return entry, nil
}

// Refresh extends a held lease's expiry, failing with orcherr.LeaseLost
// if leaseID no longer matches what is stored (another worker reclaimed
// the entry after this one's lease expired).
func (q *Queue) Refresh(token, leaseID string, leaseTTL time.Duration, now time.Time) error {
	entry, err := q.Get(token)
	if err != nil {
		return err
	}
	if entry.LeaseID != leaseID {
		return orcherr.New(orcherr.LeaseLost, fmt.Errorf("token %q: lease %q no longer held", token, leaseID))
	}
	expiresAt := now.Add(leaseTTL)
	entry.LeaseExpiresAt = &expiresAt
	return q.write(entry)
}

// Close closes the underlying store.
func (q *Queue) Close() error {
	return q.store.Close()
}
