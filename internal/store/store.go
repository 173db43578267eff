// Package store provides the three pieces of cross-process shared
// state the Dispatcher depends on — WaitingSet, RoomCounter, and
// SchedulingLock — as a typed façade over a NATS JetStream key/value
// bucket. nats.go is already a grounded dependency for PushBus
// (internal/pushbus); rather than introduce an ungrounded Redis client
// the way the original Python implementation did, this façade gives
// the same three collaborators a shared-state backing built entirely
// on a dependency the example pack already carries.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
)

const bucketName = "lyncup_matching"

// Store opens the shared KV bucket, creating it on first use.
type Store struct {
	kv nats.KeyValue
}

// Open binds to (or creates) the matching bucket on conn.
func Open(conn *nats.Conn) (*Store, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("store: jetstream context: %w", err)
	}

	kv, err := js.KeyValue(bucketName)
	if err != nil {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucketName})
		if err != nil {
			return nil, fmt.Errorf("store: create bucket: %w", err)
		}
	}
	return &Store{kv: kv}, nil
}

// WaitingSet returns the WaitingSet view over this store.
func (s *Store) WaitingSet() *WaitingSet { return &WaitingSet{kv: s.kv} }

// RoomCounter returns the RoomCounter view over this store.
func (s *Store) RoomCounter() *RoomCounter { return &RoomCounter{kv: s.kv} }

// SchedulingLock returns the SchedulingLock view over this store.
func (s *Store) SchedulingLock() *SchedulingLock { return &SchedulingLock{kv: s.kv} }

// --- WaitingSet ---

const waitingSetKeyPrefix = "waiting."

// WaitingSet tracks user ids waiting to be matched. Each member is one
// KV key; membership, not value, carries the information.
type WaitingSet struct {
	kv nats.KeyValue
}

// Members returns every waiting user id, as the stringified integers
// the wire protocol specifies. Malformed keys are impossible by
// construction here (only Add ever writes them) but the Dispatcher
// still defensively parses and drops anything that fails.
func (w *WaitingSet) Members(ctx context.Context) ([]string, error) {
	keys, err := w.kv.Keys()
	if err != nil {
		if err == nats.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("waitingset: keys: %w", err)
	}

	members := make([]string, 0, len(keys))
	for _, k := range keys {
		if id, ok := stripPrefix(k, waitingSetKeyPrefix); ok {
			members = append(members, id)
		}
	}
	return members, nil
}

// Add enrolls userID, overwriting any existing entry for the same id.
func (w *WaitingSet) Add(ctx context.Context, userID int64) error {
	_, err := w.kv.Put(waitingSetKeyPrefix+strconv.FormatInt(userID, 10), []byte(time.Now().Format(time.RFC3339)))
	if err != nil {
		return fmt.Errorf("waitingset: add: %w", err)
	}
	return nil
}

// Remove deletes every id in ids, tolerating ids that are already
// absent, and returns how many were actually present.
func (w *WaitingSet) Remove(ctx context.Context, ids ...int64) (int, error) {
	removed := 0
	for _, id := range ids {
		key := waitingSetKeyPrefix + strconv.FormatInt(id, 10)
		if _, err := w.kv.Get(key); err != nil {
			if err == nats.ErrKeyNotFound {
				continue
			}
			return removed, fmt.Errorf("waitingset: get %d: %w", id, err)
		}
		if err := w.kv.Delete(key); err != nil {
			return removed, fmt.Errorf("waitingset: delete %d: %w", id, err)
		}
		removed++
	}
	return removed, nil
}

func stripPrefix(s, prefix string) (string, bool) {
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}

// --- RoomCounter ---

const roomCounterKey = "last_room_id"

// RoomCounter is a cross-process monotonic counter; the first
// successful Increment call returns 1.
type RoomCounter struct {
	kv nats.KeyValue
}

// Increment atomically advances the counter and returns its new value,
// retrying on a concurrent writer via JetStream KV's revision-checked
// Update — the same optimistic-concurrency pattern as a CAS loop.
func (c *RoomCounter) Increment(ctx context.Context) (int64, error) {
	for {
		entry, err := c.kv.Get(roomCounterKey)
		if err != nil {
			if err != nats.ErrKeyNotFound {
				return 0, fmt.Errorf("roomcounter: get: %w", err)
			}
			rev, err := c.kv.Create(roomCounterKey, []byte("1"))
			if err != nil {
				if err == nats.ErrKeyExists {
					continue // another process just created it; retry the read
				}
				return 0, fmt.Errorf("roomcounter: create: %w", err)
			}
			_ = rev
			return 1, nil
		}

		current, err := strconv.ParseInt(string(entry.Value()), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("roomcounter: parse %q: %w", entry.Value(), err)
		}
		next := current + 1

		if _, err := c.kv.Update(roomCounterKey, []byte(strconv.FormatInt(next, 10)), entry.Revision()); err != nil {
			if err == nats.ErrKeyExists {
				continue // lost the race; retry with the fresh value
			}
			return 0, fmt.Errorf("roomcounter: update: %w", err)
		}
		return next, nil
	}
}

// --- SchedulingLock ---

const lockKey = "run_matching_algo_lock"

// SchedulingLock is the distributed advisory lock the Dispatcher holds
// for the duration of one tick.
type SchedulingLock struct {
	kv nats.KeyValue
}

type lockValue struct {
	Holder    string `json:"holder"`
	ExpiresAt int64  `json:"expires_at"` // unix seconds
}

// TryAcquire attempts setIfAbsent(lockKey, holder, ttl) and reports
// whether it succeeded. An existing lock whose TTL has already elapsed
// is treated as abandoned and may be stolen.
func (l *SchedulingLock) TryAcquire(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	value := mustMarshalLock(lockValue{Holder: holder, ExpiresAt: now.Add(ttl).Unix()})

	rev, err := l.kv.Create(lockKey, value)
	if err == nil {
		_ = rev
		return true, nil
	}
	if err != nats.ErrKeyExists {
		return false, fmt.Errorf("schedulinglock: create: %w", err)
	}

	entry, err := l.kv.Get(lockKey)
	if err != nil {
		if err == nats.ErrKeyNotFound {
			// Raced with a Release between Create and Get; try once more.
			if _, err := l.kv.Create(lockKey, value); err != nil {
				return false, nil
			}
			return true, nil
		}
		return false, fmt.Errorf("schedulinglock: get: %w", err)
	}

	existing, parseErr := unmarshalLock(entry.Value())
	if parseErr != nil || existing.ExpiresAt > now.Unix() {
		return false, nil // still held, or corrupt value we won't steal
	}

	if _, err := l.kv.Update(lockKey, value, entry.Revision()); err != nil {
		return false, nil // someone else reclaimed it first
	}
	return true, nil
}

// Release clears the lock unconditionally. Called in a guaranteed
// defer so a panicking or early-returning tick never leaves the lock
// held past its TTL.
func (l *SchedulingLock) Release(ctx context.Context) error {
	if err := l.kv.Delete(lockKey); err != nil && err != nats.ErrKeyNotFound {
		return fmt.Errorf("schedulinglock: release: %w", err)
	}
	return nil
}

func mustMarshalLock(v lockValue) []byte {
	b, _ := json.Marshal(v)
	return b
}

func unmarshalLock(data []byte) (lockValue, error) {
	var v lockValue
	err := json.Unmarshal(data, &v)
	return v, err
}
