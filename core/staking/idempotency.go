package staking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/model"
)

// IdempotencyStore remembers the outcome of an intent under the caller's
// key for one window. Only outcomes are recorded; an intent that returned an
// error can be retried with the same key.
type IdempotencyStore struct {
	cache *bigcache.BigCache

	mu       sync.Mutex
	inflight map[string]string
}

type idempotencyRecord struct {
	Fingerprint string   `json:"fingerprint"`
	Outcome     *Outcome `json:"outcome"`
}

func NewIdempotencyStore(window time.Duration) (*IdempotencyStore, error) {
	cache, err := bigcache.New(context.Background(), bigcache.Config{
		// number of shards (must be a power of 2)
		Shards:     64,
		LifeWindow: window,
		// Setting to < 1 second is counterproductive, bigcache has a one second resolution.
		CleanWindow:        time.Minute,
		MaxEntriesInWindow: 10_000,
		MaxEntrySize:       1024,
		HardMaxCacheSize:   32,
	})
	if err != nil {
		return nil, fmt.Errorf("create idempotency cache: %w", err)
	}
	return NewIdempotencyStoreWithCache(cache), nil
}

func NewIdempotencyStoreWithCache(cache *bigcache.BigCache) *IdempotencyStore {
	return &IdempotencyStore{cache: cache, inflight: map[string]string{}}
}

// Fingerprint identifies what an intent does, independent of when.
func Fingerprint(op model.Operation, owner common.Address, amount *big.Int) string {
	a := "0"
	if amount != nil {
		a = amount.String()
	}
	return crypto.Keccak256Hash([]byte(string(op)), owner.Bytes(), []byte(a)).Hex()
}

// Begin claims key for fingerprint. A recorded outcome for the same
// fingerprint is returned as prior. Otherwise the caller owns the key until
// it calls release.
func (s *IdempotencyStore) Begin(key, fingerprint string) (prior *Outcome, release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(key)
	if err != nil {
		return nil, nil, err
	}
	if rec != nil {
		if rec.Fingerprint != fingerprint {
			return nil, nil, conflict(key, "was used for a different intent")
		}
		return rec.Outcome, nil, nil
	}

	if fp, busy := s.inflight[key]; busy {
		if fp != fingerprint {
			return nil, nil, conflict(key, "is in use by a different intent")
		}
		return nil, nil, conflict(key, "is already in progress")
	}
	s.inflight[key] = fingerprint

	return nil, func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
	}, nil
}

// Record stores outcome under key for the rest of the window.
func (s *IdempotencyStore) Record(key, fingerprint string, outcome *Outcome) error {
	body, err := json.Marshal(idempotencyRecord{Fingerprint: fingerprint, Outcome: outcome})
	if err != nil {
		return err
	}
	return s.cache.Set(key, body)
}

func (s *IdempotencyStore) lookup(key string) (*idempotencyRecord, error) {
	body, err := s.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec idempotencyRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("corrupt idempotency record for %q: %w", key, err)
	}
	return &rec, nil
}

func conflict(key, why string) error {
	return apperr.Validationf(apperr.CodeIdempotencyConflict, "idempotency key %q %s", key, why).
		WithDetail("idempotency_key", key)
}
