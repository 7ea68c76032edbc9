package shard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clickrank/clickrank/internal/hotcache"
	"github.com/clickrank/clickrank/internal/store"
)

// flushFunc applies one drained set of deltas to the store; swapped out in tests.
type flushFunc func(users []store.UserDelta, sessions []store.SessionDelta) error

// ClickBatch is one accepted click batch routed to this shard.
type ClickBatch struct {
	UserID     uuid.UUID
	SessionID  uuid.UUID
	ClickCount int
}

// Shard is the single-writer worker for one partition of users: a
// pending-delta map fed by one channel and flushed to the store
// periodically. No goroutine other than Run ever touches pending.
type Shard struct {
	id    int
	st    *store.Store
	cache *hotcache.Cache
	log   zerolog.Logger

	flushInterval time.Duration
	flush         flushFunc

	batches chan ClickBatch

	pending     map[uuid.UUID]uint64
	pendingSess map[uuid.UUID]uint32
	sessUser    map[uuid.UUID]uuid.UUID

	// base caches each user's last-known durable total, so the writer
	// goroutine looks a user up in the store at most once (on first
	// sight) rather than on every incoming batch. A successful flush
	// folds the just-persisted deltas into base directly instead of
	// re-reading them back from the store.
	base map[uuid.UUID]uint64

	degraded bool
}

// New builds Shard id, wired to the given Store and Hot Cache.
func New(id int, st *store.Store, cache *hotcache.Cache, log zerolog.Logger, flushInterval time.Duration) *Shard {
	s := &Shard{
		id:            id,
		st:            st,
		cache:         cache,
		log:           log.With().Int("shard", id).Logger(),
		flushInterval: flushInterval,
		batches:       make(chan ClickBatch, 2048),
		pending:       make(map[uuid.UUID]uint64),
		pendingSess:   make(map[uuid.UUID]uint32),
		sessUser:      make(map[uuid.UUID]uuid.UUID),
		base:          make(map[uuid.UUID]uint64),
	}
	s.flush = s.applyFlush
	return s
}

// Submit enqueues a click batch for this shard's single writer goroutine.
// Returns false if the shard is degraded (persistent store failure) or
// the ingestion queue is saturated.
func (s *Shard) Submit(b ClickBatch) bool {
	if s.Degraded() {
		return false
	}
	select {
	case s.batches <- b:
		return true
	default:
		return false
	}
}

// Degraded reports whether this shard is rejecting new batches after
// persistent store failure.
func (s *Shard) Degraded() bool { return s.degraded }

// AuthoritativeTotal is store_total(user) + pending_delta(user).
func (s *Shard) AuthoritativeTotal(userID uuid.UUID, storeTotal uint64) uint64 {
	return storeTotal + s.pending[userID]
}

// Ingest applies one click batch to the in-memory pending maps and
// writes through to Hot Cache. It must only be called from the shard's
// own goroutine (Run), or synchronously in tests with no concurrent Run
// loop active, preserving the single-writer discipline.
func (s *Shard) Ingest(ctx context.Context, b ClickBatch, storeTotal uint64) uint64 {
	s.pending[b.UserID] += uint64(b.ClickCount)
	s.pendingSess[b.SessionID] += uint32(b.ClickCount)
	s.sessUser[b.SessionID] = b.UserID

	total := storeTotal + s.pending[b.UserID]
	if s.cache != nil {
		if err := s.cache.SetTotal(ctx, b.UserID, total); err != nil {
			s.log.Warn().Err(err).Str("user_id", b.UserID.String()).Msg("hot cache write failed")
		}
	}
	return total
}

// drain swaps the pending maps for empty ones and returns the snapshot.
func (s *Shard) drain() ([]store.UserDelta, []store.SessionDelta) {
	users := make([]store.UserDelta, 0, len(s.pending))
	for id, delta := range s.pending {
		users = append(users, store.UserDelta{UserID: id, Delta: delta})
	}
	sessions := make([]store.SessionDelta, 0, len(s.pendingSess))
	for id, delta := range s.pendingSess {
		sessions = append(sessions, store.SessionDelta{SessionID: id, Delta: delta})
	}
	s.pending = make(map[uuid.UUID]uint64)
	s.pendingSess = make(map[uuid.UUID]uint32)
	s.sessUser = make(map[uuid.UUID]uuid.UUID)
	return users, sessions
}

// merge re-adds deltas that failed to flush back into the live maps so
// they are retried on the next tick.
func (s *Shard) merge(users []store.UserDelta, sessions []store.SessionDelta) {
	for _, u := range users {
		s.pending[u.UserID] += u.Delta
	}
	for _, sd := range sessions {
		s.pendingSess[sd.SessionID] += sd.Delta
	}
}

func (s *Shard) applyFlush(users []store.UserDelta, sessions []store.SessionDelta) error {
	return s.st.Flush(users, sessions)
}

// Run drives ingestion and periodic flush until ctx is cancelled. It is
// the shard's only writer goroutine.
func (s *Shard) Run(ctx context.Context) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	backoff := s.flushInterval
	const maxBackoff = 60 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case b := <-s.batches:
			storeTotal := s.storeTotalFor(b.UserID)
			s.Ingest(ctx, b, storeTotal)
		case <-ticker.C:
			users, sessions := s.drain()
			if len(users) == 0 && len(sessions) == 0 {
				continue
			}
			if err := s.flush(users, sessions); err != nil {
				s.log.Error().Err(err).Msg("flush failed, will retry")
				s.merge(users, sessions)
				s.enterBackoff(&backoff, maxBackoff)
				continue
			}
			// The deltas are now durable: fold them into base directly
			// instead of re-reading the store, so storeTotalFor keeps
			// serving cached totals without a round trip.
			for _, u := range users {
				s.base[u.UserID] += u.Delta
			}
			backoff = s.flushInterval
			s.degraded = false
		}
	}
}

func (s *Shard) enterBackoff(backoff *time.Duration, max time.Duration) {
	*backoff *= 2
	if *backoff > max {
		*backoff = max
		s.degraded = true
		s.log.Error().Msg("shard entering degraded mode after repeated flush failures")
	}
}

// storeTotalFor returns the cached durable total for userID, looking it
// up in the store only the first time this shard sees the user. Every
// later call, and every later flush, keeps base up to date without a
// further store round trip, so a batch on the hot path never blocks the
// writer goroutine on a database read.
func (s *Shard) storeTotalFor(userID uuid.UUID) uint64 {
	if total, ok := s.base[userID]; ok {
		return total
	}
	u, err := s.st.GetUser(userID)
	var total uint64
	if err == nil {
		total = u.TotalClicks
	}
	s.base[userID] = total
	return total
}
