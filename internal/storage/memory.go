package storage

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/Turnstile/internal/clock"
)

const defaultCleanupInterval = time.Minute

// MemoryConfig configures the in-memory backend.
type MemoryConfig struct {
	CleanupInterval time.Duration `json:"cleanup_interval"`
	Clock           clock.Clock   `json:"-"`
}

// MemoryStore is an in-process Store. Every operation runs under one mutex,
// which gives the same atomicity as the Redis scripts but only within a single
// process. It backs tests, the simulate command, and single-node deployments.
type MemoryStore struct {
	mu sync.Mutex

	clock           clock.Clock
	cleanupInterval time.Duration

	windows map[string]*windowLog
	buckets map[string]*bucketState

	// failLocal makes node-local writes fail, to exercise the best-effort path.
	failLocal bool

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

type windowEntry struct {
	at     time.Time
	member string
}

type windowLog struct {
	entries  []windowEntry
	expireAt time.Time
}

type bucketState struct {
	tokens   float64
	last     time.Time
	expireAt time.Time
}

// NewMemoryStore constructs a memory-backed Store and starts its expiry loop.
func NewMemoryStore(cfg *MemoryConfig) (*MemoryStore, error) {
	settings := MemoryConfig{
		CleanupInterval: defaultCleanupInterval,
		Clock:           clock.NewRealClock(),
	}
	if cfg != nil {
		if cfg.CleanupInterval < 0 {
			return nil, Error.New("cleanup_interval must be positive, got %s", cfg.CleanupInterval)
		}
		if cfg.CleanupInterval > 0 {
			settings.CleanupInterval = cfg.CleanupInterval
		}
		if cfg.Clock != nil {
			settings.Clock = cfg.Clock
		}
	}

	s := &MemoryStore{
		clock:           settings.Clock,
		cleanupInterval: settings.CleanupInterval,
		windows:         make(map[string]*windowLog),
		buckets:         make(map[string]*bucketState),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	go s.cleanupLoop()

	return s, nil
}

// SlidingWindow implements Store.
func (s *MemoryStore) SlidingWindow(ctx context.Context, req WindowRequest) (WindowResult, error) {
	if err := ctx.Err(); err != nil {
		return WindowResult{}, Error.Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.admit(SlidingKey(req.Identifier), req), nil
}

// PeekWindow implements Store.
func (s *MemoryStore) PeekWindow(ctx context.Context, req WindowRequest) (WindowResult, error) {
	if err := ctx.Err(); err != nil {
		return WindowResult{}, Error.Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := SlidingKey(req.Identifier)
	if _, ok := s.windows[key]; !ok {
		return WindowResult{Allowed: req.Limit > 0}, nil
	}

	log := s.prune(key, req.Now, req.Window)
	return WindowResult{
		Allowed: log.count() < req.Limit,
		Count:   log.count(),
		Oldest:  log.oldest(),
	}, nil
}

// Distributed implements Store.
func (s *MemoryStore) Distributed(ctx context.Context, req DistributedRequest) (WindowResult, error) {
	if err := ctx.Err(); err != nil {
		return WindowResult{}, Error.Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.admit(GlobalKey(req.Identifier), req.WindowRequest)
	if res.Allowed && !s.failLocal {
		local := req.WindowRequest
		local.Limit = math.MaxInt
		s.admit(LocalKey(req.Identifier, req.ServerID), local)
	}
	return res, nil
}

// TokenBucket implements Store.
func (s *MemoryStore) TokenBucket(ctx context.Context, req BucketRequest) (BucketResult, error) {
	if err := ctx.Err(); err != nil {
		return BucketResult{}, Error.Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := BucketKey(req.Identifier)
	now := truncMillis(req.Now)
	b, ok := s.buckets[key]
	if !ok || !now.Before(b.expireAt) {
		b = &bucketState{tokens: float64(req.Burst), last: now}
		s.buckets[key] = b
	}

	elapsed := now.Sub(b.last)
	if elapsed < 0 {
		elapsed = 0
	}
	refill := math.Floor(float64(elapsed.Milliseconds()) * float64(req.Rate) / float64(req.Window.Milliseconds()))
	b.tokens = math.Min(b.tokens+refill, float64(req.Burst))

	allowed := false
	if b.tokens >= 1 {
		b.tokens--
		allowed = true
	}
	b.last = now
	b.expireAt = now.Add(BucketTTL(req.Rate, req.Burst, req.Window))

	return BucketResult{Allowed: allowed, Tokens: b.tokens}, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context, pattern string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, Error.Wrap(err)
	}
	if pattern == "" {
		return 0, Error.New("clear pattern is required")
	}

	var matchers []*regexp.Regexp
	for _, p := range clearPatterns(pattern) {
		matchers = append(matchers, globRegexp(p))
	}
	matches := func(key string) bool {
		for _, m := range matchers {
			if m.MatchString(key) {
				return true
			}
		}
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key := range s.windows {
		if matches(key) {
			delete(s.windows, key)
			deleted++
		}
	}
	for key := range s.buckets {
		if matches(key) {
			delete(s.buckets, key)
			deleted++
		}
	}
	return deleted, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(ctx context.Context, identifier string) (WindowStats, error) {
	if err := ctx.Err(); err != nil {
		return WindowStats{}, Error.Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.windows[SlidingKey(identifier)]
	if !ok || !s.clock.Now().Before(log.expireAt) || len(log.entries) == 0 {
		return WindowStats{}, nil
	}
	return WindowStats{
		Requests: len(log.entries),
		Oldest:   log.entries[0].at,
		Newest:   log.entries[len(log.entries)-1].at,
	}, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return Error.Wrap(ctx.Err())
}

// Close stops background cleanup. It is idempotent.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
	return nil
}

// admit is the sliding window step shared by SlidingWindow and Distributed.
// Must be called with s.mu held.
func (s *MemoryStore) admit(key string, req WindowRequest) WindowResult {
	log := s.prune(key, req.Now, req.Window)
	count := log.count()

	res := WindowResult{Count: count}
	if count < req.Limit {
		log.insert(windowEntry{at: truncMillis(req.Now), member: req.Member})
		log.expireAt = req.Now.Add(req.Window)
		res.Allowed = true
	}
	res.Oldest = log.oldest()
	return res
}

// prune drops entries at or before now-window and returns the record,
// creating it if needed. Must be called with s.mu held.
func (s *MemoryStore) prune(key string, now time.Time, window time.Duration) *windowLog {
	log, ok := s.windows[key]
	if !ok || !now.Before(log.expireAt) {
		log = &windowLog{expireAt: now.Add(window)}
		s.windows[key] = log
	}

	windowStart := truncMillis(now).Add(-window)
	i := sort.Search(len(log.entries), func(i int) bool {
		return log.entries[i].at.After(windowStart)
	})
	log.entries = log.entries[i:]
	return log
}

func (l *windowLog) count() int {
	return len(l.entries)
}

func (l *windowLog) oldest() time.Time {
	if len(l.entries) == 0 {
		return time.Time{}
	}
	return l.entries[0].at
}

// insert keeps entries ordered by time, as a sorted set would.
func (l *windowLog) insert(e windowEntry) {
	i := sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].at.After(e.at)
	})
	l.entries = append(l.entries, windowEntry{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = e
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer func() {
		ticker.Stop()
		close(s.doneCh)
	}()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup plays the role of the store TTL: expired records are dropped.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for key, log := range s.windows {
		if !now.Before(log.expireAt) {
			delete(s.windows, key)
		}
	}
	for key, b := range s.buckets {
		if !now.Before(b.expireAt) {
			delete(s.buckets, key)
		}
	}
}

// truncMillis matches the millisecond scores the Redis backend stores.
func truncMillis(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}

// globRegexp translates a Redis style glob (*, ?, [...], \x) to an anchored
// regexp.
func globRegexp(glob string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "^") {
				class = "^" + regexp.QuoteMeta(class[1:])
			} else {
				class = regexp.QuoteMeta(class)
			}
			b.WriteString("[" + class + "]")
			i += end + 1
		case '\\':
			if i+1 < len(glob) {
				i++
				b.WriteString(regexp.QuoteMeta(string(glob[i])))
			} else {
				b.WriteString(`\\`)
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
