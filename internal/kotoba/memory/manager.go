package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/bdobrica/kotoba/internal/kotoba/kv"
	"github.com/bdobrica/kotoba/internal/kotoba/shard"
)

// Namespace is the kv key prefix for memory snapshots.
const Namespace = "memory"

// Relevance weights.
const (
	overlapWeight    = 0.5
	similarityWeight = 0.3
	recencyWeight    = 0.2
)

// Config holds the retention and retrieval limits.
type Config struct {
	// Capacity bounds the entries kept per user. Default: 100.
	Capacity int
	// TopK bounds the entries Retrieve returns. Default: 5.
	TopK int
	// Floor is the minimum relevance Retrieve returns. DefaultConfig sets
	// 0.5; unlike the other fields, zero is kept and disables the floor.
	Floor float64
	// DecayWindow scales recency in both relevance and eviction. Default: 24h.
	DecayWindow time.Duration
	// CompressThreshold is the serialized entry size, in bytes, above which
	// the message is compressed. Default: 2048.
	CompressThreshold int
	// KeepChars is how many leading and trailing characters compression
	// preserves. Default: 256.
	KeepChars int
	// FlushInterval is how often dirty snapshots are written. Default: 5s.
	FlushInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:          100,
		TopK:              5,
		Floor:             0.5,
		DecayWindow:       24 * time.Hour,
		CompressThreshold: 2048,
		KeepChars:         256,
		FlushInterval:     5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.Floor < 0 {
		c.Floor = 0
	}
	if c.DecayWindow <= 0 {
		c.DecayWindow = d.DecayWindow
	}
	if c.CompressThreshold <= 0 {
		c.CompressThreshold = d.CompressThreshold
	}
	if c.KeepChars <= 0 {
		c.KeepChars = d.KeepChars
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	return c
}

// Scored is an entry with its relevance to a query.
type Scored struct {
	Entry     Entry   `json:"entry"`
	Relevance float64 `json:"relevance"`
}

// Record is the input to Add.
type Record struct {
	Message  string
	Response string
	// Confidence is the recognition confidence of the turn, if any.
	Confidence float64
	Tags       []string
	// Meta overrides the heuristic analysis of Message when non-nil.
	Meta *Metadata
}

type snapshot struct {
	Entries []Entry `json:"entries"`
}

// Manager owns every user's memory. Stores are loaded lazily from the kv
// store and written back asynchronously.
type Manager struct {
	cfg    Config
	sim    SimilarityStrategy
	kv     kv.Store
	writer *kv.Writer
	locks  *shard.Locker
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	users map[string][]Entry
}

// NewManager returns a Manager backed by store. A nil sim uses TokenOverlap;
// a nil logger uses the default slog logger.
func NewManager(store kv.Store, cfg Config, sim SimilarityStrategy, logger *slog.Logger) *Manager {
	if sim == nil {
		sim = TokenOverlap{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:    cfg,
		sim:    sim,
		kv:     store,
		locks:  shard.New(0),
		logger: logger,
		now:    time.Now,
		users:  make(map[string][]Entry),
	}
	m.writer = kv.NewWriter(store, m, Namespace, cfg.FlushInterval, logger)
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Writer returns the background writer. Run it in its own goroutine.
func (m *Manager) Writer() *kv.Writer { return m.writer }

// Flush writes every dirty snapshot now.
func (m *Manager) Flush(ctx context.Context) error { return m.writer.Flush(ctx) }

// load returns the user's entries, reading them on first access. Must be
// called with the user's stripe held.
func (m *Manager) load(ctx context.Context, user string) ([]Entry, error) {
	m.mu.RLock()
	entries, ok := m.users[user]
	m.mu.RUnlock()
	if ok {
		return entries, nil
	}

	var snap snapshot
	err := kv.GetJSON(ctx, m.kv, kv.Key(Namespace, user), &snap)
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("memory: load %s: %w", user, err)
	}
	entries = snap.Entries
	if len(entries) > m.cfg.Capacity {
		entries = entries[len(entries)-m.cfg.Capacity:]
	}
	m.set(user, entries)
	return entries, nil
}

func (m *Manager) set(user string, entries []Entry) {
	m.mu.Lock()
	m.users[user] = entries
	m.mu.Unlock()
}

// Add stores a new entry for user, compressing it if it is too large and
// evicting the least worth retaining entry when over capacity.
func (m *Manager) Add(ctx context.Context, user string, rec Record) (Entry, error) {
	defer m.locks.Lock(user)()

	entries, err := m.load(ctx, user)
	if err != nil {
		return Entry{}, err
	}

	meta := Analyze(rec.Message)
	if rec.Meta != nil {
		meta = *rec.Meta
	}
	tags := slices.Clone(rec.Tags)
	for _, t := range meta.Tags() {
		if !slices.Contains(tags, t) {
			tags = append(tags, t)
		}
	}

	e := Entry{
		ID:         uuid.NewString(),
		UserID:     user,
		Message:    rec.Message,
		Response:   rec.Response,
		Confidence: rec.Confidence,
		Timestamp:  m.now(),
		Importance: meta.Importance(),
		Tags:       tags,
	}
	e = m.compress(e)

	// Build a new slice so snapshots handed out earlier never change.
	next := make([]Entry, 0, len(entries)+1)
	next = append(next, entries...)
	next = append(next, e)
	for len(next) > m.cfg.Capacity {
		next = m.evict(next)
	}
	m.set(user, next)
	m.writer.MarkDirty(user)

	m.logger.Debug("memory: stored entry",
		"user", user,
		"entry_id", e.ID,
		"importance", e.Importance,
		"compressed", e.Compressed,
		"size", len(next),
	)
	return e.Clone(), nil
}

// compress shortens the message and response of an entry whose serialized
// form exceeds the threshold.
func (m *Manager) compress(e Entry) Entry {
	data, err := sonic.Marshal(e)
	if err != nil || len(data) <= m.cfg.CompressThreshold {
		return e
	}
	var did bool
	if s, ok := compressText(e.Message, m.cfg.KeepChars); ok {
		e.Message, did = s, true
	}
	if s, ok := compressText(e.Response, m.cfg.KeepChars); ok {
		e.Response, did = s, true
	}
	e.Compressed = did
	return e
}

// evict removes the entry with the lowest retention. The last entry is the
// one being added and is never a candidate. The oldest entry wins ties.
func (m *Manager) evict(entries []Entry) []Entry {
	now := m.now()
	victim := 0
	lowest := math.Inf(1)
	for i, e := range entries[:len(entries)-1] {
		if r := e.retention(now, m.cfg.DecayWindow); r < lowest {
			lowest, victim = r, i
		}
	}
	m.logger.Debug("memory: evicted entry", "user", entries[victim].UserID, "entry_id", entries[victim].ID)
	return slices.Delete(entries, victim, victim+1)
}

// relevance scores e against the query words.
func (m *Manager) relevance(ctx context.Context, query string, qwords map[string]struct{}, e Entry, now time.Time) float64 {
	overlap := tokenOverlap(qwords, e.Message)
	sim := min(max(m.sim.Similarity(ctx, query, e.Message), 0), 1)
	age := max(now.Sub(e.Timestamp), 0)
	recency := max(0, 1-float64(age)/float64(m.cfg.DecayWindow))
	return min(overlapWeight*overlap+similarityWeight*sim+recencyWeight*recency, 1)
}

// Retrieve returns up to TopK entries whose relevance to query is at least
// the floor, most relevant first. Equal scores keep the newer entry first.
func (m *Manager) Retrieve(ctx context.Context, user, query string) ([]Scored, error) {
	entries, err := m.entries(ctx, user)
	if err != nil {
		return nil, err
	}

	now := m.now()
	qwords := words(query)
	var out []Scored
	for _, e := range entries {
		r := m.relevance(ctx, query, qwords, e, now)
		if r >= m.cfg.Floor {
			out = append(out, Scored{Entry: e.Clone(), Relevance: r})
		}
	}
	slices.SortStableFunc(out, func(a, b Scored) int {
		if c := cmp.Compare(b.Relevance, a.Relevance); c != 0 {
			return c
		}
		return b.Entry.Timestamp.Compare(a.Entry.Timestamp)
	})
	if len(out) > m.cfg.TopK {
		out = out[:m.cfg.TopK]
	}
	return out, nil
}

// entries returns the user's current slice. Slices are replaced, never
// mutated, so the result may be read without the lock.
func (m *Manager) entries(ctx context.Context, user string) ([]Entry, error) {
	defer m.locks.Lock(user)()
	return m.load(ctx, user)
}

// Recent returns up to n of the user's newest entries, oldest first.
func (m *Manager) Recent(ctx context.Context, user string, n int) ([]Entry, error) {
	entries, err := m.entries(ctx, user)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out, nil
}

// RecentIntents returns the intents of the user's newest entries, oldest
// first, skipping entries without an intent tag.
func (m *Manager) RecentIntents(ctx context.Context, user string, n int) ([]string, error) {
	entries, err := m.Recent(ctx, user, n)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if name := e.Intent(); name != "" {
			out = append(out, name)
		}
	}
	return out, nil
}

// Len returns the number of entries stored for user.
func (m *Manager) Len(ctx context.Context, user string) (int, error) {
	entries, err := m.entries(ctx, user)
	return len(entries), err
}

// Clear removes every entry for user and deletes the persisted snapshot. The
// delete goes through the writer so a flush already in progress cannot put
// the old entries back. If it fails the next flush retries it.
func (m *Manager) Clear(ctx context.Context, user string) error {
	m.locks.With(user, func() { m.set(user, nil) })

	if err := m.writer.Sync(ctx, user); err != nil {
		return fmt.Errorf("memory: clear %s: %w", user, err)
	}
	m.logger.Info("memory: cleared", "user", user)
	return nil
}

// Snapshot implements kv.Snapshotter.
func (m *Manager) Snapshot(user string) (any, bool) {
	defer m.locks.Lock(user)()

	m.mu.RLock()
	entries := m.users[user]
	m.mu.RUnlock()
	if len(entries) == 0 {
		return nil, false
	}
	return snapshot{Entries: slices.Clone(entries)}, true
}

var _ kv.Snapshotter = (*Manager)(nil)
