package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/bdobrica/kotoba/internal/kotoba/kv"
	"github.com/bdobrica/kotoba/internal/kotoba/shard"
)

// Namespace is the kv key prefix for profile snapshots.
const Namespace = "profile"

// Config tunes the learning store. Zero values take the package defaults.
type Config struct {
	Alpha       float64
	DecayFactor float64
	DecayAfter  time.Duration
	// FlushInterval is how often dirty profiles are written to the kv store.
	FlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = DefaultAlpha
	}
	if c.DecayFactor <= 0 || c.DecayFactor >= 1 {
		c.DecayFactor = DefaultDecayFactor
	}
	if c.DecayAfter <= 0 {
		c.DecayAfter = DefaultDecayAfter
	}
	return c
}

// Store owns every user's Profile. Profiles are loaded lazily from the kv
// store and written back asynchronously through a kv.Writer. Access to one
// user's profile is serialized; different users proceed in parallel.
type Store struct {
	cfg    Config
	kv     kv.Store
	writer *kv.Writer
	locks  *shard.Locker
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewStore returns a Store backed by store. If logger is nil, the default
// slog logger is used.
func NewStore(store kv.Store, cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	s := &Store{
		cfg:      cfg,
		kv:       store,
		locks:    shard.New(0),
		logger:   logger,
		now:      time.Now,
		profiles: make(map[string]*Profile),
	}
	s.writer = kv.NewWriter(store, s, Namespace, cfg.FlushInterval, logger)
	return s
}

// Writer returns the background writer. Run it in its own goroutine.
func (s *Store) Writer() *kv.Writer { return s.writer }

// Flush writes every dirty profile now.
func (s *Store) Flush(ctx context.Context) error { return s.writer.Flush(ctx) }

// load returns the cached profile for user, reading it from the kv store on
// first access. Must be called with the user's stripe held.
func (s *Store) load(ctx context.Context, user string) (*Profile, error) {
	s.mu.RLock()
	p, ok := s.profiles[user]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	var snap Profile
	err := kv.GetJSON(ctx, s.kv, kv.Key(Namespace, user), &snap)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		p = newProfile(user)
	case err != nil:
		return nil, fmt.Errorf("learning: load profile %s: %w", user, err)
	default:
		snap.UserID = user
		snap.ensureMaps()
		p = &snap
	}

	s.mu.Lock()
	s.profiles[user] = p
	s.mu.Unlock()
	return p, nil
}

// Record applies one execution outcome for intent, matched via pattern, and
// schedules the profile for persistence.
func (s *Store) Record(ctx context.Context, user, intent, pattern string, success bool) error {
	defer s.locks.Lock(user)()

	p, err := s.load(ctx, user)
	if err != nil {
		return err
	}
	now := s.now()
	p.decay(s.cfg.DecayFactor, s.cfg.DecayAfter, now)
	p.record(intent, pattern, success, s.cfg.Alpha, now)
	s.writer.MarkDirty(user)

	s.logger.Debug("learning: recorded outcome",
		"user", user,
		"intent", intent,
		"success", success,
		"rate", p.SuccessRate[intent],
	)
	return nil
}

// SuccessRate returns the user's decayed success rate for intent, or 0 when
// the intent has never been executed.
func (s *Store) SuccessRate(ctx context.Context, user, intent string) (float64, error) {
	defer s.locks.Lock(user)()

	p, err := s.load(ctx, user)
	if err != nil {
		return 0, err
	}
	if p.decay(s.cfg.DecayFactor, s.cfg.DecayAfter, s.now()) {
		s.writer.MarkDirty(user)
	}
	return p.SuccessRate[intent], nil
}

// Profile returns a decayed copy of the user's profile.
func (s *Store) Profile(ctx context.Context, user string) (Profile, error) {
	defer s.locks.Lock(user)()

	p, err := s.load(ctx, user)
	if err != nil {
		return Profile{}, err
	}
	if p.decay(s.cfg.DecayFactor, s.cfg.DecayAfter, s.now()) {
		s.writer.MarkDirty(user)
	}
	return p.Clone(), nil
}

// Preference returns a stored user preference.
func (s *Store) Preference(ctx context.Context, user, key string) (string, bool, error) {
	defer s.locks.Lock(user)()

	p, err := s.load(ctx, user)
	if err != nil {
		return "", false, err
	}
	v, ok := p.Preferences[key]
	return v, ok, nil
}

// SetPreference stores a user preference. An empty value removes it.
func (s *Store) SetPreference(ctx context.Context, user, key, value string) error {
	defer s.locks.Lock(user)()

	p, err := s.load(ctx, user)
	if err != nil {
		return err
	}
	if value == "" {
		delete(p.Preferences, key)
	} else {
		p.Preferences[key] = value
	}
	s.writer.MarkDirty(user)
	return nil
}

// Sweep applies the idle decay to every loaded profile and returns how many
// changed. Changed profiles are queued for persistence.
func (s *Store) Sweep() int {
	s.mu.RLock()
	users := slices.Collect(maps.Keys(s.profiles))
	s.mu.RUnlock()

	now := s.now()
	changed := 0
	for _, user := range users {
		s.locks.With(user, func() {
			s.mu.RLock()
			p := s.profiles[user]
			s.mu.RUnlock()
			if p != nil && p.decay(s.cfg.DecayFactor, s.cfg.DecayAfter, now) {
				s.writer.MarkDirty(user)
				changed++
			}
		})
	}
	return changed
}

// Snapshot implements kv.Snapshotter.
func (s *Store) Snapshot(user string) (any, bool) {
	defer s.locks.Lock(user)()

	s.mu.RLock()
	p, ok := s.profiles[user]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

var _ kv.Snapshotter = (*Store)(nil)
