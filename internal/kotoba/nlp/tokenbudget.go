package nlp

import (
	"sync"
	"time"
)

// DefaultTokenBudget is the number of model tokens a user may spend per UTC day.
const DefaultTokenBudget = 50_000

// TokenBudget enforces a per-user daily token allowance for model calls.
// Counters reset at midnight UTC. Check Allow before a call and RecordUsage
// after it.
type TokenBudget struct {
	mu     sync.Mutex
	budget int
	now    func() time.Time
	usage  map[string]*dailyUsage
}

type dailyUsage struct {
	tokens  int
	resetAt time.Time
}

// NewTokenBudget returns a budget of dailyBudget tokens per user; non-positive
// values use DefaultTokenBudget.
func NewTokenBudget(dailyBudget int) *TokenBudget {
	if dailyBudget <= 0 {
		dailyBudget = DefaultTokenBudget
	}
	return &TokenBudget{
		budget: dailyBudget,
		now:    time.Now,
		usage:  make(map[string]*dailyUsage),
	}
}

// Allow reports whether userID has budget left today. It does not consume any.
func (tb *TokenBudget) Allow(userID string) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	u := tb.current(userID)
	return u == nil || u.tokens < tb.budget
}

// RecordUsage adds tokens to userID's total for today.
func (tb *TokenBudget) RecordUsage(userID string, tokens int) {
	if tokens <= 0 {
		return
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	u := tb.current(userID)
	if u == nil {
		u = &dailyUsage{resetAt: nextMidnightUTC(tb.now())}
		tb.usage[userID] = u
	}
	u.tokens += tokens
}

// Remaining returns the tokens userID may still spend today.
func (tb *TokenBudget) Remaining(userID string) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	u := tb.current(userID)
	if u == nil {
		return tb.budget
	}
	return max(0, tb.budget-u.tokens)
}

// current returns today's counter for userID, discarding a stale one.
// Must be called with mu held.
func (tb *TokenBudget) current(userID string) *dailyUsage {
	u := tb.usage[userID]
	if u != nil && !tb.now().UTC().Before(u.resetAt) {
		delete(tb.usage, userID)
		return nil
	}
	return u
}

func nextMidnightUTC(now time.Time) time.Time {
	n := now.UTC()
	return time.Date(n.Year(), n.Month(), n.Day()+1, 0, 0, 0, 0, time.UTC)
}
