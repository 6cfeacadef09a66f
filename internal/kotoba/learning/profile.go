// Package learning keeps per-user feedback about which intents work.
//
// Every turn that reaches execution updates the user's Profile: pattern usage
// counts, an exponential moving average of command success per intent, and
// the time the intent was last used. Rates for intents left unused decay
// slowly so stale preferences lose influence without being forgotten.
package learning

import (
	"maps"
	"math"
	"time"
)

const (
	// DefaultAlpha is the EMA weight given to the newest outcome.
	DefaultAlpha = 0.1
	// DefaultDecayFactor multiplies a success rate once per idle period.
	DefaultDecayFactor = 0.95
	// DefaultDecayAfter is the idle period.
	DefaultDecayAfter = 24 * time.Hour
)

// Profile is one user's learning state.
type Profile struct {
	UserID       string               `json:"user_id"`
	SuccessRate  map[string]float64   `json:"success_rate"`
	PatternUsage map[string]int       `json:"pattern_usage"`
	LastUsed     map[string]time.Time `json:"last_used"`
	Preferences  map[string]string    `json:"preferences,omitempty"`
	// Decays counts the idle periods already applied to each intent since
	// it was last used, which keeps decay idempotent across repeated reads.
	Decays map[string]int `json:"decays,omitempty"`
}

func newProfile(user string) *Profile {
	return &Profile{
		UserID:       user,
		SuccessRate:  make(map[string]float64),
		PatternUsage: make(map[string]int),
		LastUsed:     make(map[string]time.Time),
		Preferences:  make(map[string]string),
		Decays:       make(map[string]int),
	}
}

// ensureMaps fills nil maps left by decoding an older or partial snapshot.
func (p *Profile) ensureMaps() {
	if p.SuccessRate == nil {
		p.SuccessRate = make(map[string]float64)
	}
	if p.PatternUsage == nil {
		p.PatternUsage = make(map[string]int)
	}
	if p.LastUsed == nil {
		p.LastUsed = make(map[string]time.Time)
	}
	if p.Preferences == nil {
		p.Preferences = make(map[string]string)
	}
	if p.Decays == nil {
		p.Decays = make(map[string]int)
	}
}

// Clone returns a deep copy of p.
func (p *Profile) Clone() Profile {
	return Profile{
		UserID:       p.UserID,
		SuccessRate:  maps.Clone(p.SuccessRate),
		PatternUsage: maps.Clone(p.PatternUsage),
		LastUsed:     maps.Clone(p.LastUsed),
		Preferences:  maps.Clone(p.Preferences),
		Decays:       maps.Clone(p.Decays),
	}
}

// record applies one execution outcome.
func (p *Profile) record(intent, pattern string, success bool, alpha float64, now time.Time) {
	if pattern != "" {
		p.PatternUsage[pattern]++
	}
	target := 0.0
	if success {
		target = 1.0
	}
	rate := p.SuccessRate[intent]
	p.SuccessRate[intent] = rate + alpha*(target-rate)
	p.LastUsed[intent] = now
	delete(p.Decays, intent)
}

// decay applies any idle periods that elapsed since the last application and
// reports whether a rate changed.
func (p *Profile) decay(factor float64, after time.Duration, now time.Time) bool {
	changed := false
	for intent, last := range p.LastUsed {
		idle := now.Sub(last)
		if idle <= after {
			continue
		}
		due := int(idle / after)
		applied := p.Decays[intent]
		if due <= applied {
			continue
		}
		if rate, ok := p.SuccessRate[intent]; ok {
			p.SuccessRate[intent] = rate * math.Pow(factor, float64(due-applied))
		}
		p.Decays[intent] = due
		changed = true
	}
	return changed
}
