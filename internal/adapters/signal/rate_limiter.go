package signal

import (
	"sync"
	"time"
)

// Rule allows Limit sends of one message within any Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// window keeps the send times of the last Limit allowed messages, oldest
// at next.
type window struct {
	rule  Rule
	sent  []time.Time
	next  int
	count int
}

func (w *window) allow(now time.Time) bool {
	if w.count < len(w.sent) {
		w.sent[(w.next+w.count)%len(w.sent)] = now
		w.count++
		return true
	}
	if now.Sub(w.sent[w.next]) < w.rule.Window {
		return false
	}
	w.sent[w.next] = now
	w.next = (w.next + 1) % len(w.sent)
	return true
}

// RateLimiter throttles outgoing messages by name. Names without a rule
// are never limited.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewRateLimiter builds a limiter from rules. Rules with a non-positive
// limit or window are ignored.
func NewRateLimiter(rules map[string]Rule) *RateLimiter {
	rl := &RateLimiter{windows: make(map[string]*window, len(rules)), now: time.Now}
	for name, r := range rules {
		if r.Limit <= 0 || r.Window <= 0 {
			continue
		}
		rl.windows[name] = &window{rule: r, sent: make([]time.Time, r.Limit)}
	}
	return rl
}

// Allow records a send of name and reports whether it fits its rule.
func (rl *RateLimiter) Allow(name string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.windows[name]
	if !ok {
		return true
	}
	return w.allow(rl.now())
}
