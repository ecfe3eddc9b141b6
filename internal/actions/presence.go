package actions

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// PresenceTimeout evicts a user after this much silence.
	PresenceTimeout = 15 * time.Minute
	// PresenceTickInterval is the period of the background evaluation.
	PresenceTickInterval = 10 * time.Minute
)

type presenceEntry struct {
	since    int64
	lastSeen int64
}

// PresenceTable is the only mutable-in-place state of the model: a volatile
// mapping user -> presence window. Mutation happens exclusively through
// Record and the eviction performed under the table lock; entries expire by
// timeout, never by explicit deletion.
type PresenceTable struct {
	mu      sync.Mutex
	clock   func() time.Time
	entries map[string]*presenceEntry
}

// NewPresenceTable returns an empty table using the given clock.
func NewPresenceTable(clock func() time.Time) *PresenceTable {
	if clock == nil {
		clock = time.Now
	}
	return &PresenceTable{clock: clock, entries: make(map[string]*presenceEntry)}
}

// Record upserts a presence ping. A fresh entry starts its window at now; an
// existing one keeps its since and only refreshes the internal last-seen.
func (t *PresenceTable) Record(user string) PresentUser {
	now := t.clock().Unix()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked(now)
	entry, ok := t.entries[user]
	if !ok {
		entry = &presenceEntry{since: now}
		t.entries[user] = entry
	}
	entry.lastSeen = now
	return PresentUser{Name: user, Since: entry.since}
}

// CurrentList evicts stale entries and returns the table sorted by name.
func (t *PresenceTable) CurrentList() []PresentUser {
	now := t.clock().Unix()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked(now)
	out := make([]PresentUser, 0, len(t.entries))
	for name, entry := range t.entries {
		out = append(out, PresentUser{Name: name, Since: entry.since})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *PresenceTable) evictLocked(now int64) {
	deadline := now - int64(PresenceTimeout/time.Second)
	for name, entry := range t.entries {
		if entry.lastSeen < deadline {
			delete(t.entries, name)
		}
	}
}

// TickerConfig configures the presence ticker.
type TickerConfig struct {
	Service  *Service
	Interval time.Duration
	Logger   *zap.Logger
}

// Ticker periodically evaluates the presence table and appends a presence
// action whenever the set of present users changed since the last emitted
// snapshot. Unchanged membership appends nothing, so steady-state presence
// does not grow the log.
type Ticker struct {
	service  *Service
	interval time.Duration
	logger   *zap.Logger
	lastSet  []string
}

// NewTicker returns a ticker; Run must be called on a single goroutine.
func NewTicker(cfg TickerConfig) *Ticker {
	interval := cfg.Interval
	if interval <= 0 {
		interval = PresenceTickInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ticker{service: cfg.Service, interval: interval, logger: logger}
}

// Run seeds the baseline from the last persisted presence action and then
// evaluates on a fixed period until the context is cancelled.
func (tk *Ticker) Run(ctx context.Context) {
	if last, ok, err := tk.service.LastMatching(Selector(TypePresence)); err != nil {
		tk.logger.Warn("presence baseline load failed", zap.Error(err))
	} else if ok {
		tk.lastSet = userNames(last.Users)
	}

	ticker := time.NewTicker(tk.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tk.tick()
		}
	}
}

func (tk *Ticker) tick() {
	list := tk.service.PresenceList()
	names := userNames(list)
	if setEqual(names, tk.lastSet) {
		return
	}
	note := presenceNote(missing(names, tk.lastSet), missing(tk.lastSet, names))
	action, err := tk.service.EmitPresence(list, note)
	if err != nil {
		tk.logger.Error("presence snapshot append failed", zap.Error(err))
		return
	}
	tk.lastSet = names
	tk.logger.Info("presence changed",
		zap.Uint64("id", action.ID),
		zap.Int("present", len(list)),
		zap.String("note", note))
}

func userNames(users []PresentUser) []string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Name)
	}
	return names
}

// setEqual compares membership; both slices are sorted by construction.
func setEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// missing returns the entries of a that are absent from b.
func missing(a, b []string) []string {
	present := make(map[string]struct{}, len(b))
	for _, name := range b {
		present[name] = struct{}{}
	}
	var out []string
	for _, name := range a {
		if _, ok := present[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// presenceNote renders a human-readable join/leave summary, for example
// "Hans Acker joined, Frank Nord left".
func presenceNote(joined, left []string) string {
	parts := make([]string, 0, len(joined)+len(left))
	for _, name := range joined {
		parts = append(parts, name+" joined")
	}
	for _, name := range left {
		parts = append(parts, name+" left")
	}
	return clampNote(strings.Join(parts, ", "))
}
