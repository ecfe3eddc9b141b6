package actions

import "sync"

// StatusProjection tracks the most recent status action and the most recent
// ones that changed the effective state, both for the authenticated view and
// for the public (private folded into closed) view. It is rebuilt by linear
// replay and updated in O(1) per append.
type StatusProjection struct {
	mu            sync.RWMutex
	last          *Action
	changed       *Action
	changedPublic *Action
}

// NewStatusProjection returns an empty projection.
func NewStatusProjection() *StatusProjection {
	return &StatusProjection{}
}

// Fold applies one appended action. Non-status actions are ignored.
func (p *StatusProjection) Fold(a Action) {
	if a.Type != TypeStatus {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil || p.last.Status != a.Status {
		changed := a
		p.changed = &changed
	}
	if p.last == nil || publicStatus(p.last.Status) != publicStatus(a.Status) {
		changedPublic := a
		p.changedPublic = &changedPublic
	}
	last := a
	p.last = &last
}

// Current returns the last status action and the last one that changed the
// status value. ok is false until the first status action is folded.
func (p *StatusProjection) Current() (last Action, changed Action, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil || p.changed == nil {
		return Action{}, Action{}, false
	}
	return *p.last, *p.changed, true
}

// ChangedPublic returns the last status action whose public-mapped status
// differs from its predecessor's. It drives the public stream, the public
// current view, and the SpaceAPI patch.
func (p *StatusProjection) ChangedPublic() (Action, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.changedPublic == nil {
		return Action{}, false
	}
	return *p.changedPublic, true
}
