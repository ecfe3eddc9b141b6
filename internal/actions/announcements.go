package actions

import (
	"fmt"
	"sort"
	"sync"
)

// Announcement is the fold of all announcement actions sharing an aid,
// latest-wins per field. A folded del is terminal.
type Announcement struct {
	AID     uint64
	User    string
	From    int64
	To      int64
	Public  bool
	Note    string
	Deleted bool
}

// AnnouncementProjection maintains aid -> current entity and the aid counter.
// aids live in their own numbering space, independent of action ids.
type AnnouncementProjection struct {
	mu     sync.RWMutex
	byAID  map[uint64]*Announcement
	maxAID uint64
}

// NewAnnouncementProjection returns an empty projection.
func NewAnnouncementProjection() *AnnouncementProjection {
	return &AnnouncementProjection{byAID: make(map[uint64]*Announcement)}
}

// Fold applies one appended action. Non-announcement actions are ignored.
func (p *AnnouncementProjection) Fold(a Action) {
	if a.Type != TypeAnnouncement {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if a.AID > p.maxAID {
		p.maxAID = a.AID
	}
	entity, ok := p.byAID[a.AID]
	if !ok {
		entity = &Announcement{AID: a.AID}
		p.byAID[a.AID] = entity
	}
	entity.User = a.User
	entity.From = a.From
	entity.To = a.To
	if a.Public != nil {
		entity.Public = *a.Public
	}
	entity.Note = a.Note
	if a.Method == MethodDel {
		entity.Deleted = true
	}
}

// Get returns a copy of the current entity for an aid.
func (p *AnnouncementProjection) Get(aid uint64) (Announcement, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entity, ok := p.byAID[aid]
	if !ok {
		return Announcement{}, false
	}
	return *entity, true
}

// NextAID returns the next free announcement identity. Callers must hold the
// service write lock so the returned aid cannot be handed out twice.
func (p *AnnouncementProjection) NextAID() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxAID + 1
}

// Validate checks an announcement action against the projection state before
// it may be appended. now is the server time in seconds.
func (p *AnnouncementProjection) Validate(a Action, now int64) error {
	switch a.Method {
	case MethodNew:
		if a.AID != 0 {
			return fmt.Errorf("%w: aid is assigned by the server on new", ErrBadRequest)
		}
		if a.From > a.To {
			return fmt.Errorf("%w: announcement from after to", ErrBadRequest)
		}
		return nil
	case MethodMod:
		if _, err := p.mutableEntity(a.AID, now); err != nil {
			return err
		}
		if a.From > a.To {
			return fmt.Errorf("%w: announcement from after to", ErrBadRequest)
		}
		if a.To < now {
			return fmt.Errorf("%w: cannot move announcement end into the past", ErrForbidden)
		}
		return nil
	case MethodDel:
		_, err := p.mutableEntity(a.AID, now)
		return err
	default:
		return fmt.Errorf("%w: unknown announcement method %q", ErrBadRequest, a.Method)
	}
}

// mutableEntity resolves an aid that may still be modified: it must exist,
// must not be deleted, and its window must not have fully elapsed.
func (p *AnnouncementProjection) mutableEntity(aid uint64, now int64) (Announcement, error) {
	if aid == 0 {
		return Announcement{}, fmt.Errorf("%w: aid is required", ErrBadRequest)
	}
	entity, ok := p.Get(aid)
	if !ok || entity.Deleted {
		return Announcement{}, fmt.Errorf("%w: announcement %d", ErrNotFound, aid)
	}
	if entity.To < now {
		return Announcement{}, fmt.Errorf("%w: announcement %d already ended", ErrForbidden, aid)
	}
	return entity, nil
}

// Current lists not-deleted entities whose window has not ended, ordered by
// start time, then aid.
func (p *AnnouncementProjection) Current(now int64) []Announcement {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Announcement, 0, len(p.byAID))
	for _, entity := range p.byAID {
		if entity.Deleted || entity.To < now {
			continue
		}
		out = append(out, *entity)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].AID < out[j].AID
	})
	return out
}

// CurrentPublic is Current restricted to public entities.
func (p *AnnouncementProjection) CurrentPublic(now int64) []Announcement {
	all := p.Current(now)
	out := make([]Announcement, 0, len(all))
	for _, entity := range all {
		if entity.Public {
			out = append(out, entity)
		}
	}
	return out
}
