package actions

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingStore  = errors.New("action store is required")
	errMissingBroker = errors.New("stream broker is required")
)

// Sink receives every appended action for forwarding to an external pub/sub
// system. Forward must not block; delivery failures are the sink's problem.
type Sink interface {
	Forward(Action)
}

// ServiceConfig configures the action service.
type ServiceConfig struct {
	Store  *Store
	Broker *Broker
	Sink   Sink
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service is the facade over the action log: the single write path
// (validate, append, fold, fan out, forward) and the read paths over the
// projections and the query engine. Writes are serialized by one mutex so
// validation, id assignment and projection folds stay atomic with respect to
// concurrent writers; reads run in parallel against the projections' own
// locks.
type Service struct {
	mu     sync.Mutex
	store  *Store
	broker *Broker
	sink   Sink
	clock  func() time.Time
	logger *zap.Logger

	status        *StatusProjection
	announcements *AnnouncementProjection
	presence      *PresenceTable
}

// NewService builds the service, replays the full log into the projections
// and seeds an empty log with an initial closed status and empty presence
// snapshot so the current views always resolve.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Broker == nil {
		return nil, errMissingBroker
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:         cfg.Store,
		broker:        cfg.Broker,
		sink:          cfg.Sink,
		clock:         clock,
		logger:        logger,
		status:        NewStatusProjection(),
		announcements: NewAnnouncementProjection(),
		presence:      NewPresenceTable(clock),
	}

	replayed, err := s.replay()
	if err != nil {
		return nil, err
	}
	if replayed == 0 {
		if err := s.seed(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// replay folds the persisted log into fresh projection state.
func (s *Service) replay() (int, error) {
	log, err := s.store.All()
	if err != nil {
		return 0, err
	}
	for _, a := range log {
		s.fold(a)
	}
	if len(log) > 0 {
		s.logger.Info("action log replayed", zap.Int("actions", len(log)))
	}
	return len(log), nil
}

func (s *Service) seed() error {
	seedStatus := Action{
		Type:   TypeStatus,
		Note:   "initial state",
		User:   "statusd",
		Status: StatusClosed,
	}
	if _, err := s.append(seedStatus); err != nil {
		return err
	}
	seedPresence := Action{Type: TypePresence, Note: "initial state", Users: []PresentUser{}}
	_, err := s.append(seedPresence)
	return err
}

func (s *Service) fold(a Action) {
	s.status.Fold(a)
	s.announcements.Fold(a)
}

// append persists, folds and fans out one action. Callers hold s.mu (or are
// still single-threaded during construction).
func (s *Service) append(a Action) (Action, error) {
	appended, err := s.store.Append(a)
	if err != nil {
		return Action{}, err
	}
	s.fold(appended)
	s.broker.Publish(appended)
	if s.sink != nil {
		s.sink.Forward(appended)
	}
	return appended, nil
}

// SubmitStatus appends a status change on behalf of a user.
func (s *Service) SubmitStatus(user string, status Status, note string) (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(Action{
		Type:   TypeStatus,
		Note:   note,
		User:   user,
		Status: status,
	})
}

// AnnouncementRequest is a validated write request for an announcement
// lifecycle action. From and To are absolute timestamps.
type AnnouncementRequest struct {
	Method Method
	AID    uint64
	User   string
	Note   string
	From   int64
	To     int64
	Public bool
}

// SubmitAnnouncement validates the request against the announcement
// projection and appends the lifecycle action. On new the server assigns the
// aid; on del the entity's window and pre-deletion note are carried on the
// appended action, since the note is not stored as an entity field.
func (s *Service) SubmitAnnouncement(req AnnouncementRequest) (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().Unix()
	public := req.Public
	a := Action{
		Type:   TypeAnnouncement,
		Note:   req.Note,
		User:   req.User,
		Method: req.Method,
		AID:    req.AID,
		From:   req.From,
		To:     req.To,
		Public: &public,
	}
	if err := s.announcements.Validate(a, now); err != nil {
		return Action{}, err
	}
	switch req.Method {
	case MethodNew:
		a.AID = s.announcements.NextAID()
	case MethodDel:
		entity, _ := s.announcements.Get(req.AID)
		a.From = entity.From
		a.To = entity.To
		a.Note = entity.Note
		public = entity.Public
	}
	return s.append(a)
}

// RecordPresence registers a presence ping. Nothing is appended; the ticker
// decides when the table's state becomes a log entry.
func (s *Service) RecordPresence(user string) PresentUser {
	return s.presence.Record(user)
}

// EmitPresence appends a server-authored presence snapshot. Used by the
// ticker; it takes the same write path as client actions.
func (s *Service) EmitPresence(users []PresentUser, note string) (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(Action{
		Type:  TypePresence,
		Note:  note,
		Users: users,
	})
}

// Query runs a parsed filter against the log.
func (s *Service) Query(f Filter) ([]Action, error) {
	return s.store.Range(f)
}

// LastMatching returns the most recent action for a selector.
func (s *Service) LastMatching(sel Selector) (Action, bool, error) {
	return s.store.Last(sel)
}

// Subscribe registers a live subscription on the stream broker.
func (s *Service) Subscribe(ctx context.Context, sel Selector) (<-chan Action, func()) {
	return s.broker.Subscribe(ctx, sel)
}

// CurrentStatus exposes the status projection.
func (s *Service) CurrentStatus() (last Action, changed Action, ok bool) {
	return s.status.Current()
}

// PublicChangedStatus exposes the public transition pointer.
func (s *Service) PublicChangedStatus() (Action, bool) {
	return s.status.ChangedPublic()
}

// CurrentAnnouncements lists current entities, optionally restricted to
// public ones.
func (s *Service) CurrentAnnouncements(publicOnly bool) []Announcement {
	now := s.clock().Unix()
	if publicOnly {
		return s.announcements.CurrentPublic(now)
	}
	return s.announcements.Current(now)
}

// PresenceList exposes the presence table's current, eviction-applied view.
func (s *Service) PresenceList() []PresentUser {
	return s.presence.CurrentList()
}

// Now returns the server time in seconds; request parsing resolves relative
// time tokens against it.
func (s *Service) Now() int64 {
	return s.clock().Unix()
}

// ErrorKind classifies an error from this package for structured logging.
// The HTTP layer maps errors onto status codes with errors.Is instead.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}
