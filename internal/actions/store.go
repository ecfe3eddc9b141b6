package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
)

// actionRecord is the persisted row shape of an Action. All payload variants
// share one table; unused columns stay at their zero value.
type actionRecord struct {
	ID        uint64 `gorm:"column:id;primaryKey"`
	Time      int64  `gorm:"column:time;not null;index:idx_actions_time"`
	Type      string `gorm:"column:type;not null;index:idx_actions_type"`
	Note      string `gorm:"column:note;not null;default:''"`
	User      string `gorm:"column:user;not null;default:''"`
	Status    string `gorm:"column:status;not null;default:''"`
	Method    string `gorm:"column:method;not null;default:''"`
	AID       uint64 `gorm:"column:aid;not null;default:0;index:idx_actions_aid"`
	FromTS    int64  `gorm:"column:from_ts;not null;default:0"`
	ToTS      int64  `gorm:"column:to_ts;not null;default:0"`
	Public    bool   `gorm:"column:public;not null;default:false"`
	UsersJSON string `gorm:"column:users_json;type:text;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (actionRecord) TableName() string {
	return "actions"
}

// AutoMigrate creates or updates the action log schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&actionRecord{})
}

// StoreConfig configures the action store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store is the single writer path into the append-only action log. Appends
// are serialized so ids form a gapless, strictly increasing sequence.
type Store struct {
	db     *gorm.DB
	mu     sync.Mutex
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Append assigns the next id and the current server time to the action and
// persists it. Appends are mutually exclusive and the id is computed inside
// the insert transaction, so a failed write never consumes an id.
func (s *Store) Append(action Action) (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	action.ID = 0
	action.Time = s.clock().Unix()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var maxID uint64
		if err := tx.Model(&actionRecord{}).
			Select("COALESCE(MAX(id), 0)").
			Scan(&maxID).Error; err != nil {
			return err
		}
		action.ID = maxID + 1
		rec, err := toRecord(action)
		if err != nil {
			return err
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		s.logger.Error("action append failed", zap.String("type", string(action.Type)), zap.Error(err))
		return Action{}, fmt.Errorf("%w: append: %v", ErrStorage, err)
	}
	return action, nil
}

// All returns the complete log in id order, for projection replay.
func (s *Store) All() ([]Action, error) {
	var recs []actionRecord
	if err := s.db.Order("id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("%w: replay scan: %v", ErrStorage, err)
	}
	return fromRecords(recs)
}

// Last returns the most recent action matching the selector, if any.
func (s *Store) Last(sel Selector) (Action, bool, error) {
	q := s.db.Model(&actionRecord{})
	if sel != SelectorAll {
		q = q.Where("type = ?", string(sel))
	}
	var rec actionRecord
	err := q.Order("id DESC").Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Action{}, false, nil
	}
	if err != nil {
		return Action{}, false, fmt.Errorf("%w: last scan: %v", ErrStorage, err)
	}
	action, err := fromRecord(rec)
	if err != nil {
		return Action{}, false, err
	}
	return action, true, nil
}

// Range executes a parsed filter against the log and returns matches in
// ascending id order.
func (s *Store) Range(f Filter) ([]Action, error) {
	q := s.db.Model(&actionRecord{})
	if f.selector != SelectorAll {
		q = q.Where("type = ?", string(f.selector))
	}
	switch f.time.kind {
	case axisExact:
		q = q.Where("time = ?", f.time.lo)
	case axisRange:
		q = q.Where("time BETWEEN ? AND ?", f.time.lo, f.time.hi)
	}
	switch f.id.kind {
	case axisExact:
		q = q.Where("id = ?", f.id.lo)
	case axisRange:
		q = q.Where("id BETWEEN ? AND ?", f.id.lo, f.id.hi)
	}

	var recs []actionRecord
	if f.id.kind == axisLast {
		q = q.Order("id DESC").Limit(int(f.id.last))
	} else {
		q = q.Order("id ASC")
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("%w: range scan: %v", ErrStorage, err)
	}
	if f.id.kind == axisLast {
		reverseRecords(recs)
	}

	matches, err := fromRecords(recs)
	if err != nil {
		return nil, err
	}
	return f.applyTake(matches), nil
}

func reverseRecords(recs []actionRecord) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}

func toRecord(a Action) (actionRecord, error) {
	rec := actionRecord{
		ID:     a.ID,
		Time:   a.Time,
		Type:   string(a.Type),
		Note:   a.Note,
		User:   a.User,
		Status: string(a.Status),
		Method: string(a.Method),
		AID:    a.AID,
		FromTS: a.From,
		ToTS:   a.To,
	}
	if a.Public != nil {
		rec.Public = *a.Public
	}
	if a.Type == TypePresence {
		users := a.Users
		if users == nil {
			users = []PresentUser{}
		}
		encoded, err := json.Marshal(users)
		if err != nil {
			return actionRecord{}, fmt.Errorf("%w: encode presence users: %v", ErrStorage, err)
		}
		rec.UsersJSON = string(encoded)
	}
	return rec, nil
}

func fromRecord(rec actionRecord) (Action, error) {
	a := Action{
		ID:   rec.ID,
		Time: rec.Time,
		Type: Type(rec.Type),
		Note: rec.Note,
		User: rec.User,
	}
	switch a.Type {
	case TypeStatus:
		a.Status = Status(rec.Status)
	case TypeAnnouncement:
		a.Method = Method(rec.Method)
		a.AID = rec.AID
		a.From = rec.FromTS
		a.To = rec.ToTS
		public := rec.Public
		a.Public = &public
	case TypePresence:
		a.User = ""
		users := []PresentUser{}
		if rec.UsersJSON != "" {
			if err := json.Unmarshal([]byte(rec.UsersJSON), &users); err != nil {
				return Action{}, fmt.Errorf("%w: decode presence users: %v", ErrStorage, err)
			}
		}
		a.Users = users
	}
	return a, nil
}

func fromRecords(recs []actionRecord) ([]Action, error) {
	out := make([]Action, 0, len(recs))
	for _, rec := range recs {
		a, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
