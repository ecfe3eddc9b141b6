package actions

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// fakeClock is a manually advanced clock shared by store, service and
// presence table in tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start int64) *fakeClock {
	return &fakeClock{now: time.Unix(start, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "actions.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, clock *fakeClock) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{Database: newTestDB(t), Clock: clock.Now})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}

// newTestService builds a full service over a fresh store. The seeded log
// starts with a closed status (id 1) and an empty presence snapshot (id 2).
func newTestService(t *testing.T, clock *fakeClock) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Store:  newTestStore(t, clock),
		Broker: NewBroker(),
		Clock:  clock.Now,
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return service
}

func mustAppendStatus(t *testing.T, s *Service, user string, status Status, note string) Action {
	t.Helper()
	action, err := s.SubmitStatus(user, status, note)
	if err != nil {
		t.Fatalf("unexpected status append error: %v", err)
	}
	return action
}

func boolPtr(v bool) *bool {
	return &v
}
