package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/huangang/taskreport/internal/models"
	"github.com/huangang/taskreport/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const reportLockName = "report"

// InFlight keeps a configuration from running twice at the same time.
// A lock taken by one instance may be released by another through ReleaseAs
// with the owner reported by the acquiring side.
type InFlight interface {
	TryAcquire(ctx context.Context, configID uint) bool
	Release(ctx context.Context, configID uint)
	ReleaseAs(ctx context.Context, configID uint, owner string)
	Held(ctx context.Context, configID uint) bool
	Owner() string
}

// MemoryInFlight guards runs inside one process.
type MemoryInFlight struct {
	mu   sync.Mutex
	held map[uint]struct{}
}

func NewMemoryInFlight() *MemoryInFlight {
	return &MemoryInFlight{held: make(map[uint]struct{})}
}

func (m *MemoryInFlight) TryAcquire(_ context.Context, configID uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[configID]; ok {
		return false
	}
	m.held[configID] = struct{}{}
	return true
}

func (m *MemoryInFlight) Release(_ context.Context, configID uint) {
	m.mu.Lock()
	delete(m.held, configID)
	m.mu.Unlock()
}

func (m *MemoryInFlight) ReleaseAs(ctx context.Context, configID uint, _ string) {
	m.Release(ctx, configID)
}

func (m *MemoryInFlight) Owner() string { return "" }

func (m *MemoryInFlight) Held(_ context.Context, configID uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[configID]
	return ok
}

// DBInFlight guards runs across processes sharing one database with rows of
// scheduler_locks. A lock whose holder died is taken over after ttl.
type DBInFlight struct {
	db       *gorm.DB
	instance string
	ttl      time.Duration
	now      func() time.Time
}

func NewDBInFlight(db *gorm.DB, instance string, ttl time.Duration) *DBInFlight {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &DBInFlight{db: db, instance: instance, ttl: ttl, now: time.Now}
}

func (l *DBInFlight) TryAcquire(ctx context.Context, configID uint) bool {
	now := l.now().UTC()
	key := strconv.FormatUint(uint64(configID), 10)
	db := l.db.WithContext(ctx)

	if err := db.Where("lock_name = ? AND lock_key = ? AND expires_at < ?", reportLockName, key, now).
		Delete(&models.SchedulerLock{}).Error; err != nil {
		logger.Warnf("[InFlight] Failed to clear expired lock of report %d: %v", configID, err)
		return false
	}

	lock := models.SchedulerLock{
		LockName:  reportLockName,
		LockKey:   key,
		LockedBy:  l.instance,
		LockedAt:  now,
		ExpiresAt: now.Add(l.ttl),
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if res.Error != nil {
		logger.Warnf("[InFlight] Failed to acquire lock of report %d: %v", configID, res.Error)
		return false
	}
	return res.RowsAffected == 1
}

func (l *DBInFlight) Release(ctx context.Context, configID uint) {
	l.ReleaseAs(ctx, configID, l.instance)
}

// ReleaseAs drops a lock held by owner, usually the instance that dispatched
// a task this one processed. An empty owner means this instance.
func (l *DBInFlight) ReleaseAs(ctx context.Context, configID uint, owner string) {
	if owner == "" {
		owner = l.instance
	}
	key := strconv.FormatUint(uint64(configID), 10)
	err := l.db.WithContext(context.WithoutCancel(ctx)).
		Where("lock_name = ? AND lock_key = ? AND locked_by = ?", reportLockName, key, owner).
		Delete(&models.SchedulerLock{}).Error
	if err != nil {
		logger.Warnf("[InFlight] Failed to release lock of report %d: %v", configID, err)
	}
}

func (l *DBInFlight) Owner() string { return l.instance }

func (l *DBInFlight) Held(ctx context.Context, configID uint) bool {
	var count int64
	err := l.db.WithContext(ctx).Model(&models.SchedulerLock{}).
		Where("lock_name = ? AND lock_key = ? AND expires_at >= ?", reportLockName, strconv.FormatUint(uint64(configID), 10), l.now().UTC()).
		Count(&count).Error
	return err == nil && count > 0
}
