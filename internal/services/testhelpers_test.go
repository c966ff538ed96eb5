package services

import (
	"testing"
	"time"

	"github.com/huangang/taskreport/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, id uint, login, email string) models.User {
	t.Helper()
	u := models.User{ID: id, Login: login, FullName: login, Email: email, IsActive: true}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("seed user %d: %v", id, err)
	}
	return u
}

func seedTeam(t *testing.T, db *gorm.DB, id uint, name string, leaders []uint, members []uint) models.Team {
	t.Helper()
	team := models.Team{ID: id, Name: name}
	if err := db.Create(&team).Error; err != nil {
		t.Fatalf("seed team %d: %v", id, err)
	}
	for _, uid := range leaders {
		if err := db.Create(&models.TeamMembership{TeamID: id, UserID: uid, IsLeader: true}).Error; err != nil {
			t.Fatal(err)
		}
	}
	for _, uid := range members {
		if err := db.Create(&models.TeamMembership{TeamID: id, UserID: uid}).Error; err != nil {
			t.Fatal(err)
		}
	}
	return team
}

func seedProgress(t *testing.T, db *gorm.DB, taskID, ownerID uint, title string, at time.Time) {
	t.Helper()
	p := models.Progress{TaskID: taskID, OwnerID: ownerID, Title: title, Text: title + " details", CreatedAt: at}
	if err := db.Create(&p).Error; err != nil {
		t.Fatal(err)
	}
}

func boolPtr(b bool) *bool {
	return &b
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 1s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
