package testutil

import (
	"context"
	"net/mail"
	"path/filepath"
	"testing"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/preston-56/lms-backend/core"
	"github.com/preston-56/lms-backend/core/user"
)

// NewConfig returns a config suitable for tests; reports land under dir.
func NewConfig(dir string) *core.Config {
	return &core.Config{
		Env:              "TEST",
		Build:            "test",
		AppName:          "LMS",
		Debug:            true,
		TestMode:         true,
		DefaultFromEmail: mail.Address{Name: "LMS", Address: "noreply@test.cd"},
		Monitor: core.MonitorConfig{
			InactivityThreshold: 14 * 24 * time.Hour,
			DispatchWorkers:     4,
			ReportDir:           filepath.Join(dir, "reports"),
			NoticeSubject:       "We miss you in your online courses!",
		},
	}
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, role string,
	isActive bool,
	lastActive null.Time,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:       name,
		Email:      email,
		Role:       role,
		IsActive:   isActive,
		LastActive: lastActive,
		CreatedAt:  tstamp,
		UpdatedAt:  tstamp,
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// Logger satisfies core.Logger and discards everything.
type Logger struct{}

var _ core.Logger = (*Logger)(nil)

func (Logger) Debug(string, ...interface{}) {}
func (Logger) Info(string, ...interface{})  {}
func (Logger) Warn(string, ...interface{})  {}
func (Logger) Error(string, ...interface{}) {}
func (Logger) Fatal(string, ...interface{}) {}
