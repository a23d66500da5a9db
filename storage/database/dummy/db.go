// Package dummydb provides in-memory repositories for tests.
package dummydb

import (
	"sync"

	"github.com/preston-56/lms-backend/core/monitor"
	"github.com/preston-56/lms-backend/core/user"
)

type (
	DB struct {
		user  *userTable
		audit *auditTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	auditTable struct {
		sync.RWMutex
		entries []monitor.Entry
		lastID  int64
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:  &userTable{table: make(map[string]*user.User)},
		audit: &auditTable{},
	}
	return db, nil
}
