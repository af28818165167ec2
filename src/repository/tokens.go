package repository

import (
	"fmt"
	"sync"
	"time"

	cfg "coverserv/src/configuration"

	"go.uber.org/zap"
)

type (
	// AuthDB remembers which admin tokens are still live. A token that
	// verifies cryptographically but is missing here was logged out.
	AuthDB interface {
		UploadToken(id string, expiresAt time.Time) error
		VerifyToken(id string) bool
		RevokeToken(id string)
		Connect() bool
	}

	InMemoryDB struct {
		mu    sync.Mutex
		table map[string]time.Time
		now   func() time.Time
		log   *zap.Logger
	}
)

func NewAuthDataBase(config *cfg.Properties, log *zap.Logger) (*InMemoryDB, error) {
	if config == nil {
		return nil, fmt.Errorf("config is not valid")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &InMemoryDB{now: time.Now, log: log}, nil
}

func (i *InMemoryDB) Connect() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.table == nil {
		i.table = make(map[string]time.Time)
	}
	return true
}

func (i *InMemoryDB) UploadToken(id string, expiresAt time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.table == nil {
		return fmt.Errorf("can not upload token, connection is off")
	}
	i.prune()
	i.table[id] = expiresAt
	i.log.Debug("admin token registered", zap.String("jti", id), zap.Time("expires", expiresAt))
	return nil
}

func (i *InMemoryDB) VerifyToken(id string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.table == nil {
		return false
	}
	exp, ok := i.table[id]
	if !ok {
		return false
	}
	if !i.now().Before(exp) {
		delete(i.table, id)
		return false
	}
	return true
}

func (i *InMemoryDB) RevokeToken(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.table, id)
}

// prune drops expired entries; callers hold mu.
func (i *InMemoryDB) prune() {
	now := i.now()
	for id, exp := range i.table {
		if !now.Before(exp) {
			delete(i.table, id)
		}
	}
}
