package core

import (
	"context"
	"time"

	"github.com/dkeye/AudioSync/internal/domain"
)

// SessionRecord is the persisted listing entry for a session.
type SessionRecord struct {
	ID          domain.SessionID `json:"id"`
	HostID      domain.ConnID    `json:"host_id"`
	Name        string           `json:"session_name"`
	CreatedAt   time.Time        `json:"created_at"`
	IsActive    bool             `json:"is_active"`
	ClientCount int              `json:"client_count"`
}

// SessionStore persists session records. It is CRUD only; live membership
// lives in SessionManager.
type SessionStore interface {
	Create(ctx context.Context, rec SessionRecord) error
	Upsert(ctx context.Context, rec SessionRecord) error
	Get(ctx context.Context, id domain.SessionID) (SessionRecord, error)
	ListActive(ctx context.Context, limit int) ([]SessionRecord, error)
	SetActive(ctx context.Context, id domain.SessionID, active bool) error
	SetClientCount(ctx context.Context, id domain.SessionID, n int) error
	Close() error
}
