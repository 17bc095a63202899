// Package session issues and validates gateway sessions. A SessionId is
// only ever created here; anything arriving from a client is checked
// against a Store before it is trusted.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/model"
)

type Session struct {
	Id       model.SessionId `json:"sessionId"`
	ClientId model.ClientId  `json:"clientId"`
	IssuedAt time.Time       `json:"issuedAt"`
}

// Store is safe for concurrent use.
type Store interface {
	Issue(ctx context.Context, clientId model.ClientId) (Session, error)
	// Validate returns a *bugout.IdentityError for an id that was never
	// issued, has expired, or was revoked.
	Validate(ctx context.Context, id model.SessionId) (Session, error)
	Revoke(ctx context.Context, id model.SessionId) error
}

func newId() model.SessionId {
	return model.SessionId(uuid.NewString())
}

func unknown(id model.SessionId) error {
	return &bugout.IdentityError{SessionId: string(id), Reason: "unknown or expired session"}
}
