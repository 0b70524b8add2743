// Package storage declares durable persistence for the current identity.
package storage

import (
	"context"

	apperrors "github.com/aquaguardian/guardian/internal/platform/errors"
	"github.com/aquaguardian/guardian/internal/session/domain"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// IdentityStore persists the single current identity record.
//
// The store holds at most one identity at a time: Put replaces any previous
// record. A device has one signed-in user, not a roster.
type IdentityStore interface {
	PutIdentity(ctx context.Context, identity domain.Identity) error
	GetIdentity(ctx context.Context) (domain.Identity, error)
	DeleteIdentity(ctx context.Context) error
}
