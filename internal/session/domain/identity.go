package domain

import (
	"strings"
	"time"

	apperrors "github.com/aquaguardian/guardian/internal/platform/errors"
)

// Role describes how a guardian participates in the platform.
//
// The role is asserted by the caller at login or signup time and is not
// verified against the backend profile. Authorization decisions belong to the
// backend; the client only caches the asserted value for display.
type Role string

const (
	// RoleStudent identifies a student guardian.
	RoleStudent Role = "Student"
	// RoleCitizen identifies a citizen guardian.
	RoleCitizen Role = "Citizen"
	// RoleNGO identifies a non-governmental organization.
	RoleNGO Role = "NGO"
	// RoleGovernment identifies a government body.
	RoleGovernment Role = "Government"
	// RoleOther identifies any other participant.
	RoleOther Role = "Other"
)

var (
	// ErrEmptySubjectID indicates a missing provider subject id.
	ErrEmptySubjectID = apperrors.New(apperrors.CodeUnknown, "subject id is required")
	// ErrEmptyEmail indicates a missing email address.
	ErrEmptyEmail = apperrors.New(apperrors.CodeUnknown, "email is required")
	// ErrInvalidRole indicates a role outside the closed enumeration.
	ErrInvalidRole = apperrors.New(apperrors.CodeUnknown, "role must be one of Student, Citizen, NGO, Government, Other")
)

// ParseRole validates a raw role string against the closed enumeration.
func ParseRole(s string) (Role, error) {
	switch Role(strings.TrimSpace(s)) {
	case RoleStudent:
		return RoleStudent, nil
	case RoleCitizen:
		return RoleCitizen, nil
	case RoleNGO:
		return RoleNGO, nil
	case RoleGovernment:
		return RoleGovernment, nil
	case RoleOther:
		return RoleOther, nil
	}
	return "", ErrInvalidRole
}

// Identity is the client's cached representation of the logged-in user.
//
// The counters are client-side caches seeded to zero at login and never
// refreshed from the backend in the visible flow; they are not authoritative.
type Identity struct {
	ID               string
	Email            string
	DisplayName      string
	Role             Role
	ReportsSubmitted int
	CleanUpsJoined   int
	NFTsAdopted      int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewIdentityInput describes the provider data needed to build an Identity.
type NewIdentityInput struct {
	SubjectID   string
	Email       string
	DisplayName string
	Role        Role
}

// NewIdentity builds an Identity from a provider login or signup response.
//
// The identity id always equals the provider's subject id. When the provider
// registered no display name, the email's local part is used instead.
func NewIdentity(input NewIdentityInput, now func() time.Time) (Identity, error) {
	if now == nil {
		now = time.Now
	}

	subjectID := strings.TrimSpace(input.SubjectID)
	if subjectID == "" {
		return Identity{}, ErrEmptySubjectID
	}
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return Identity{}, ErrEmptyEmail
	}
	if _, err := ParseRole(string(input.Role)); err != nil {
		return Identity{}, err
	}

	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		displayName = email
		if at := strings.Index(email, "@"); at > 0 {
			displayName = email[:at]
		}
	}

	createdAt := now().UTC()
	return Identity{
		ID:          subjectID,
		Email:       email,
		DisplayName: displayName,
		Role:        input.Role,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}, nil
}

// DemoIdentity returns the fixed placeholder identity used when demo mode is
// enabled and no durable identity exists. The constants match the seeded demo
// account the backend knows about.
func DemoIdentity(now func() time.Time) Identity {
	if now == nil {
		now = time.Now
	}
	createdAt := now().UTC()
	return Identity{
		ID:          "2f3516b6-f9a9-4e2e-9529-0ecd2c9cf395",
		Email:       "demo@aquaguardian.com",
		DisplayName: "Demo User",
		Role:        RoleCitizen,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}
