// Package session serves as an umbrella for client session management,
// including the cached identity record and the session store service.
//
// The package is organized into three primary subpackages:
//   - domain: Defines the Identity entity, guardian roles, and the demo identity.
//   - storage: Declares durable identity persistence, with a SQLite implementation.
//   - service: Implements the session store state machine (restore, login, signup, logout).
package session
