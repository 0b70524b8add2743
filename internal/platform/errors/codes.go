// Package errors provides structured error handling for the guardian client core.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Auth errors
	CodeAuthRequired            Code = "AUTH_REQUIRED"
	CodeAuthInvalidCredentials  Code = "AUTH_INVALID_CREDENTIALS"
	CodeAuthDuplicateAccount    Code = "AUTH_DUPLICATE_ACCOUNT"
	CodeAuthProfileProvisioning Code = "AUTH_PROFILE_PROVISIONING"

	// Adoption errors
	CodeAdoptionPledgeEmpty       Code = "ADOPTION_PLEDGE_EMPTY"
	CodeAdoptionRejected          Code = "ADOPTION_REJECTED"
	CodeAdoptionInvalidTransition Code = "ADOPTION_INVALID_TRANSITION"

	// Transport errors
	CodeNetworkUnreachable Code = "NETWORK_UNREACHABLE"
	CodeBackendRejected    Code = "BACKEND_REJECTED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)
