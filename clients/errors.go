package clients

import "errors"

var (
	// ErrAgentNotFound is returned when no signing agent exists in the environment
	ErrAgentNotFound = errors.New("signing agent not found")

	// ErrNoAccounts is returned when the agent holds no accounts
	ErrNoAccounts = errors.New("signing agent has no accounts")

	// ErrUserRejected is returned when the user declines a prompt
	ErrUserRejected = errors.New("request rejected by user")

	// ErrNotAuthorized is returned when a signer is requested before authorization
	ErrNotAuthorized = errors.New("no authorized account")

	// ErrChainMismatch is returned when the RPC node serves a different chain
	ErrChainMismatch = errors.New("chain ID mismatch")
)
