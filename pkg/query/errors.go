package query

import (
	"errors"

	"github.com/justjake/querylink/pkg/backend"
)

// ErrConfigNotFound is returned when the requested server id has no saved
// configuration. No connection is attempted.
var ErrConfigNotFound = errors.New("server config not found")

// ErrInvariantViolation is returned when a connection that was just ensured
// is missing at checkout. It means the registry was modified concurrently,
// typically by Disconnect.
var ErrInvariantViolation = errors.New("internal invariant violation")

type (
	// ConnectError is returned when a connection cannot be established.
	ConnectError = backend.ConnectError
	// QueryError is returned when a statement fails. No rows accompany it.
	QueryError = backend.QueryError
)
