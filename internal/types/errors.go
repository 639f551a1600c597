package types

import "errors"

// Error taxonomy for the strategy core. Every operation aborts on the first
// error; callers discriminate categories with errors.Is.
var (
	// Precondition violations
	ErrPositionExists     = errors.New("position already active for owner")
	ErrNoPosition         = errors.New("no active position for owner")
	ErrInvalidParameter   = errors.New("parameter out of allowed range")
	ErrUnknownCertificate = errors.New("certificate is not bound to a managed position")

	// Authorization failures
	ErrUnauthorized      = errors.New("caller is not authorized")
	ErrUnauthorizedPool  = errors.New("pool is not authorized to notify trades")
	ErrOperationInFlight = errors.New("another operation is in flight for this owner")

	// Fund movement failures
	ErrInsufficientApproval = errors.New("custody account approval is insufficient")

	// External collaborator failures
	ErrExternalProtocol = errors.New("external protocol call failed")
	ErrSlippageExceeded = errors.New("swap or mint output below configured minimum")
	ErrStalePrice       = errors.New("oracle price is stale")
)
