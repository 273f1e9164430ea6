package protocol

// Error codes carried in ErrorShape.Code. The bridge and walink share this set.
const (
	ErrInvalidInput       = "INVALID_INPUT"
	ErrInvalidPairingCode = "INVALID_PAIRING_CODE"
	ErrMismatch           = "MISMATCH"
	ErrNotFound           = "NOT_FOUND"
	ErrNotConnected       = "NOT_CONNECTED"
	ErrExpired            = "EXPIRED"
	ErrInvalidState       = "INVALID_STATE"
	ErrAuthFailed         = "AUTH_FAILED"
	ErrTimeout            = "TIMEOUT"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrUnavailable        = "UNAVAILABLE"
	ErrInternal           = "INTERNAL"
)
