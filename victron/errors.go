package victron

import "errors"

// Per-advertisement failures. All of them are local to one frame: the caller
// drops the frame and keeps going.
var (
	// ErrUnrecognizedVendor marks an advertisement from another manufacturer.
	// It is not a failure and is never logged.
	ErrUnrecognizedVendor = errors.New("unrecognized vendor")
	ErrInvalidHeader      = errors.New("invalid header")
	ErrMissingKey         = errors.New("missing key")
	ErrKeyCheckFailed     = errors.New("key check failed")
	ErrDecryptionFailure  = errors.New("decryption failure")
	ErrMalformedRecord    = errors.New("malformed record")
)

// Configuration and cipher input errors.
var (
	ErrInvalidKeyFormat = errors.New("invalid key format")
	ErrInvalidDeviceID  = errors.New("invalid device identifier")
	ErrWrongKeyLength   = errors.New("wrong key length")
	ErrEmptyCiphertext  = errors.New("empty ciphertext")
)
