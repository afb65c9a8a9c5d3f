package config

import "errors"

var (
	// ErrMissingBlobsDir is returned when P2P is enabled but P2P_BLOBS_DIR
	// is unset.
	ErrMissingBlobsDir = errors.New("P2P_BLOBS_DIR is required when P2P_ENABLED is true")

	// ErrMissingSecretKeyPath is returned when P2P is enabled but
	// P2P_SECRET_KEY_PATH is unset.
	ErrMissingSecretKeyPath = errors.New("P2P_SECRET_KEY_PATH is required when P2P_ENABLED is true")

	// ErrInvalidPort is returned when P2P_PORT cannot be parsed or is out
	// of the valid port range.
	ErrInvalidPort = errors.New("P2P_PORT must be an integer between 0 and 65535")
)
