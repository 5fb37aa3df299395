package workflows

import "errors"

var (
	// ErrListingFailed is returned when the source or derived tree cannot be enumerated
	ErrListingFailed = errors.New("listing failed")

	// ErrSourceMissing is returned when the source root is not a directory
	ErrSourceMissing = errors.New("source root not found")
)
