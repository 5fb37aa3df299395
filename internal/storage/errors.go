package storage

import "fmt"

// ListingError is returned when a tree cannot be enumerated
type ListingError struct {
	Root string
	Err  error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("failed to list %s: %v", e.Root, e.Err)
}

func (e *ListingError) Unwrap() error {
	return e.Err
}
