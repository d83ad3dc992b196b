package haygo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/haygo/volume"
)

var (
	// ErrNotFound is returned when no needle exists for a key.
	ErrNotFound = errors.New("key not found")

	// ErrCorrupted is returned when stored data fails an integrity check.
	ErrCorrupted = errors.New("data corrupted")

	// ErrNeedleTooLarge is returned when a needle cannot fit into an
	// empty volume of the configured capacity.
	ErrNeedleTooLarge = errors.New("needle exceeds volume capacity")

	// ErrStoreClosed is returned when the store has been closed.
	ErrStoreClosed = errors.New("store closed")
)

// translateError maps volume-level errors onto the store's sentinel
// errors while keeping the original error in the chain.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, volume.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var corruption *volume.ErrDataCorruption
	if errors.As(err, &corruption) {
		return fmt.Errorf("%w: %w", ErrCorrupted, err)
	}

	return err
}
