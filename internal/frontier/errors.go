package frontier

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/site-frontier/internal/crawler"
)

// ErrInvalidSeed matches every InvalidSeedError via errors.Is.
var ErrInvalidSeed = errors.New("invalid seed url")

// ErrInvalidMode is returned for a Request whose Mode is not one of the
// crawler modes.
var ErrInvalidMode = errors.New("invalid discovery mode")

// InvalidSeedError reports a seed that cannot be normalized or has no host.
type InvalidSeedError struct {
	Seed   string
	Reason string
	Err    error
}

func (e *InvalidSeedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid seed %q: %s: %v", e.Seed, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid seed %q: %s", e.Seed, e.Reason)
}

// Is reports whether target is ErrInvalidSeed.
func (e *InvalidSeedError) Is(target error) bool {
	return target == ErrInvalidSeed
}

func (e *InvalidSeedError) Unwrap() error {
	return e.Err
}

func parseMode(m crawler.Mode) (crawler.Mode, error) {
	mode, err := crawler.ParseMode(string(m))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMode, err)
	}
	return mode, nil
}
