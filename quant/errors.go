package quant

import (
	"errors"
	"fmt"
)

// ErrValidation marks bad client input; the API maps it to 400.
var ErrValidation = errors.New("validation error")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
