package brain

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotFound      = errors.New("neuron not found")
	ErrAlreadyExists = errors.New("neuron already exists")
	ErrLinkExists    = errors.New("link already exists")
	ErrDeleted       = errors.New("neuron deleted")
	ErrNilNeuron     = errors.New("nil neuron")
	ErrForeignNeuron = errors.New("neuron belongs to another brain")
)

// InvalidOperationError reports a mutation that breaks a structural rule,
// such as deleting a protected neuron or using a plain neuron where a
// cluster is required. These are caller bugs, not runtime conditions.
type InvalidOperationError struct {
	Op     string
	ID     ID
	Reason string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("invalid operation %s on neuron %d: %s", e.Op, e.ID, e.Reason)
}

// IsInvalidOperation reports whether err is, or wraps, an InvalidOperationError.
func IsInvalidOperation(err error) bool {
	var target *InvalidOperationError
	return errors.As(err, &target)
}
