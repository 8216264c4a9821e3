package factor

import "errors"

// Query validation failures. They are returned before any aggregation runs.
var (
	// ErrInvalidInterval indicates a period with fewer (or more) than two endpoints,
	// or whose end precedes its start.
	ErrInvalidInterval = errors.New("factor: invalid interval")

	// ErrDegenerateAxes indicates X and Y resolve to the same field.
	ErrDegenerateAxes = errors.New("factor: x and y axes resolve to the same field")

	// ErrUnknownAxis indicates an axis name outside the supported set.
	ErrUnknownAxis = errors.New("factor: unknown axis")
)
