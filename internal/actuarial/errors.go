package actuarial

import "errors"

// ErrInvalidInput is returned when a caller precondition is violated, most
// notably a joint-life calculation without a primary beneficiary. Survivor
// pensions must go through Engine.Survivor instead.
var ErrInvalidInput = errors.New("invalid actuarial input")
