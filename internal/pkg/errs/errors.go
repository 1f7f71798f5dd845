// Package errs defines the failure classes shared by the transports and the
// polling coordinator. Transports wrap these sentinels with %w; the
// coordinator classifies with errors.Is and attaches a remediation hint.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication covers bad credentials and any vendor-reported
	// login failure.
	ErrAuthentication = errors.New("authentication failed")
	// ErrRateLimited is the vendor's transient-unavailable signal.
	ErrRateLimited = errors.New("rate limited by server")
	// ErrDeviceNotFound means no plant or device could be resolved for the
	// account.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrNoPlants is the empty-plant-list case of ErrDeviceNotFound.
	ErrNoPlants = fmt.Errorf("no plants in account: %w", ErrDeviceNotFound)
	// ErrSessionExpired stays inside the cloud transport: it triggers the
	// single bounded re-login and only surfaces when the retry also fails.
	ErrSessionExpired = errors.New("session expired")
	// ErrTransient covers timeouts and connection failures.
	ErrTransient = errors.New("transient network error")
	// ErrProtocol means the response shape was unparseable.
	ErrProtocol = errors.New("protocol error")
)

type Category string

const (
	CategoryAuth          Category = "authentication"
	CategoryRateLimited   Category = "rate_limited"
	CategoryDeviceMissing Category = "device_not_found"
	CategoryTransient     Category = "transient"
	CategoryProtocol      Category = "protocol"
	CategoryUnknown       Category = "unknown"
)

// Classified carries the user-facing category and remediation hint the
// coordinator records alongside the underlying error.
type Classified struct {
	Category Category
	Hint     string
	Err      error
}

func (c *Classified) Error() string {
	return fmt.Sprintf("%s: %v (%s)", c.Category, c.Err, c.Hint)
}

func (c *Classified) Unwrap() error {
	return c.Err
}

// Classify maps a transport error to its user-facing category.
func Classify(err error) *Classified {
	switch {
	case errors.Is(err, ErrAuthentication):
		return &Classified{Category: CategoryAuth, Hint: "check credentials", Err: err}
	case errors.Is(err, ErrRateLimited):
		return &Classified{Category: CategoryRateLimited, Hint: "retrying automatically", Err: err}
	case errors.Is(err, ErrDeviceNotFound):
		return &Classified{Category: CategoryDeviceMissing, Hint: "verify the device is registered to this account", Err: err}
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrTransient):
		return &Classified{Category: CategoryTransient, Hint: "retrying automatically", Err: err}
	case errors.Is(err, ErrProtocol):
		return &Classified{Category: CategoryProtocol, Hint: "server returned an unexpected response; may resolve on retry", Err: err}
	default:
		return &Classified{Category: CategoryUnknown, Hint: "retrying automatically", Err: err}
	}
}
