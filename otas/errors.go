package otas

import "fmt"

// ConfigurationError reports an unusable SDK configuration, such as a missing
// key. It is fatal at startup; no requests are observed after one.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "otas: configuration error: " + e.Reason
}

// AuthenticationError reports a failed key exchange with the platform,
// whether the endpoint was unreachable, the response was malformed, or the
// key was rejected.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("otas: authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "otas: authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}
