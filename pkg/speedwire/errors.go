package speedwire

import "fmt"

// ConnectionError means the device could not be reached or never answered.
type ConnectionError struct {
	Target string
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("no connection to device %s: %s", e.Target, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// AuthenticationError means the device rejected the login credentials.
type AuthenticationError struct {
	Target string
	Group  LoginGroup
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("login to %s failed: credentials wrong (%s or password)", e.Target, e.Group)
}

// ReadError means the device answered the login but the requested data
// never arrived.
type ReadError struct {
	Target string
	Reason string
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read from %s failed: %s", e.Target, e.Reason)
}
