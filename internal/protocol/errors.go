package protocol

import "fmt"

// TransportError is a connect failure, write failure or abnormal
// disconnect. User-facing; terminal for the session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError resolves a correlated request that received no response
// within its window. The session itself stays alive.
type TimeoutError struct {
	Type string
	ID   string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s (%s) timed out", e.Type, e.ID)
}

// ProtocolError is a malformed envelope or payload. Logged and dropped
// at the dispatcher boundary; never fatal and never handed to a request
// in flight.
type ProtocolError struct {
	Type string
	Err  error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("malformed %s payload: %v", e.Type, e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

// CapacityError is the peer-reported room-full rejection. User-facing;
// the session closes after a short delay.
type CapacityError struct {
	Reason string
}

func (e *CapacityError) Error() string { return "peer at capacity: " + e.Reason }
