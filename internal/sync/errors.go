package sync

import "fmt"

// Side names one end of a sync run.
type Side string

const (
	SideSource Side = "source"
	SideTarget Side = "target"
)

// ConnectError reports a backend that could not be connected.
type ConnectError struct {
	Side Side
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect %s: %v", e.Side, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ScanError reports a backend whose tree could not be listed.
type ScanError struct {
	Side Side
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("failed to scan %s: %v", e.Side, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }
