package remote

import "fmt"

// ConnectionError means the target could not be reached or refused
// authentication. The remote state is guaranteed unchanged: nothing ran.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommandError means the target was reached and a command ran but exited
// non-zero. Remote state may be partially changed.
type CommandError struct {
	Op       Op
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("remote %s failed (exit %d): %s", e.Op, e.ExitCode, e.Output)
}
