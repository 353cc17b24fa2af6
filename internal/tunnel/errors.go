package tunnel

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAgentNotFound = errors.New("ngrok CLI not found")
	ErrTimeout       = errors.New("ngrok tunnel start timeout")
	ErrAuth          = errors.New("ngrok authentication failed")
	ErrExited        = errors.New("ngrok exited before reporting a tunnel URL")
)

// StartError describes a failed start attempt.
type StartError struct {
	State    State
	ExitCode int
	// Output holds the error text captured from the agent.
	Output string
	Err    error
}

func (e *StartError) Error() string {
	var b strings.Builder
	switch e.State {
	case StateTimedOut:
		b.WriteString("Ngrok tunnel start timeout")
		if e.Output != "" {
			b.WriteString("\nErrors: ")
			b.WriteString(e.Output)
		}
		b.WriteString("\nNo tunnel URL found in ngrok output")
		return b.String()
	case StateProcessExited:
		fmt.Fprintf(&b, "Ngrok exited with code %d", e.ExitCode)
	case StateAuthError:
		b.WriteString("Ngrok authentication failed (401/403). Check your ngrok authtoken")
	case StateCanceled:
		b.WriteString("ngrok start canceled before a tunnel URL was reported")
		if e.Err != nil {
			b.WriteString(" (")
			b.WriteString(e.Err.Error())
			b.WriteString(")")
		}
		return b.String()
	default:
		if e.Err != nil {
			return e.Err.Error()
		}
		b.WriteString("ngrok failed to start")
	}
	if e.Output != "" {
		b.WriteString(": ")
		b.WriteString(e.Output)
	}
	return b.String()
}

func (e *StartError) Unwrap() error { return e.Err }
