package jupyter

import (
	"errors"
	"fmt"
)

var (
	ErrKernelNotConnected  = fmt.Errorf("kernel is not connected")
	ErrKernelNotReady      = fmt.Errorf("kernel not ready")
	ErrKernelDead          = fmt.Errorf("kernel is dead")
	ErrKernelClosed        = fmt.Errorf("kernel closed")
	ErrNoKernelID          = fmt.Errorf("no kernel id has been assigned to the session")
	ErrNoHandler           = fmt.Errorf("no handler")
	ErrInvalidInputRequest = errors.New("invalid input request")
)

const (
	ConnectionStatusDisconnected ConnectionStatus = iota
	ConnectionStatusConnecting
	ConnectionStatusConnected
	ConnectionStatusReady
	ConnectionStatusReconnecting
	ConnectionStatusDead
)

// ConnectionStatus is the state of the transport connection between the client and a kernel.
//
// Idle and busy are execution states reported by the kernel over IOPub. They are not connection
// states and never move a connection between ConnectionStatus values.
type ConnectionStatus int32

func (s ConnectionStatus) String() string {
	if s < 0 || s > ConnectionStatusDead {
		return fmt.Sprintf("Unknown(%d)", s)
	}

	return [...]string{"disconnected", "connecting", "connected", "ready", "reconnecting", "dead"}[s]
}

// IsOpen returns true if the transport is open, i.e., the connection is either connected or ready.
func (s ConnectionStatus) IsOpen() bool {
	return s == ConnectionStatusConnected || s == ConnectionStatusReady
}

// IsTerminal returns true if no further automatic transitions will occur.
func (s ConnectionStatus) IsTerminal() bool {
	return s == ConnectionStatusDead
}

// ExecutionState is the "execution_state" field of an IOPub "status" message.
type ExecutionState string

const (
	ExecutionStateStarting   ExecutionState = "starting"
	ExecutionStateBusy       ExecutionState = "busy"
	ExecutionStateIdle       ExecutionState = "idle"
	ExecutionStateRestarting ExecutionState = "restarting"
	ExecutionStateDead       ExecutionState = "dead"
)

func (s ExecutionState) String() string {
	return string(s)
}

// IsKnown returns true if the state is one of the execution states defined by the messaging protocol.
func (s ExecutionState) IsKnown() bool {
	switch s {
	case ExecutionStateStarting, ExecutionStateBusy, ExecutionStateIdle, ExecutionStateRestarting, ExecutionStateDead:
		return true
	default:
		return false
	}
}
