package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/scusemua/notebook-kernel-client/common/jupyter/messaging"
)

const (
	// StatusNormalClosure is the websocket close code of a clean, intentional close.
	StatusNormalClosure = 1000

	// StatusGoingAway is sent by a server that is shutting down.
	StatusGoingAway = 1001

	// StatusAbnormalClosure is reported when the connection was lost without a close frame.
	StatusAbnormalClosure = 1006
)

// Transport opens message-oriented connections to a kernel's channels endpoint.
type Transport interface {
	// Dial opens a connection to the given URL.
	Dial(ctx context.Context, url string) (Conn, error)
}

// Conn is a bidirectional, message-oriented connection.
//
// Write may be called concurrently with Read. Read is only ever called from one goroutine.
type Conn interface {
	// Read blocks until the next frame arrives. When the connection ends, Read returns a *CloseError.
	Read(ctx context.Context) ([]byte, messaging.Encoding, error)

	// Write sends a single frame.
	Write(ctx context.Context, data []byte, encoding messaging.Encoding) error

	// Close closes the connection cleanly. Any blocked Read returns.
	Close() error
}

// CloseError describes how a connection ended.
type CloseError struct {
	Code   int
	Reason string

	// Err is the underlying error, if any.
	Err error
}

func (e *CloseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection closed with status %d (%s): %v", e.Code, e.Reason, e.Err)
	}

	return fmt.Sprintf("connection closed with status %d (%s)", e.Code, e.Reason)
}

func (e *CloseError) Unwrap() error {
	return e.Err
}

// Clean returns true if the peer closed the connection intentionally.
func (e *CloseError) Clean() bool {
	return e.Code == StatusNormalClosure
}

// AsCloseError converts err into a *CloseError. Errors that do not carry a close status are treated as
// an abnormal closure.
func AsCloseError(err error) *CloseError {
	if err == nil {
		return nil
	}

	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		return closeErr
	}

	return &CloseError{Code: StatusAbnormalClosure, Reason: "abnormal closure", Err: err}
}
