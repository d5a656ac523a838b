package client

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/scusemua/notebook-kernel-client/common/jupyter"
)

// KernelClient is just an extraction of the public/exported methods of the Session struct into an
// interface so that callers, such as the command-line client, can be tested against a mock.
type KernelClient interface {
	ID() string
	Username() string
	KernelId() string
	Status() jupyter.ConnectionStatus
	InfoReply() (json.RawMessage, bool)

	Subscribe(handler EventHandler) (unsubscribe func())
	SetCommHandler(handler MessageCallback)

	Start(ctx context.Context, kernelName string) error
	Attach(ctx context.Context, kernelId string) error
	WaitReady(timeout time.Duration) error

	Execute(code string, callbacks *Callbacks, options *ExecuteOptions) (string, error)
	Inspect(code string, cursorPos int, detailLevel int, callback MessageCallback) (string, error)
	Complete(code string, cursorPos int, callback MessageCallback) (string, error)
	KernelInfo(callback MessageCallback) (string, error)
	SendInputReply(value string) (string, error)

	Interrupt(ctx context.Context) error
	Restart(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Kill(ctx context.Context) error
	Close() error
}

var _ KernelClient = (*Session)(nil)
