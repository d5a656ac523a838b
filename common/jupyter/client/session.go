package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/Scusemua/go-utils/promise"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-client/common/configuration"
	"github.com/scusemua/notebook-kernel-client/common/jupyter"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/rest"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/transport"
	"github.com/scusemua/notebook-kernel-client/common/metrics"
	"github.com/scusemua/notebook-kernel-client/common/queue"
)

// ExecuteOptions overrides the defaults of an "execute_request".
//
// Nil fields keep their default: silent, no history, no user expressions, no stdin, stop on error.
type ExecuteOptions struct {
	Silent          *bool
	StoreHistory    *bool
	UserExpressions map[string]interface{}
	AllowStdin      *bool
	StopOnError     *bool
}

// Session is a client of one kernel. It owns the connection to the kernel and the registry of
// outstanding requests. The session id and username stay the same across reconnects and restarts.
type Session struct {
	id       string
	options  *configuration.ClientOptions
	codec    *messaging.Codec
	registry *CallbackRegistry
	events   *EventBus
	mux      *Multiplexer
	conn     *Connection
	api      rest.KernelAPI
	inbound  *queue.SerialQueue
	metrics  *metrics.ClientMetrics

	infoReply json.RawMessage
	ready     *promise.ChannelPromise
	mu        sync.Mutex

	log logger.Logger
}

// NewSession creates a Session. The session does not connect until Start or Attach is called.
//
// clientMetrics may be nil.
func NewSession(options *configuration.ClientOptions, api rest.KernelAPI, tr transport.Transport, clientMetrics *metrics.ClientMetrics) (*Session, error) {
	options = options.Clone()
	if err := options.Validate(); err != nil {
		return nil, err
	}

	channels, err := channelsURLBuilder(options.ServerURL)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s := &Session{
		id:       id,
		options:  options,
		codec:    messaging.NewCodec(id, options.Username),
		registry: NewCallbackRegistry(),
		events:   NewEventBus(),
		api:      api,
		inbound:  queue.NewSerialQueue("Session-" + id[:8]),
		metrics:  clientMetrics,
		ready:    promise.NewChannelPromise(),
	}
	config.InitLogger(&s.log, s)

	s.mux = NewMultiplexer(s.registry, s.emit, s.handleExecutionState, clientMetrics)
	s.conn = newConnection(id, tr, api, s.inbound, channels, s.emit, ConnectionConfig{
		Backoff: BackoffPolicy{
			Base:  options.BackoffBase,
			Unit:  options.BackoffUnit(),
			Limit: options.ReconnectLimit,
		},
		EarlyCloseGraceWindow: options.EarlyCloseGraceWindow(),
		RequestTimeout:        options.RequestTimeout(),
	}, clientMetrics)
	s.conn.onOpen = s.kernelConnected
	s.conn.onFrame = s.handleFrame

	return s, nil
}

// ID returns the session id stamped on every outgoing message.
func (s *Session) ID() string {
	return s.id
}

// Username returns the username stamped on every outgoing message.
func (s *Session) Username() string {
	return s.codec.Username()
}

// KernelId returns the id of the kernel the session is attached to, if any.
func (s *Session) KernelId() string {
	return s.conn.KernelId()
}

// Status returns the connection status.
func (s *Session) Status() jupyter.ConnectionStatus {
	return s.conn.Status()
}

// Connection returns the session's connection.
func (s *Session) Connection() *Connection {
	return s.conn
}

// Registry returns the session's callback registry.
func (s *Session) Registry() *CallbackRegistry {
	return s.registry
}

// Subscribe registers a lifecycle event handler. Handlers run synchronously on the goroutine that
// emits the event and must not block.
func (s *Session) Subscribe(handler EventHandler) (unsubscribe func()) {
	return s.events.Subscribe(handler)
}

// SetCommHandler installs the handler for comm messages. Passing nil removes it.
func (s *Session) SetCommHandler(handler MessageCallback) {
	s.mux.SetCommHandler(handler)
}

// InfoReply returns the content of the most recent "kernel_info_reply".
func (s *Session) InfoReply() (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.infoReply, s.infoReply != nil
}

// Start starts a new kernel with the given kernel spec name and connects to it. An empty name starts
// the server's default kernel.
func (s *Session) Start(ctx context.Context, kernelName string) error {
	s.emit(Event{Type: EventStarting})

	kernel, err := s.api.StartKernel(ctx, kernelName)
	if err != nil {
		return err
	}

	return s.kernelCreated(ctx, kernel)
}

// Attach connects to a kernel that is already running on the server.
func (s *Session) Attach(ctx context.Context, kernelId string) error {
	kernel, err := s.api.GetKernel(ctx, kernelId)
	if err != nil {
		return err
	}

	return s.kernelCreated(ctx, kernel)
}

// Execute sends an "execute_request" and returns its msg_id.
func (s *Session) Execute(code string, callbacks *Callbacks, options *ExecuteOptions) (string, error) {
	request := &messaging.ExecuteRequest{
		Code:            code,
		Silent:          true,
		StoreHistory:    false,
		UserExpressions: map[string]interface{}{},
		AllowStdin:      false,
		StopOnError:     true,
	}

	if options != nil {
		if options.Silent != nil {
			request.Silent = *options.Silent
		}
		if options.StoreHistory != nil {
			request.StoreHistory = *options.StoreHistory
		}
		if options.UserExpressions != nil {
			request.UserExpressions = options.UserExpressions
		}
		if options.AllowStdin != nil {
			request.AllowStdin = *options.AllowStdin
		}
		if options.StopOnError != nil {
			request.StopOnError = *options.StopOnError
		}
	}

	if callbacks.HasInput() {
		request.AllowStdin = true
	}

	return s.send(messaging.ShellChannel, messaging.ShellExecuteRequest, request, callbacks)
}

// Inspect sends an "inspect_request" and returns its msg_id. callback receives the reply.
func (s *Session) Inspect(code string, cursorPos int, detailLevel int, callback MessageCallback) (string, error) {
	request := &messaging.InspectRequest{
		Code:        code,
		CursorPos:   cursorPos,
		DetailLevel: detailLevel,
	}

	return s.send(messaging.ShellChannel, messaging.ShellInspectRequest, request, replyCallbacks(callback))
}

// Complete sends a "complete_request" and returns its msg_id. callback receives the reply.
func (s *Session) Complete(code string, cursorPos int, callback MessageCallback) (string, error) {
	request := &messaging.CompleteRequest{
		Code:      code,
		CursorPos: cursorPos,
	}

	return s.send(messaging.ShellChannel, messaging.ShellCompleteRequest, request, replyCallbacks(callback))
}

// KernelInfo sends a "kernel_info_request" and returns its msg_id. callback receives the reply.
func (s *Session) KernelInfo(callback MessageCallback) (string, error) {
	return s.send(messaging.ShellChannel, messaging.KernelInfoRequest, nil, replyCallbacks(func(reply *messaging.Message) {
		s.mu.Lock()
		s.infoReply = reply.Content
		s.mu.Unlock()

		if callback != nil {
			callback(reply)
		}
	}))
}

// SendInputReply answers an "input_request" and returns the msg_id of the reply.
func (s *Session) SendInputReply(value string) (string, error) {
	return s.send(messaging.StdinChannel, messaging.StdinInputReply, &messaging.InputReply{Value: value}, nil)
}

// Interrupt interrupts the kernel and then refreshes the kernel info.
func (s *Session) Interrupt(ctx context.Context) error {
	if err := s.conn.Interrupt(ctx); err != nil {
		return err
	}

	if _, err := s.KernelInfo(nil); err != nil {
		s.log.Warn("Could not refresh kernel info after interrupt: %v", err)
	}

	return nil
}

// Restart restarts the kernel and reconnects.
func (s *Session) Restart(ctx context.Context) error {
	return s.conn.Restart(ctx)
}

// Reconnect reconnects unless the session is already connected.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.conn.Reconnect(ctx)
}

// Kill shuts the kernel down on the server.
func (s *Session) Kill(ctx context.Context) error {
	return s.conn.Kill(ctx)
}

// WaitReady blocks until the kernel's info reply has been received on the current connection. A
// non-positive timeout waits indefinitely. WaitReady returns jupyter.ErrKernelDead if the kernel dies
// first, and an error wrapping both jupyter.ErrKernelNotReady and promise.ErrTimeout if the timeout elapses.
func (s *Session) WaitReady(timeout time.Duration) error {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()

	if timeout > 0 {
		if err := ready.Timeout(timeout); err != nil {
			return fmt.Errorf("%w after %v: %w", jupyter.ErrKernelNotReady, timeout, err)
		}
	}

	return ready.Error()
}

// Close disconnects from the kernel and stops processing inbound messages. The kernel keeps running.
func (s *Session) Close() error {
	s.conn.Close()
	s.inbound.Close()
	s.registry.Clear()
	s.metrics.SetPendingRequests(0)

	s.mu.Lock()
	if s.ready.IsResolved() {
		s.ready = promise.NewChannelPromise()
	}
	_, _ = s.ready.Resolve(nil, jupyter.ErrKernelClosed)
	s.mu.Unlock()

	return nil
}

// send builds a message, registers its callbacks and writes it. The callbacks are registered before
// the write so that a fast reply cannot miss them.
func (s *Session) send(channel messaging.Channel, msgType messaging.JupyterMessageType, content interface{}, callbacks *Callbacks) (string, error) {
	if !s.conn.IsOpen() {
		return "", jupyter.ErrKernelNotConnected
	}

	msg, err := s.codec.Build(msgType, content, nil, nil)
	if err != nil {
		return "", err
	}
	msg.Channel = channel
	msgId := msg.JupyterMessageId()

	if callbacks != nil {
		s.registry.Register(msgId, callbacks)
	}

	if err := s.conn.Send(context.Background(), msg); err != nil {
		if callbacks != nil {
			s.registry.Unregister(msgId)
		}

		if errors.Is(err, jupyter.ErrKernelNotConnected) {
			return "", err
		}

		s.log.Error("Failed to send \"%s\" message %s: %v", msgType, msgId, err)
		return "", err
	}

	s.metrics.SetPendingRequests(s.registry.Len())
	return msgId, nil
}

func (s *Session) kernelCreated(ctx context.Context, kernel *rest.Kernel) error {
	s.log.Debug("Kernel created: %v", kernel)

	s.conn.SetKernelId(kernel.ID)
	s.emit(Event{Type: EventCreated})

	return s.conn.StartChannels(ctx)
}

// kernelConnected runs on the inbound queue once the transport opens.
func (s *Session) kernelConnected() {
	if _, err := s.KernelInfo(func(*messaging.Message) {
		s.conn.MarkReady()
	}); err != nil {
		s.log.Error("Failed to request kernel info after connecting: %v", err)
	}
}

// handleFrame runs on the inbound queue for every frame of the current transport handle.
func (s *Session) handleFrame(data []byte, encoding messaging.Encoding) {
	msg, err := messaging.Deserialize(data, encoding)
	if err != nil {
		s.metrics.ProtocolError()
		s.log.Error("Dropping malformed %v frame of %d bytes: %v", encoding, len(data), err)
		s.emit(Event{Type: EventProtocolError, Err: err})
		return
	}

	s.metrics.ReceivedMessage(msg.Channel.String(), msg.JupyterMessageType().String())
	// Undeliverable messages are logged by the multiplexer.
	_, _ = s.mux.Dispatch(msg)
	s.metrics.SetPendingRequests(s.registry.Len())
}

// handleExecutionState turns the kernel's execution state into lifecycle events.
func (s *Session) handleExecutionState(state jupyter.ExecutionState, _ *messaging.Message) {
	switch state {
	case jupyter.ExecutionStateBusy:
		s.emit(Event{Type: EventBusy})
	case jupyter.ExecutionStateIdle:
		s.emit(Event{Type: EventIdle})
	case jupyter.ExecutionStateStarting:
		s.emit(Event{Type: EventStarting})

		if _, err := s.KernelInfo(func(*messaging.Message) {
			s.conn.MarkReady()
		}); err != nil {
			s.log.Warn("Failed to request kernel info after kernel start: %v", err)
		}
	case jupyter.ExecutionStateRestarting:
		// The server restarts a kernel on its own after the kernel dies.
		attempt := s.conn.NextAutorestartAttempt()
		s.emit(Event{Type: EventRestarting})
		s.emit(Event{Type: EventAutorestarting, Attempt: attempt})
	case jupyter.ExecutionStateDead:
		s.conn.KernelDead(jupyter.ErrKernelDead)
	}
}

// emit stamps the event with the kernel id, keeps the ready promise in sync, and publishes the event.
func (s *Session) emit(event Event) {
	event.KernelId = s.conn.KernelId()

	s.mu.Lock()
	switch event.Type {
	case EventReady:
		if !s.ready.IsResolved() {
			_, _ = s.ready.Resolve(s.conn.KernelId(), nil)
		}
	case EventConnecting, EventDisconnected, EventRestarting:
		if s.ready.IsResolved() {
			s.ready = promise.NewChannelPromise()
		}
	case EventDead:
		if s.ready.IsResolved() {
			s.ready = promise.NewChannelPromise()
		}
		_, _ = s.ready.Resolve(nil, jupyter.ErrKernelDead)
	}
	s.mu.Unlock()

	s.events.Emit(event)
}

func replyCallbacks(callback MessageCallback) *Callbacks {
	if callback == nil {
		return nil
	}

	return &Callbacks{Shell: &ShellCallbacks{Reply: callback}}
}

func channelsURLBuilder(serverURL string) (ChannelsURLBuilder, error) {
	client, err := rest.NewClient(serverURL, "")
	if err != nil {
		return nil, err
	}

	base := client.BaseURL()
	return func(kernelId string, sessionId string) string {
		return rest.ChannelsURL(base, kernelId, sessionId)
	}, nil
}
