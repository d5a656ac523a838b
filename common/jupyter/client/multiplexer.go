package client

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-client/common/jupyter"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/notebook-kernel-client/common/metrics"
)

const (
	MessageKindUnknown MessageKind = iota
	MessageKindShellReply
	MessageKindStatus
	MessageKindClearOutput
	MessageKindOutput
	MessageKindExecuteInput
	MessageKindComm
	MessageKindInputRequest
	MessageKindInvalidStdin
)

// MessageKind is the routing class of an inbound message, derived from its channel and msg_type.
type MessageKind int

func (k MessageKind) String() string {
	if k < MessageKindUnknown || k > MessageKindInvalidStdin {
		return fmt.Sprintf("MessageKind(%d)", int(k))
	}

	return [...]string{"unknown", "shell_reply", "status", "clear_output", "output", "execute_input", "comm", "input_request", "invalid_stdin"}[k]
}

// ClassifyMessage returns the MessageKind of an inbound message.
func ClassifyMessage(msg *messaging.Message) MessageKind {
	switch msg.Channel {
	case messaging.ShellChannel:
		return MessageKindShellReply
	case messaging.IOPubChannel:
		switch msg.JupyterMessageType() {
		case messaging.IOStatusMessage:
			return MessageKindStatus
		case messaging.IOClearOutputMessage:
			return MessageKindClearOutput
		case messaging.IOStreamMessage, messaging.IODisplayDataMessage, messaging.IOUpdateDisplayData,
			messaging.IOExecuteResultMessage, messaging.IOErrorMessage:
			return MessageKindOutput
		case messaging.IOExecuteInputMessage:
			return MessageKindExecuteInput
		case messaging.CommOpenMessage, messaging.CommMsgMessage, messaging.CommCloseMessage:
			return MessageKindComm
		default:
			return MessageKindUnknown
		}
	case messaging.StdinChannel:
		if msg.JupyterMessageType() == messaging.StdinInputRequest {
			return MessageKindInputRequest
		}
		return MessageKindInvalidStdin
	default:
		return MessageKindUnknown
	}
}

// ExecutionStateHandler reacts to the execution state reported by an IOPub "status" message.
type ExecutionStateHandler func(state jupyter.ExecutionState, msg *messaging.Message)

// Multiplexer routes inbound messages to the callbacks registered for their parent request.
//
// Dispatch is only ever called from the session's inbound queue, one message at a time.
type Multiplexer struct {
	registry *CallbackRegistry
	emit     func(Event)
	metrics  *metrics.ClientMetrics

	onExecutionState ExecutionStateHandler

	commHandler MessageCallback
	commMu      sync.RWMutex

	log logger.Logger
}

// NewMultiplexer creates a Multiplexer that looks callbacks up in registry and reports events via emit.
func NewMultiplexer(registry *CallbackRegistry, emit func(Event), onExecutionState ExecutionStateHandler, clientMetrics *metrics.ClientMetrics) *Multiplexer {
	m := &Multiplexer{
		registry:         registry,
		emit:             emit,
		onExecutionState: onExecutionState,
		metrics:          clientMetrics,
	}
	config.InitLogger(&m.log, m)

	return m
}

// SetCommHandler installs the handler for "comm_open", "comm_msg" and "comm_close". Passing nil removes it.
func (m *Multiplexer) SetCommHandler(handler MessageCallback) {
	m.commMu.Lock()
	defer m.commMu.Unlock()

	m.commHandler = handler
}

// Dispatch routes one inbound message and returns the kind it was classified as. The error is non-nil
// for stdin messages that could not be delivered: jupyter.ErrInvalidInputRequest for anything other than
// an input request, and jupyter.ErrNoHandler for an input request nobody registered a callback for.
func (m *Multiplexer) Dispatch(msg *messaging.Message) (MessageKind, error) {
	var err error
	kind := ClassifyMessage(msg)

	switch kind {
	case MessageKindShellReply:
		m.handleShellReply(msg)
	case MessageKindStatus:
		m.handleStatus(msg)
	case MessageKindClearOutput:
		m.handleClearOutput(msg)
	case MessageKindOutput:
		m.handleOutput(msg)
	case MessageKindExecuteInput:
		m.handleExecuteInput(msg)
	case MessageKindComm:
		m.handleComm(msg)
	case MessageKindInputRequest:
		err = m.handleInputRequest(msg)
	case MessageKindInvalidStdin:
		err = errors.Wrapf(jupyter.ErrInvalidInputRequest, "expected \"%s\" on the stdin channel, got \"%s\" (msg_id=%s)",
			messaging.StdinInputRequest, msg.JupyterMessageType(), msg.JupyterMessageId())
	default:
		m.log.Debug("Dropping \"%s\" message %s received on channel \"%s\".",
			msg.JupyterMessageType(), msg.JupyterMessageId(), msg.Channel)
	}

	if err != nil {
		m.log.Warn("Dropping stdin message: %v", err)
	}

	return kind, err
}

func (m *Multiplexer) handleShellReply(msg *messaging.Message) {
	parentId := msg.ParentMessageId()

	callbacks, ok := m.registry.Lookup(parentId)
	if !ok {
		m.log.Debug("No callbacks for \"%s\" reply to %s.", msg.JupyterMessageType(), parentId)
		return
	}

	if callbacks.HasShell() {
		m.invoke(callbacks.replyCallback(), msg)
		m.dispatchPayloads(callbacks, msg)
	}

	m.registry.FinishShell(parentId)
}

// dispatchPayloads invokes the payload callbacks of a shell reply in the order the payloads appear.
func (m *Multiplexer) dispatchPayloads(callbacks *Callbacks, msg *messaging.Message) {
	var content messaging.ShellReplyContent
	if err := msg.DecodeContent(&content); err != nil {
		m.log.Warn("Could not decode content of \"%s\" reply to %s: %v", msg.JupyterMessageType(), msg.ParentMessageId(), err)
		return
	}

	for _, payload := range content.Payload {
		if callback := callbacks.payloadCallback(payload.Source()); callback != nil {
			m.invokePayload(callback, payload, msg)
		}
	}
}

func (m *Multiplexer) handleStatus(msg *messaging.Message) {
	var content messaging.MessageKernelStatus
	if err := msg.DecodeContent(&content); err != nil {
		m.log.Warn("Could not decode content of status message %s: %v", msg.JupyterMessageId(), err)
		return
	}

	parentId := msg.ParentMessageId()
	if callbacks, ok := m.registry.Lookup(parentId); ok {
		m.invoke(callbacks.statusCallback(), msg)
	}

	state := content.ExecutionState
	if !state.IsKnown() {
		m.log.Warn("Unknown execution state \"%s\" in status message %s.", state, msg.JupyterMessageId())
	}

	if state == jupyter.ExecutionStateIdle {
		// Output for the parent request may still trickle in after this, but is not expected.
		m.registry.FinishIOPub(parentId)
	}

	if m.onExecutionState != nil {
		m.onExecutionState(state, msg)
	}
}

func (m *Multiplexer) handleClearOutput(msg *messaging.Message) {
	callbacks, ok := m.registry.Lookup(msg.ParentMessageId())
	if !ok {
		return
	}

	m.invoke(callbacks.clearOutputCallback(), msg)
}

func (m *Multiplexer) handleOutput(msg *messaging.Message) {
	callbacks, ok := m.registry.Lookup(msg.ParentMessageId())
	if !ok || !callbacks.HasIOPub() {
		// The message came from another client of the same kernel.
		m.unsolicited(msg)
		return
	}

	m.invoke(callbacks.outputCallback(), msg)
}

func (m *Multiplexer) handleExecuteInput(msg *messaging.Message) {
	if !m.registry.Contains(msg.ParentMessageId()) {
		m.unsolicited(msg)
		return
	}

	m.log.Debug("Kernel is executing request %s.", msg.ParentMessageId())
}

func (m *Multiplexer) handleComm(msg *messaging.Message) {
	m.commMu.RLock()
	handler := m.commHandler
	m.commMu.RUnlock()

	if handler == nil {
		m.log.Debug("No comm handler installed. Dropping \"%s\" message %s.", msg.JupyterMessageType(), msg.JupyterMessageId())
		return
	}

	m.invoke(handler, msg)
}

func (m *Multiplexer) handleInputRequest(msg *messaging.Message) error {
	callbacks, ok := m.registry.Lookup(msg.ParentMessageId())
	if !ok || !callbacks.HasInput() {
		return errors.Wrapf(jupyter.ErrNoHandler, "no input callback for input request %s (parent=%s)",
			msg.JupyterMessageId(), msg.ParentMessageId())
	}

	m.invoke(callbacks.Input, msg)
	return nil
}

func (m *Multiplexer) unsolicited(msg *messaging.Message) {
	m.metrics.UnsolicitedMessage()
	m.emit(Event{Type: EventReceivedUnsolicitedMessage, Message: msg})
}

func (m *Multiplexer) invoke(callback MessageCallback, msg *messaging.Message) {
	if callback == nil {
		return
	}

	defer m.recoverCallback(msg)
	callback(msg)
}

func (m *Multiplexer) invokePayload(callback PayloadCallback, payload messaging.Payload, msg *messaging.Message) {
	defer m.recoverCallback(msg)
	callback(payload, msg)
}

func (m *Multiplexer) recoverCallback(msg *messaging.Message) {
	if err := recover(); err != nil {
		m.metrics.CallbackPanic()
		m.log.Error("Callback panicked while handling \"%s\" message %s: %v\n%s",
			msg.JupyterMessageType(), msg.JupyterMessageId(), err, string(debug.Stack()))
	}
}
