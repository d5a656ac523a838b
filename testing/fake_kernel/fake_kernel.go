package fake_kernel

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/scusemua/notebook-kernel-client/common/jupyter"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/rest"
	"github.com/scusemua/notebook-kernel-client/common/utils"
)

const (
	// InputCode makes the kernel ask for input before answering.
	InputCode = "input()"

	// ErrorPrefix makes the kernel fail the execution.
	ErrorPrefix = "raise "

	// PagePrefix makes the kernel attach a "page" payload to the reply.
	PagePrefix = "?"

	// BuffersCode makes the kernel publish a display_data message with binary buffers.
	BuffersCode = "buffers()"
)

// FakeKernel is an echo kernel: the result of executing some code is the code itself.
//
// IOPub messages are published to every connection of the kernel, while shell and stdin replies only
// go to the connection the request arrived on.
type FakeKernel struct {
	ID   string
	Name string

	Interrupts atomic.Int32
	Restarts   atomic.Int32
	Serving    atomic.Bool

	replyBeforeIdle bool
	codec           *messaging.Codec
	executionCount  atomic.Int32

	conns map[*kernelConn]struct{}
	mu    sync.Mutex

	log logger.Logger
}

// kernelConn is one client's websocket connection to the kernel.
type kernelConn struct {
	conn      *websocket.Conn
	sessionId string
	limiter   *rate.Limiter

	// pendingInput is the execute_request waiting for an input_reply, if any.
	pendingInput *messaging.Message
}

func NewFakeKernel(id string, name string, replyBeforeIdle bool) *FakeKernel {
	kernel := &FakeKernel{
		ID:              id,
		Name:            name,
		replyBeforeIdle: replyBeforeIdle,
		codec:           messaging.NewCodec(uuid.NewString(), "kernel"),
		conns:           make(map[*kernelConn]struct{}),
	}
	kernel.Serving.Store(true)
	config.InitLogger(&kernel.log, "FakeKernel-"+id+" ")

	return kernel
}

// Model returns the REST model of the kernel.
func (k *FakeKernel) Model() *rest.Kernel {
	k.mu.Lock()
	connections := len(k.conns)
	k.mu.Unlock()

	return &rest.Kernel{
		ID:             k.ID,
		Name:           k.Name,
		LastActivity:   time.Now().UTC().Format(messaging.JavascriptISOString),
		ExecutionState: string(jupyter.ExecutionStateIdle),
		Connections:    connections,
	}
}

// NumConnections returns the number of open websocket connections.
func (k *FakeKernel) NumConnections() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return len(k.conns)
}

func (k *FakeKernel) Interrupt() {
	k.Interrupts.Add(1)
}

// Restart resets the execution count. Existing connections are kept; clients reconnect on their own.
func (k *FakeKernel) Restart() {
	k.Restarts.Add(1)
	k.executionCount.Store(0)
}

// PublishStatus publishes an execution state that is not tied to any request.
func (k *FakeKernel) PublishStatus(state jupyter.ExecutionState) {
	k.publish(context.Background(), nil, messaging.IOStatusMessage, &messaging.MessageKernelStatus{ExecutionState: state}, nil)
}

// PublishStream publishes stream output that is not tied to any request of a connected client.
func (k *FakeKernel) PublishStream(text string) {
	k.publish(context.Background(), nil, messaging.IOStreamMessage, &messaging.StreamContent{Name: "stdout", Text: text}, nil)
}

// DropConnections closes every connection without a close handshake.
func (k *FakeKernel) DropConnections() {
	for _, kc := range k.connections() {
		_ = kc.conn.CloseNow()
	}
}

// Close closes every connection with the given status and stops serving new ones.
func (k *FakeKernel) Close(code websocket.StatusCode) {
	k.Serving.Store(false)

	for _, kc := range k.connections() {
		_ = kc.conn.Close(code, "kernel shut down")
	}
}

// Serve handles one client connection until it is closed.
func (k *FakeKernel) Serve(ctx context.Context, conn *websocket.Conn, sessionId string) {
	defer conn.CloseNow()

	if !k.Serving.Load() {
		_ = conn.Close(websocket.StatusGoingAway, "kernel is shutting down")
		return
	}

	kc := &kernelConn{
		conn:      conn,
		sessionId: sessionId,
		limiter:   rate.NewLimiter(rate.Every(time.Millisecond), 100),
	}

	k.mu.Lock()
	k.conns[kc] = struct{}{}
	k.mu.Unlock()

	defer func() {
		k.mu.Lock()
		delete(k.conns, kc)
		k.mu.Unlock()
	}()

	k.log.Debug("Client session %s connected.", sessionId)

	for {
		err := k.handleMessage(ctx, kc)

		if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			return
		}

		if err != nil {
			k.log.Debug("Connection of session %s ended: %v", sessionId, err)
			return
		}
	}
}

func (k *FakeKernel) handleMessage(ctx context.Context, kc *kernelConn) error {
	if err := kc.limiter.Wait(ctx); err != nil {
		return err
	}

	typ, data, err := kc.conn.Read(ctx)
	if err != nil {
		return err
	}

	encoding := messaging.TextEncoding
	if typ == websocket.MessageBinary {
		encoding = messaging.BinaryEncoding
	}

	request, err := messaging.Deserialize(data, encoding)
	if err != nil {
		k.log.Error(utils.RedStyle.Render("Dropping malformed frame: %v"), err)
		return nil
	}

	k.log.Debug("[%v] Received \"%s\" message %s.", request.Channel, request.JupyterMessageType(), request.JupyterMessageId())

	switch request.JupyterMessageType() {
	case messaging.KernelInfoRequest:
		return k.handleKernelInfo(ctx, kc, request)
	case messaging.ShellExecuteRequest:
		return k.handleExecute(ctx, kc, request)
	case messaging.ShellInspectRequest:
		return k.reply(ctx, kc, request, messaging.ShellInspectReply, map[string]interface{}{
			"status": messaging.MessageStatusOK, "found": false, "data": map[string]interface{}{}, "metadata": map[string]interface{}{},
		})
	case messaging.ShellCompleteRequest:
		var content messaging.CompleteRequest
		_ = request.DecodeContent(&content)

		return k.reply(ctx, kc, request, messaging.ShellCompleteReply, map[string]interface{}{
			"status": messaging.MessageStatusOK, "matches": []string{content.Code}, "cursor_start": 0, "cursor_end": content.CursorPos, "metadata": map[string]interface{}{},
		})
	case messaging.StdinInputReply:
		return k.handleInputReply(ctx, kc, request)
	default:
		k.log.Warn(utils.OrangeStyle.Render("Ignoring unsupported \"%s\" message."), request.JupyterMessageType())
		return nil
	}
}

func (k *FakeKernel) handleKernelInfo(ctx context.Context, kc *kernelConn, request *messaging.Message) error {
	return k.run(ctx, kc, request, messaging.KernelInfoReply, func() map[string]interface{} {
		return map[string]interface{}{
			"status":                 messaging.MessageStatusOK,
			"protocol_version":       "5.3",
			"implementation":         "fake_kernel",
			"implementation_version": "1.0.0",
			"language_info":          map[string]interface{}{"name": "python", "version": "3.11"},
			"banner":                 "Fake kernel",
		}
	})
}

func (k *FakeKernel) handleExecute(ctx context.Context, kc *kernelConn, request *messaging.Message) error {
	var content messaging.ExecuteRequest
	if err := request.DecodeContent(&content); err != nil {
		return k.reply(ctx, kc, request, messaging.ShellExecuteReply, &messaging.MessageError{
			Status: messaging.MessageStatusError, ErrName: "ValueError", ErrValue: err.Error(),
		})
	}

	count := int(k.executionCount.Add(1))

	if err := k.publish(ctx, request, messaging.IOStatusMessage, &messaging.MessageKernelStatus{ExecutionState: jupyter.ExecutionStateBusy}, nil); err != nil {
		return err
	}

	if err := k.publish(ctx, request, messaging.IOExecuteInputMessage, map[string]interface{}{"code": content.Code, "execution_count": count}, nil); err != nil {
		return err
	}

	if content.Code == InputCode && content.AllowStdin {
		kc.pendingInput = request
		return k.send(ctx, kc, request, messaging.StdinChannel, messaging.StdinInputRequest, &messaging.InputRequest{Prompt: "> "}, nil)
	}

	return k.finishExecute(ctx, kc, request, content.Code, count)
}

func (k *FakeKernel) handleInputReply(ctx context.Context, kc *kernelConn, inputReply *messaging.Message) error {
	request := kc.pendingInput
	if request == nil {
		k.log.Warn("Received an input_reply without a pending input_request.")
		return nil
	}
	kc.pendingInput = nil

	var content messaging.InputReply
	if err := inputReply.DecodeContent(&content); err != nil {
		return err
	}

	return k.finishExecute(ctx, kc, request, content.Value, int(k.executionCount.Load()))
}

// finishExecute publishes the outcome of an execution followed by the reply and the idle status.
func (k *FakeKernel) finishExecute(ctx context.Context, kc *kernelConn, request *messaging.Message, result string, count int) error {
	replyContent := map[string]interface{}{
		"status":           messaging.MessageStatusOK,
		"execution_count":  count,
		"payload":          []interface{}{},
		"user_expressions": map[string]interface{}{},
	}

	switch {
	case strings.HasPrefix(result, ErrorPrefix):
		failure := &messaging.MessageError{
			Status:    messaging.MessageStatusError,
			ErrName:   "Exception",
			ErrValue:  strings.TrimPrefix(result, ErrorPrefix),
			Traceback: []string{"Traceback (most recent call last):", result},
		}
		if err := k.publish(ctx, request, messaging.IOErrorMessage, failure, nil); err != nil {
			return err
		}

		replyContent["status"] = messaging.MessageStatusError
		replyContent["ename"] = failure.ErrName
		replyContent["evalue"] = failure.ErrValue
		replyContent["traceback"] = failure.Traceback
	case result == BuffersCode:
		if err := k.publish(ctx, request, messaging.IODisplayDataMessage, &messaging.DataContent{
			Data:     map[string]interface{}{"text/plain": result},
			Metadata: map[string]interface{}{},
		}, [][]byte{[]byte("buffer-0"), []byte("buffer-1")}); err != nil {
			return err
		}
	default:
		if strings.HasPrefix(result, PagePrefix) {
			replyContent["payload"] = []interface{}{map[string]interface{}{
				"source": "page",
				"data":   map[string]interface{}{"text/plain": strings.TrimPrefix(result, PagePrefix)},
				"start":  0,
			}}
		}

		if err := k.publish(ctx, request, messaging.IOExecuteResultMessage, &messaging.DataContent{
			Data:           map[string]interface{}{"text/plain": result},
			Metadata:       map[string]interface{}{},
			ExecutionCount: &count,
		}, nil); err != nil {
			return err
		}
	}

	return k.finish(ctx, kc, request, messaging.ShellExecuteReply, replyContent)
}

// run answers a request that has no side effects besides its busy/idle status.
func (k *FakeKernel) run(ctx context.Context, kc *kernelConn, request *messaging.Message, replyType messaging.JupyterMessageType, content func() map[string]interface{}) error {
	if err := k.publish(ctx, request, messaging.IOStatusMessage, &messaging.MessageKernelStatus{ExecutionState: jupyter.ExecutionStateBusy}, nil); err != nil {
		return err
	}

	return k.finish(ctx, kc, request, replyType, content())
}

// finish sends the shell reply and the idle status in the configured order.
func (k *FakeKernel) finish(ctx context.Context, kc *kernelConn, request *messaging.Message, replyType messaging.JupyterMessageType, content interface{}) error {
	idle := func() error {
		return k.publish(ctx, request, messaging.IOStatusMessage, &messaging.MessageKernelStatus{ExecutionState: jupyter.ExecutionStateIdle}, nil)
	}

	if !k.replyBeforeIdle {
		if err := idle(); err != nil {
			return err
		}
	}

	if err := k.reply(ctx, kc, request, replyType, content); err != nil {
		return err
	}

	if k.replyBeforeIdle {
		return idle()
	}

	return nil
}

func (k *FakeKernel) reply(ctx context.Context, kc *kernelConn, request *messaging.Message, replyType messaging.JupyterMessageType, content interface{}) error {
	return k.send(ctx, kc, request, messaging.ShellChannel, replyType, content, nil)
}

// publish sends an IOPub message to every connection of the kernel.
func (k *FakeKernel) publish(ctx context.Context, parent *messaging.Message, msgType messaging.JupyterMessageType, content interface{}, buffers [][]byte) error {
	for _, kc := range k.connections() {
		if err := k.send(ctx, kc, parent, messaging.IOPubChannel, msgType, content, buffers); err != nil {
			k.log.Debug("Failed to publish \"%s\" to session %s: %v", msgType, kc.sessionId, err)
		}
	}

	return nil
}

func (k *FakeKernel) send(ctx context.Context, kc *kernelConn, parent *messaging.Message, channel messaging.Channel, msgType messaging.JupyterMessageType, content interface{}, buffers [][]byte) error {
	msg, err := k.codec.Build(msgType, content, nil, buffers)
	if err != nil {
		return err
	}

	msg.Channel = channel
	if parent != nil {
		msg.ParentHeader = *parent.Header.Clone()
	}

	if len(msg.Buffers) == 0 {
		return wsjson.Write(ctx, kc.conn, msg)
	}

	data, _, err := messaging.Serialize(msg)
	if err != nil {
		return err
	}

	return kc.conn.Write(ctx, websocket.MessageBinary, data)
}

func (k *FakeKernel) connections() []*kernelConn {
	k.mu.Lock()
	defer k.mu.Unlock()

	conns := make([]*kernelConn, 0, len(k.conns))
	for kc := range k.conns {
		conns = append(conns, kc)
	}

	return conns
}
