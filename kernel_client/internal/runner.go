package internal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/charmbracelet/lipgloss"

	"github.com/scusemua/notebook-kernel-client/common/jupyter"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/client"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/notebook-kernel-client/common/utils"
)

const (
	// PagePayloadSource is the "source" of the shell reply payload that carries help text.
	PagePayloadSource = "page"

	mimeTextPlain = "text/plain"
)

var (
	ErrExecutionTimedOut = errors.New("execution did not complete in time")
	ErrInputUnavailable  = errors.New("the kernel requested input, but no more input is available")
)

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// ExecutionTimeout bounds a single execution. The kernel is interrupted if it elapses. Non-positive means no bound.
	ExecutionTimeout time.Duration

	// Color enables styled output.
	Color bool
}

// ExecutionResult summarizes one completed execution.
type ExecutionResult struct {
	MsgId          string
	Status         string
	ExecutionCount int
	NumOutputs     int
}

// Succeeded returns true if the kernel reported the execution as successful.
func (r *ExecutionResult) Succeeded() bool {
	return r.Status == messaging.MessageStatusOK
}

func (r *ExecutionResult) String() string {
	return fmt.Sprintf("ExecutionResult[MsgId=%s, Status=%s, ExecutionCount=%d, NumOutputs=%d]",
		r.MsgId, r.Status, r.ExecutionCount, r.NumOutputs)
}

// executeReplyContent holds the fields of an "execute_reply" that the Runner reports.
type executeReplyContent struct {
	Status         string `json:"status"`
	ExecutionCount int    `json:"execution_count"`
}

// Runner executes cells on a kernel, renders their output and answers the kernel's input requests
// with lines read from its input.
type Runner struct {
	client  client.KernelClient
	in      *bufio.Reader
	out     io.Writer
	options *RunnerOptions

	// outMu serializes writes from the inbound message queue and from the caller.
	outMu sync.Mutex

	log logger.Logger
}

// NewRunner creates a Runner that reads input from in and writes rendered output to out.
func NewRunner(kernelClient client.KernelClient, in io.Reader, out io.Writer, options *RunnerOptions) *Runner {
	if options == nil {
		options = &RunnerOptions{}
	}

	runner := &Runner{
		client:  kernelClient,
		in:      bufio.NewReader(in),
		out:     out,
		options: options,
	}
	config.InitLogger(&runner.log, runner)

	return runner
}

// Run executes code and blocks until both the reply and the final idle status have been received.
func (r *Runner) Run(ctx context.Context, code string) (*ExecutionResult, error) {
	var (
		replies  = make(chan *messaging.Message, 1)
		idle     = make(chan struct{}, 1)
		inputs   = make(chan *messaging.Message, 1)
		outputMu sync.Mutex
		result   = &ExecutionResult{}
	)

	callbacks := &client.Callbacks{
		Shell: &client.ShellCallbacks{
			Reply: func(msg *messaging.Message) {
				replies <- msg
			},
			Payload: map[string]client.PayloadCallback{
				PagePayloadSource: r.renderPage,
			},
		},
		IOPub: &client.IOPubCallbacks{
			Output: func(msg *messaging.Message) {
				outputMu.Lock()
				result.NumOutputs += 1
				outputMu.Unlock()

				r.renderOutput(msg)
			},
			ClearOutput: func(_ *messaging.Message) {
				r.log.Debug("Ignoring clear_output.")
			},
			Status: func(msg *messaging.Message) {
				var status messaging.MessageKernelStatus
				if err := msg.DecodeContent(&status); err == nil && status.ExecutionState == jupyter.ExecutionStateIdle {
					select {
					case idle <- struct{}{}:
					default:
					}
				}
			},
		},
		Input: func(msg *messaging.Message) {
			select {
			case inputs <- msg:
			default:
				r.log.Warn("Dropping input_request %s: a previous request has not been answered yet.", msg.JupyterMessageId())
			}
		},
	}

	storeHistory := true
	silent := false
	msgId, err := r.client.Execute(code, callbacks, &client.ExecuteOptions{
		Silent:       &silent,
		StoreHistory: &storeHistory,
	})
	if err != nil {
		return nil, err
	}
	result.MsgId = msgId

	var timeout <-chan time.Time
	if r.options.ExecutionTimeout > 0 {
		timer := time.NewTimer(r.options.ExecutionTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var reply *messaging.Message
	receivedIdle := false
	for reply == nil || !receivedIdle {
		select {
		case reply = <-replies:
			var content executeReplyContent
			if err = reply.DecodeContent(&content); err != nil {
				r.log.Warn("Could not decode execute_reply %s: %v", reply.JupyterMessageId(), err)
			}
			result.Status = content.Status
			result.ExecutionCount = content.ExecutionCount
		case <-idle:
			receivedIdle = true
		case request := <-inputs:
			if err = r.answerInput(request); err != nil {
				return result, err
			}
		case <-timeout:
			r.log.Warn("Execution %s did not complete within %v. Interrupting the kernel.", msgId, r.options.ExecutionTimeout)
			r.interrupt()
			return result, ErrExecutionTimedOut
		case <-ctx.Done():
			r.interrupt()
			return result, ctx.Err()
		}
	}

	outputMu.Lock()
	defer outputMu.Unlock()

	r.log.Debug("Execution complete: %v", result)
	return result, nil
}

// Loop reads cells, one per line, and executes them until the input is exhausted, "exit" or "quit"
// is entered, or ctx is cancelled.
func (r *Runner) Loop(ctx context.Context) error {
	for count := 1; ; {
		r.write(utils.GreenStyle, fmt.Sprintf("In [%d]: ", count))

		line, err := r.readLine()
		if errors.Is(err, io.EOF) {
			r.write(lipgloss.NewStyle(), "\n")
			return nil
		} else if err != nil {
			return err
		}

		code := strings.TrimSpace(line)
		switch code {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		result, err := r.Run(ctx, code)
		if errors.Is(err, ErrExecutionTimedOut) {
			r.write(utils.OrangeStyle, err.Error()+"\n")
			continue
		} else if err != nil {
			return err
		}

		if result.ExecutionCount > 0 {
			count = result.ExecutionCount + 1
		}
	}
}

func (r *Runner) answerInput(request *messaging.Message) error {
	var content messaging.InputRequest
	if err := request.DecodeContent(&content); err != nil {
		r.log.Warn("Could not decode input_request %s: %v", request.JupyterMessageId(), err)
	}

	r.write(lipgloss.NewStyle(), content.Prompt)

	value, err := r.readLine()
	if err != nil && (!errors.Is(err, io.EOF) || value == "") {
		// The kernel stays blocked until it gets a reply.
		if _, replyErr := r.client.SendInputReply(""); replyErr != nil {
			r.log.Error("Failed to send empty input_reply: %v", replyErr)
		}
		return ErrInputUnavailable
	}

	_, err = r.client.SendInputReply(value)
	return err
}

func (r *Runner) readLine() (string, error) {
	line, err := r.in.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

func (r *Runner) interrupt() {
	ctx, cancel := context.WithTimeout(context.Background(), jupyter.DefaultRequestTimeout)
	defer cancel()

	if err := r.client.Interrupt(ctx); err != nil {
		r.log.Error("Failed to interrupt kernel %s: %v", r.client.KernelId(), err)
	}
}

func (r *Runner) renderOutput(msg *messaging.Message) {
	switch msg.JupyterMessageType() {
	case messaging.IOStreamMessage:
		var stream messaging.StreamContent
		if err := msg.DecodeContent(&stream); err != nil {
			r.log.Warn("Could not decode stream message %s: %v", msg.JupyterMessageId(), err)
			return
		}

		if stream.Name == "stderr" {
			r.write(utils.RedStyle, stream.Text)
		} else {
			r.write(lipgloss.NewStyle(), stream.Text)
		}
	case messaging.IOErrorMessage:
		var failure messaging.MessageError
		if err := msg.DecodeContent(&failure); err != nil {
			r.log.Warn("Could not decode error message %s: %v", msg.JupyterMessageId(), err)
			return
		}

		r.write(utils.RedStyle, fmt.Sprintf("%s: %s\n", failure.ErrName, failure.ErrValue))
		for _, line := range failure.Traceback {
			r.write(utils.GrayStyle, line+"\n")
		}
	case messaging.IOExecuteResultMessage:
		var data messaging.DataContent
		if err := msg.DecodeContent(&data); err != nil {
			r.log.Warn("Could not decode execute_result %s: %v", msg.JupyterMessageId(), err)
			return
		}

		prefix := "Out: "
		if data.ExecutionCount != nil {
			prefix = fmt.Sprintf("Out[%d]: ", *data.ExecutionCount)
		}
		r.write(utils.LightBlueStyle, prefix)
		r.write(lipgloss.NewStyle(), plainText(data.Data)+"\n")
	default:
		var data messaging.DataContent
		if err := msg.DecodeContent(&data); err != nil {
			r.log.Warn("Could not decode \"%s\" message %s: %v", msg.JupyterMessageType(), msg.JupyterMessageId(), err)
			return
		}

		r.write(lipgloss.NewStyle(), plainText(data.Data)+"\n")
		if len(msg.Buffers) > 0 {
			r.write(utils.GrayStyle, fmt.Sprintf("[%d binary buffer(s)]\n", len(msg.Buffers)))
		}
	}
}

func (r *Runner) renderPage(payload messaging.Payload, _ *messaging.Message) {
	data, _ := payload["data"].(map[string]interface{})
	r.write(utils.GrayStyle, plainText(data)+"\n")
}

func (r *Runner) write(style lipgloss.Style, text string) {
	if r.options.Color {
		text = style.Render(text)
	}

	r.outMu.Lock()
	defer r.outMu.Unlock()

	if _, err := io.WriteString(r.out, text); err != nil {
		r.log.Error("Failed to write output: %v", err)
	}
}

// plainText returns the "text/plain" representation from a mime bundle.
func plainText(data map[string]interface{}) string {
	text, _ := data[mimeTextPlain].(string)
	return text
}
