package messaging

import (
	"github.com/goccy/go-json"
	"github.com/scusemua/notebook-kernel-client/common/jupyter"
)

const (
	MessageStatusOK    = "ok"
	MessageStatusError = "error"
	MessageStatusAbort = "aborted"
)

// MessageKernelStatus is the content of an IOPub "status" message.
type MessageKernelStatus struct {
	ExecutionState jupyter.ExecutionState `json:"execution_state"`
}

// MessageError is the content of a failed reply or of an IOPub "error" message.
type MessageError struct {
	Status    string   `json:"status"`
	ErrName   string   `json:"ename"`
	ErrValue  string   `json:"evalue"`
	Traceback []string `json:"traceback,omitempty"`
}

func (m *MessageError) String() string {
	out, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}

	return string(out)
}

// ExecuteRequest is the content of an "execute_request".
type ExecuteRequest struct {
	Code            string                 `json:"code"`
	Silent          bool                   `json:"silent"`
	StoreHistory    bool                   `json:"store_history"`
	UserExpressions map[string]interface{} `json:"user_expressions"`
	AllowStdin      bool                   `json:"allow_stdin"`
	StopOnError     bool                   `json:"stop_on_error"`
}

// InspectRequest is the content of an "inspect_request".
type InspectRequest struct {
	Code        string `json:"code"`
	CursorPos   int    `json:"cursor_pos"`
	DetailLevel int    `json:"detail_level"`
}

// CompleteRequest is the content of a "complete_request".
type CompleteRequest struct {
	Code      string `json:"code"`
	CursorPos int    `json:"cursor_pos"`
}

// InputRequest is the content of a stdin "input_request".
type InputRequest struct {
	Prompt   string `json:"prompt"`
	Password bool   `json:"password"`
}

// InputReply is the content of a stdin "input_reply".
type InputReply struct {
	Value string `json:"value"`
}

// StreamContent is the content of an IOPub "stream" message.
type StreamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// DataContent is the content of "execute_result", "display_data" and "update_display_data".
type DataContent struct {
	Data           map[string]interface{} `json:"data"`
	Metadata       map[string]interface{} `json:"metadata"`
	ExecutionCount *int                   `json:"execution_count,omitempty"`
}

// Payload is a single entry of the "payload" list of a shell reply. Only "source" is interpreted;
// the remaining fields are handed to the payload callback untouched.
type Payload map[string]interface{}

// Source returns the "source" field that selects the payload callback.
func (p Payload) Source() string {
	source, _ := p["source"].(string)
	return source
}

// ShellReplyContent holds the fields of a shell reply's content that the client itself interprets.
type ShellReplyContent struct {
	Status  string    `json:"status"`
	Payload []Payload `json:"payload,omitempty"`
}

// CommContent is the content of "comm_open", "comm_msg" and "comm_close".
type CommContent struct {
	CommID     string                 `json:"comm_id"`
	TargetName string                 `json:"target_name,omitempty"`
	Data       map[string]interface{} `json:"data"`
}
