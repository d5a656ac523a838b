package client

import (
	"github.com/scusemua/notebook-kernel-client/common/jupyter/messaging"
)

// MessageCallback receives a single inbound message.
type MessageCallback func(msg *messaging.Message)

// PayloadCallback receives one entry of the "payload" list of a shell reply along with the reply itself.
type PayloadCallback func(payload messaging.Payload, msg *messaging.Message)

// ShellCallbacks are invoked for the single shell reply to a request.
type ShellCallbacks struct {
	// Reply is invoked with the reply message.
	Reply MessageCallback

	// Payload maps a payload "source" (e.g., "set_next_input", "page") to its callback.
	Payload map[string]PayloadCallback
}

// IOPubCallbacks are invoked for the broadcast messages that a request causes.
type IOPubCallbacks struct {
	// Output is invoked for "stream", "display_data", "update_display_data", "execute_result" and "error".
	Output MessageCallback

	// ClearOutput is invoked for "clear_output".
	ClearOutput MessageCallback

	// Status is invoked for every "status" message whose parent is the request.
	Status MessageCallback
}

// Callbacks is the set of handlers associated with one outgoing request.
//
// Groups that are left nil are considered finished from the start, so a request that only registers
// a shell reply handler is retired as soon as the reply has been dispatched.
type Callbacks struct {
	Shell *ShellCallbacks
	IOPub *IOPubCallbacks

	// Input is invoked for a stdin "input_request" whose parent is the request.
	Input MessageCallback
}

// HasShell returns true if a shell callback group was supplied.
func (c *Callbacks) HasShell() bool {
	return c != nil && c.Shell != nil
}

// HasIOPub returns true if an IOPub callback group was supplied.
func (c *Callbacks) HasIOPub() bool {
	return c != nil && c.IOPub != nil
}

// HasInput returns true if an input callback was supplied.
func (c *Callbacks) HasInput() bool {
	return c != nil && c.Input != nil
}

func (c *Callbacks) replyCallback() MessageCallback {
	if !c.HasShell() {
		return nil
	}

	return c.Shell.Reply
}

func (c *Callbacks) payloadCallback(source string) PayloadCallback {
	if !c.HasShell() || c.Shell.Payload == nil {
		return nil
	}

	return c.Shell.Payload[source]
}

func (c *Callbacks) outputCallback() MessageCallback {
	if !c.HasIOPub() {
		return nil
	}

	return c.IOPub.Output
}

func (c *Callbacks) clearOutputCallback() MessageCallback {
	if !c.HasIOPub() {
		return nil
	}

	return c.IOPub.ClearOutput
}

func (c *Callbacks) statusCallback() MessageCallback {
	if !c.HasIOPub() {
		return nil
	}

	return c.IOPub.Status
}
