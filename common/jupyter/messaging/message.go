package messaging

import (
	"bytes"
	"fmt"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/goccy/go-json"
)

const (
	IOStatusMessage          JupyterMessageType = "status"
	IOStreamMessage          JupyterMessageType = "stream"
	IODisplayDataMessage     JupyterMessageType = "display_data"
	IOUpdateDisplayData      JupyterMessageType = "update_display_data"
	IOExecuteResultMessage   JupyterMessageType = "execute_result"
	IOErrorMessage           JupyterMessageType = "error"
	IOExecuteInputMessage    JupyterMessageType = "execute_input"
	IOClearOutputMessage     JupyterMessageType = "clear_output"
	CommOpenMessage          JupyterMessageType = "comm_open"
	CommMsgMessage           JupyterMessageType = "comm_msg"
	CommCloseMessage         JupyterMessageType = "comm_close"
	ShellExecuteRequest      JupyterMessageType = "execute_request"
	ShellExecuteReply        JupyterMessageType = "execute_reply"
	ShellInspectRequest      JupyterMessageType = "inspect_request"
	ShellInspectReply        JupyterMessageType = "inspect_reply"
	ShellCompleteRequest     JupyterMessageType = "complete_request"
	ShellCompleteReply       JupyterMessageType = "complete_reply"
	KernelInfoRequest        JupyterMessageType = "kernel_info_request"
	KernelInfoReply          JupyterMessageType = "kernel_info_reply"
	StdinInputRequest        JupyterMessageType = "input_request"
	StdinInputReply          JupyterMessageType = "input_reply"
	MessageTypeUnknown       JupyterMessageType = ""
	JavascriptISOString                         = "2006-01-02T15:04:05.999Z07:00"
	MessageHeaderFieldDate                      = "date"
	MessageHeaderFieldMsgId                     = "msg_id"
	MessageHeaderFieldMsgType                   = "msg_type"
	MessageHeaderFieldSession                   = "session"
	MessageHeaderFieldUsername                  = "username"
	MessageHeaderFieldVersion                   = "version"
)

var (
	ErrInvalidJupyterMessage = fmt.Errorf("invalid jupyter message")

	emptyObject = json.RawMessage("{}")
)

type JupyterMessageType string

func (t JupyterMessageType) String() string {
	return string(t)
}

// Channel is the logical channel a message travels on.
type Channel string

const (
	ShellChannel   Channel = "shell"
	IOPubChannel   Channel = "iopub"
	StdinChannel   Channel = "stdin"
	ControlChannel Channel = "control"
)

func (c Channel) String() string {
	return string(c)
}


// headerFieldOrder is the order in which the modeled header fields are written for a header that was not
// decoded from the wire.
var headerFieldOrder = []string{
	MessageHeaderFieldMsgId,
	MessageHeaderFieldUsername,
	MessageHeaderFieldSession,
	MessageHeaderFieldMsgType,
	MessageHeaderFieldVersion,
}

// MessageHeader is a Jupyter message header.
// http://jupyter-client.readthedocs.io/en/latest/messaging.html#general-message-format
//
// Header fields that are not part of the struct (e.g., "date", or fields added by future protocol
// versions) are kept verbatim. A decoded header is written back out with its fields in the order
// they were received.
type MessageHeader struct {
	MsgID    string             `json:"msg_id"`
	Username string             `json:"username"`
	Session  string             `json:"session"`
	MsgType  JupyterMessageType `json:"msg_type"`
	Version  string             `json:"version"`

	// fields holds every field of a decoded header, in arrival order, plus those added via SetExtra.
	fields *objectFields
}

func isHeaderField(key string) bool {
	switch key {
	case MessageHeaderFieldMsgId, MessageHeaderFieldUsername, MessageHeaderFieldSession,
		MessageHeaderFieldMsgType, MessageHeaderFieldVersion:
		return true
	default:
		return false
	}
}

func (header *MessageHeader) field(key string) string {
	switch key {
	case MessageHeaderFieldMsgId:
		return header.MsgID
	case MessageHeaderFieldUsername:
		return header.Username
	case MessageHeaderFieldSession:
		return header.Session
	case MessageHeaderFieldMsgType:
		return header.MsgType.String()
	case MessageHeaderFieldVersion:
		return header.Version
	default:
		return ""
	}
}

// decoded returns true if the header's field order came off the wire.
func (header *MessageHeader) decoded() bool {
	if header.fields == nil {
		return false
	}

	for el := header.fields.Front(); el != nil; el = el.Next() {
		if isHeaderField(el.Key) {
			return true
		}
	}

	return false
}

// IsEmpty returns true for the empty header "{}" (e.g., the parent header of a request).
func (header *MessageHeader) IsEmpty() bool {
	return header.MsgID == "" && header.Username == "" && header.Session == "" &&
		header.MsgType == "" && header.Version == "" && (header.fields == nil || header.fields.Len() == 0)
}

// Date returns the "date" field of the header, if one is present.
func (header *MessageHeader) Date() (string, bool) {
	raw, ok := header.Extra(MessageHeaderFieldDate)
	if !ok {
		return "", false
	}

	var date string
	if err := json.Unmarshal(raw, &date); err != nil {
		return "", false
	}

	return date, true
}

// SetDate sets the "date" field of the header.
func (header *MessageHeader) SetDate(date string) {
	encoded, _ := json.Marshal(date)
	header.SetExtra(MessageHeaderFieldDate, encoded)
}

// Extra returns an opaque header field that is not modeled by MessageHeader.
func (header *MessageHeader) Extra(key string) (json.RawMessage, bool) {
	if header.fields == nil || isHeaderField(key) {
		return nil, false
	}

	return header.fields.Get(key)
}

// SetExtra sets an opaque header field. Keys of modeled fields are ignored; set the struct field instead.
func (header *MessageHeader) SetExtra(key string, value json.RawMessage) {
	if isHeaderField(key) {
		return
	}

	if header.fields == nil {
		header.fields = newObjectFields()
	}

	header.fields.Set(key, append(json.RawMessage(nil), value...))
}

// Equal compares the modeled fields and the opaque fields, in order, of two headers.
func (header *MessageHeader) Equal(other *MessageHeader) bool {
	for _, key := range headerFieldOrder {
		if header.field(key) != other.field(key) {
			return false
		}
	}

	return extrasEqual(header.fields, other.fields, isHeaderField)
}

func (header *MessageHeader) Clone() *MessageHeader {
	clone := *header
	clone.fields = cloneFields(header.fields)
	return &clone
}

func (header *MessageHeader) MarshalJSON() ([]byte, error) {
	return header.marshal()
}

func (header *MessageHeader) marshal() ([]byte, error) {
	if header.IsEmpty() {
		return []byte("{}"), nil
	}

	w := newObjectWriter()
	decoded := header.decoded()

	if !decoded {
		for _, key := range headerFieldOrder {
			if err := w.writeString(key, header.field(key), nil); err != nil {
				return nil, err
			}
		}
	}

	if header.fields != nil {
		for el := header.fields.Front(); el != nil; el = el.Next() {
			var err error
			if isHeaderField(el.Key) {
				err = w.writeString(el.Key, header.field(el.Key), el.Value)
			} else {
				err = w.write(el.Key, el.Value)
			}

			if err != nil {
				return nil, err
			}
		}
	}

	// Modeled fields that were absent on the wire but have since been set.
	for _, key := range headerFieldOrder {
		if value := header.field(key); value != "" && !w.has(key) {
			if err := w.writeString(key, value, nil); err != nil {
				return nil, err
			}
		}
	}

	return w.bytes(), nil
}

func (header *MessageHeader) UnmarshalJSON(data []byte) error {
	*header = MessageHeader{}

	if isNull(data) {
		return nil
	}

	fields, err := decodeObject(data)
	if err != nil {
		return err
	}

	for el := fields.Front(); el != nil; el = el.Next() {
		if !isHeaderField(el.Key) {
			continue
		}

		var value string
		if err := json.Unmarshal(el.Value, &value); err != nil {
			return fmt.Errorf("header field \"%s\": %w", el.Key, err)
		}

		switch el.Key {
		case MessageHeaderFieldMsgId:
			header.MsgID = value
		case MessageHeaderFieldUsername:
			header.Username = value
		case MessageHeaderFieldSession:
			header.Session = value
		case MessageHeaderFieldMsgType:
			header.MsgType = JupyterMessageType(value)
		case MessageHeaderFieldVersion:
			header.Version = value
		}
	}

	if fields.Len() > 0 {
		header.fields = fields
	}

	return nil
}

func (header *MessageHeader) String() string {
	m, err := header.marshal()
	if err != nil {
		panic(err)
	}

	return string(m)
}

const (
	envelopeFieldHeader       = "header"
	envelopeFieldParentHeader = "parent_header"
	envelopeFieldMetadata     = "metadata"
	envelopeFieldContent      = "content"
	envelopeFieldChannel      = "channel"
	envelopeFieldBuffers      = "buffers"
)

var envelopeFieldOrder = []string{
	envelopeFieldHeader,
	envelopeFieldParentHeader,
	envelopeFieldMetadata,
	envelopeFieldContent,
	envelopeFieldChannel,
	envelopeFieldBuffers,
}

func isEnvelopeField(key string) bool {
	switch key {
	case envelopeFieldHeader, envelopeFieldParentHeader, envelopeFieldMetadata,
		envelopeFieldContent, envelopeFieldChannel, envelopeFieldBuffers:
		return true
	default:
		return false
	}
}

// Message represents an entire Jupyter message as it travels over the websocket channels.
//
// Metadata and Content are kept in their encoded form and decoded lazily via DecodeMetadata and
// DecodeContent, so that values this package does not model are forwarded byte for byte.
type Message struct {
	Header       MessageHeader
	ParentHeader MessageHeader
	Metadata     json.RawMessage
	Content      json.RawMessage
	Buffers      [][]byte
	Channel      Channel

	// fields holds every field of a decoded envelope, in arrival order.
	fields *objectFields
}

// JupyterMessageId returns the msg_id from the header.
func (m *Message) JupyterMessageId() string {
	return m.Header.MsgID
}

// JupyterMessageType returns the msg_type from the header.
func (m *Message) JupyterMessageType() JupyterMessageType {
	return m.Header.MsgType
}

// JupyterSession returns the session from the header.
func (m *Message) JupyterSession() string {
	return m.Header.Session
}

// ParentMessageId returns the msg_id of the parent header, which is the id of the request that
// this message is a reply or side effect of.
func (m *Message) ParentMessageId() string {
	return m.ParentHeader.MsgID
}

// DecodeContent decodes the content of the message into out.
func (m *Message) DecodeContent(out interface{}) error {
	return decodeObjectValue(m.Content, out)
}

// EncodeContent replaces the content of the message.
func (m *Message) EncodeContent(content interface{}) error {
	encoded, err := encodeValue(content)
	if err != nil {
		return err
	}

	m.Content = encoded
	return nil
}

// DecodeMetadata decodes the metadata of the message into out.
func (m *Message) DecodeMetadata(out interface{}) error {
	return decodeObjectValue(m.Metadata, out)
}

// EncodeMetadata replaces the metadata of the message.
func (m *Message) EncodeMetadata(metadata interface{}) error {
	encoded, err := encodeValue(metadata)
	if err != nil {
		return err
	}

	m.Metadata = encoded
	return nil
}

// Extra returns an opaque top-level field that is not modeled by Message.
func (m *Message) Extra(key string) (json.RawMessage, bool) {
	if m.fields == nil || isEnvelopeField(key) {
		return nil, false
	}

	return m.fields.Get(key)
}

// Equal compares every field of two messages. Metadata and content are compared in their encoded form.
func (m *Message) Equal(other *Message) bool {
	if !m.Header.Equal(&other.Header) || !m.ParentHeader.Equal(&other.ParentHeader) || m.Channel != other.Channel {
		return false
	}

	if !bytes.Equal(orEmptyObject(m.Metadata), orEmptyObject(other.Metadata)) ||
		!bytes.Equal(orEmptyObject(m.Content), orEmptyObject(other.Content)) {
		return false
	}

	if !buffersEqual(m.Buffers, other.Buffers) {
		return false
	}

	return extrasEqual(m.fields, other.fields, isEnvelopeField)
}

func (m *Message) Clone() *Message {
	clone := &Message{
		Header:       *m.Header.Clone(),
		ParentHeader: *m.ParentHeader.Clone(),
		Channel:      m.Channel,
		fields:       cloneFields(m.fields),
	}

	if m.Metadata != nil {
		clone.Metadata = append(json.RawMessage(nil), m.Metadata...)
	}

	if m.Content != nil {
		clone.Content = append(json.RawMessage(nil), m.Content...)
	}

	if m.Buffers != nil {
		clone.Buffers = make([][]byte, 0, len(m.Buffers))
		for _, buf := range m.Buffers {
			clone.Buffers = append(clone.Buffers, append([]byte(nil), buf...))
		}
	}

	return clone
}

func (m *Message) MarshalJSON() ([]byte, error) {
	return m.marshal(true)
}

// marshal encodes the envelope. The binary encoding carries buffers out-of-band, in which case the
// "buffers" field is omitted from the JSON part.
//
// A decoded envelope is written with its fields in arrival order. Fields whose value has not changed
// are written back exactly as they were received.
func (m *Message) marshal(includeBuffers bool) ([]byte, error) {
	w := newObjectWriter()

	if m.fields != nil {
		for el := m.fields.Front(); el != nil; el = el.Next() {
			if err := m.writeField(w, el.Key, el.Value, includeBuffers); err != nil {
				return nil, err
			}
		}
	}

	for _, key := range envelopeFieldOrder {
		if w.has(key) {
			continue
		}

		// A decoded envelope that arrived without "buffers" is not given an empty one.
		if m.fields != nil && key == envelopeFieldBuffers && len(m.Buffers) == 0 {
			continue
		}

		if err := m.writeField(w, key, nil, includeBuffers); err != nil {
			return nil, err
		}
	}

	return w.bytes(), nil
}

// writeField writes one envelope field. raw is the value the field arrived with, if any.
func (m *Message) writeField(w *objectWriter, key string, raw json.RawMessage, includeBuffers bool) error {
	switch key {
	case envelopeFieldHeader, envelopeFieldParentHeader:
		header := &m.Header
		if key == envelopeFieldParentHeader {
			header = &m.ParentHeader
		}

		if header.IsEmpty() && isNull(raw) && raw != nil {
			return w.write(key, raw)
		}

		encoded, err := header.marshal()
		if err != nil {
			return fmt.Errorf("field \"%s\": %w", key, err)
		}

		return w.write(key, encoded)
	case envelopeFieldMetadata, envelopeFieldContent:
		value := m.Metadata
		if key == envelopeFieldContent {
			value = m.Content
		}

		if len(value) == 0 || bytes.Equal(value, emptyObject) {
			if raw != nil && isNull(raw) {
				return w.write(key, raw)
			}
			return w.write(key, emptyObject)
		}

		return w.write(key, value)
	case envelopeFieldChannel:
		if m.Channel == "" && raw == nil {
			return nil
		}

		return w.writeString(key, m.Channel.String(), raw)
	case envelopeFieldBuffers:
		if !includeBuffers {
			return nil
		}

		if raw != nil {
			var decoded [][]byte
			if err := json.Unmarshal(raw, &decoded); err == nil && buffersEqual(decoded, m.Buffers) {
				return w.write(key, raw)
			}
		}

		buffers := m.Buffers
		if buffers == nil {
			buffers = [][]byte{}
		}

		encoded, err := json.Marshal(buffers)
		if err != nil {
			return fmt.Errorf("field \"%s\": %w", key, err)
		}

		return w.write(key, encoded)
	default:
		return w.write(key, raw)
	}
}

func (m *Message) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return err
	}

	*m = Message{
		Metadata: emptyObject,
		Content:  emptyObject,
		Buffers:  [][]byte{},
		fields:   fields,
	}

	for el := fields.Front(); el != nil; el = el.Next() {
		raw := el.Value

		switch el.Key {
		case envelopeFieldHeader:
			err = m.Header.UnmarshalJSON(raw)
		case envelopeFieldParentHeader:
			err = m.ParentHeader.UnmarshalJSON(raw)
		case envelopeFieldMetadata:
			if !isNull(raw) {
				m.Metadata = append(json.RawMessage(nil), raw...)
			}
		case envelopeFieldContent:
			if !isNull(raw) {
				m.Content = append(json.RawMessage(nil), raw...)
			}
		case envelopeFieldBuffers:
			if !isNull(raw) {
				err = json.Unmarshal(raw, &m.Buffers)
			}
		case envelopeFieldChannel:
			var channel string
			err = json.Unmarshal(raw, &channel)
			m.Channel = Channel(channel)
		}

		if err != nil {
			return fmt.Errorf("field \"%s\": %w", el.Key, err)
		}
	}

	return nil
}

func (m *Message) String() string {
	out, err := m.marshal(false)
	if err != nil {
		return fmt.Sprintf("Message[%s, id=%s, err=%v]", m.Header.MsgType, m.Header.MsgID, err)
	}

	return string(out)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func orEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return emptyObject
	}

	return raw
}

func decodeObjectValue(raw json.RawMessage, out interface{}) error {
	return json.Unmarshal(orEmptyObject(raw), out)
}

// encodeValue encodes content or metadata. nil encodes to "{}".
func encodeValue(value interface{}) (json.RawMessage, error) {
	switch v := value.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		if len(v) == 0 {
			return emptyObject, nil
		}
		return append(json.RawMessage(nil), v...), nil
	default:
		return json.Marshal(value)
	}
}

func buffersEqual(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}

	return true
}

// extrasEqual compares the fields of a and b for which modeled returns false, in order.
func extrasEqual(a, b *objectFields, modeled func(string) bool) bool {
	next := func(el *orderedmap.Element[string, json.RawMessage]) *orderedmap.Element[string, json.RawMessage] {
		for el != nil && modeled(el.Key) {
			el = el.Next()
		}
		return el
	}

	var ea, eb *orderedmap.Element[string, json.RawMessage]
	if a != nil {
		ea = a.Front()
	}
	if b != nil {
		eb = b.Front()
	}

	for {
		ea, eb = next(ea), next(eb)
		if ea == nil || eb == nil {
			return ea == nil && eb == nil
		}

		if ea.Key != eb.Key || !bytes.Equal(ea.Value, eb.Value) {
			return false
		}

		ea, eb = ea.Next(), eb.Next()
	}
}
