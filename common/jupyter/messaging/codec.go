package messaging

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/scusemua/notebook-kernel-client/common/jupyter"
)

const (
	// TextEncoding is a JSON text frame.
	TextEncoding Encoding = iota
	// BinaryEncoding is the offset-table binary frame used when a message carries buffers.
	BinaryEncoding
)

// Encoding is the framing of a serialized message on the wire.
type Encoding int

func (e Encoding) String() string {
	if e == BinaryEncoding {
		return "binary"
	}

	return "text"
}

// ProtocolError is returned when an inbound frame cannot be decoded into a valid Message.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", ErrInvalidJupyterMessage, e.Reason, e.Err)
	}

	return fmt.Sprintf("%v: %s", ErrInvalidJupyterMessage, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrInvalidJupyterMessage) hold for every ProtocolError.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrInvalidJupyterMessage
}

func newProtocolError(reason string, err error) *ProtocolError {
	return &ProtocolError{Reason: reason, Err: err}
}

// Codec builds outgoing messages stamped with a fixed session identity.
type Codec struct {
	session  string
	username string
	version  string

	// now is swapped out by tests.
	now func() time.Time
}

// NewCodec creates a Codec for the given session id and username.
// An empty username is replaced with jupyter.DefaultUsername.
func NewCodec(session string, username string) *Codec {
	if username == "" {
		username = jupyter.DefaultUsername
	}

	return &Codec{
		session:  session,
		username: username,
		version:  jupyter.ProtocolVersion,
		now:      time.Now,
	}
}

// Session returns the session id stamped on every message built by the Codec.
func (c *Codec) Session() string {
	return c.session
}

// Username returns the username stamped on every message built by the Codec.
func (c *Codec) Username() string {
	return c.username
}

// Build creates a new outgoing message with a fresh msg_id.
//
// content and metadata may be any JSON-encodable value (or a json.RawMessage); nil encodes to an empty
// object. Nil buffers are replaced with an empty slice. The parent header is always empty.
func (c *Codec) Build(msgType JupyterMessageType, content interface{}, metadata interface{}, buffers [][]byte) (*Message, error) {
	encodedContent, err := encodeValue(content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode content of \"%s\" message: %w", msgType, err)
	}

	encodedMetadata, err := encodeValue(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata of \"%s\" message: %w", msgType, err)
	}

	if buffers == nil {
		buffers = [][]byte{}
	}

	msg := &Message{
		Header: MessageHeader{
			MsgID:    uuid.NewString(),
			Username: c.username,
			Session:  c.session,
			MsgType:  msgType,
			Version:  c.version,
		},
		Metadata: encodedMetadata,
		Content:  encodedContent,
		Buffers:  buffers,
	}
	msg.Header.SetDate(c.now().UTC().Format(JavascriptISOString))

	return msg, nil
}

// Serialize encodes the message for the wire. Messages without buffers are encoded as JSON text;
// messages with buffers use the binary encoding:
//
//	uint32 nbufs | uint32 offset[0] ... offset[nbufs-1] | JSON envelope | buffer 1 | ... | buffer nbufs-1
//
// All integers are big-endian. The JSON envelope counts as the first buffer and omits "buffers".
func Serialize(msg *Message) ([]byte, Encoding, error) {
	if len(msg.Buffers) == 0 {
		data, err := msg.marshal(true)
		if err != nil {
			return nil, TextEncoding, err
		}

		return data, TextEncoding, nil
	}

	envelope, err := msg.marshal(false)
	if err != nil {
		return nil, BinaryEncoding, err
	}

	parts := make([][]byte, 0, len(msg.Buffers)+1)
	parts = append(parts, envelope)
	parts = append(parts, msg.Buffers...)

	nbufs := len(parts)
	headerLen := 4 * (nbufs + 1)
	total := headerLen
	for _, part := range parts {
		total += len(part)
	}

	out := make([]byte, total)
	binary.BigEndian.PutUint32(out[0:4], uint32(nbufs))

	offset := headerLen
	for i, part := range parts {
		binary.BigEndian.PutUint32(out[4*(i+1):4*(i+2)], uint32(offset))
		copy(out[offset:], part)
		offset += len(part)
	}

	return out, BinaryEncoding, nil
}

// Deserialize decodes a frame received from the wire.
//
// Any failure is reported as a *ProtocolError.
func Deserialize(data []byte, encoding Encoding) (*Message, error) {
	var (
		envelope []byte
		buffers  [][]byte
	)

	switch encoding {
	case TextEncoding:
		envelope = data
	case BinaryEncoding:
		parts, err := splitBinaryFrame(data)
		if err != nil {
			return nil, err
		}
		envelope = parts[0]
		buffers = parts[1:]
	default:
		return nil, newProtocolError(fmt.Sprintf("unknown encoding %d", encoding), nil)
	}

	msg := &Message{}
	if err := msg.UnmarshalJSON(envelope); err != nil {
		return nil, newProtocolError("malformed envelope", err)
	}

	if msg.Header.MsgType == "" {
		return nil, newProtocolError("header is missing msg_type", nil)
	}

	if encoding == BinaryEncoding {
		msg.Buffers = buffers
	}

	return msg, nil
}

func splitBinaryFrame(data []byte) ([][]byte, error) {
	if len(data) < 8 {
		return nil, newProtocolError(fmt.Sprintf("binary frame of %d bytes is too short", len(data)), nil)
	}

	nbufs := int(binary.BigEndian.Uint32(data[0:4]))
	if nbufs < 1 || 4*(nbufs+1) > len(data) {
		return nil, newProtocolError(fmt.Sprintf("binary frame declares %d buffers but is only %d bytes", nbufs, len(data)), nil)
	}

	offsets := make([]int, nbufs+1)
	for i := 0; i < nbufs; i++ {
		offsets[i] = int(binary.BigEndian.Uint32(data[4*(i+1) : 4*(i+2)]))
	}
	offsets[nbufs] = len(data)

	parts := make([][]byte, 0, nbufs)
	for i := 0; i < nbufs; i++ {
		start, end := offsets[i], offsets[i+1]
		if start < 4*(nbufs+1) || start > end || end > len(data) {
			return nil, newProtocolError(fmt.Sprintf("binary frame has invalid offsets [%d, %d)", start, end), nil)
		}
		part := make([]byte, end-start)
		copy(part, data[start:end])
		parts = append(parts, part)
	}

	return parts, nil
}
