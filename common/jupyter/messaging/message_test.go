package messaging_test

import (
	"encoding/binary"
	"errors"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/scusemua/notebook-kernel-client/common/jupyter"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/messaging"
)

var _ = Describe("Message", func() {
	var (
		codec     *messaging.Codec
		sessionId string
	)

	BeforeEach(func() {
		sessionId = uuid.NewString()
		codec = messaging.NewCodec(sessionId, "jovyan")
	})

	Context("Building messages", func() {
		It("Will stamp the header and apply defaults", func() {
			msg, err := codec.Build(messaging.KernelInfoRequest, nil, nil, nil)
			Expect(err).To(BeNil())
			Expect(msg).ToNot(BeNil())

			Expect(msg.Header.MsgID).ToNot(BeEmpty())
			Expect(msg.Header.Session).To(Equal(sessionId))
			Expect(msg.Header.Username).To(Equal("jovyan"))
			Expect(msg.Header.MsgType).To(Equal(messaging.KernelInfoRequest))
			Expect(msg.Header.Version).To(Equal(jupyter.ProtocolVersion))
			Expect(msg.ParentHeader.IsEmpty()).To(BeTrue())
			Expect(string(msg.Metadata)).To(Equal("{}"))
			Expect(msg.Buffers).To(BeEmpty())
			Expect(msg.Buffers).ToNot(BeNil())
			Expect(string(msg.Content)).To(Equal("{}"))

			date, ok := msg.Header.Date()
			Expect(ok).To(BeTrue())
			Expect(date).ToNot(BeEmpty())
		})

		It("Will use the default username when none is given", func() {
			msg, err := messaging.NewCodec(sessionId, "").Build(messaging.KernelInfoRequest, nil, nil, nil)
			Expect(err).To(BeNil())
			Expect(msg.Header.Username).To(Equal(jupyter.DefaultUsername))
		})

		It("Will generate pairwise distinct message ids", func() {
			seen := make(map[string]struct{})
			for i := 0; i < 1000; i++ {
				msg, err := codec.Build(messaging.ShellExecuteRequest, &messaging.ExecuteRequest{Code: "1+1"}, nil, nil)
				Expect(err).To(BeNil())
				Expect(seen).ToNot(HaveKey(msg.Header.MsgID))
				seen[msg.Header.MsgID] = struct{}{}
			}
			Expect(seen).To(HaveLen(1000))
		})

		It("Will encode the parent header of a request as an empty object", func() {
			msg, err := codec.Build(messaging.KernelInfoRequest, nil, nil, nil)
			Expect(err).To(BeNil())

			data, encoding, err := messaging.Serialize(msg)
			Expect(err).To(BeNil())
			Expect(encoding).To(Equal(messaging.TextEncoding))

			var fields map[string]json.RawMessage
			Expect(json.Unmarshal(data, &fields)).To(Succeed())
			Expect(string(fields["parent_header"])).To(Equal("{}"))
			Expect(string(fields["buffers"])).To(Equal("[]"))
			Expect(fields).To(HaveKey("header"))
			Expect(fields).To(HaveKey("metadata"))
			Expect(fields).To(HaveKey("content"))
		})
	})

	Context("Round trips", func() {
		It("Will round trip a text-encoded message", func() {
			msg, err := codec.Build(messaging.ShellExecuteRequest, &messaging.ExecuteRequest{
				Code:            "a = 1 + 2\nprint(f'a: {a}')",
				Silent:          false,
				StoreHistory:    true,
				UserExpressions: map[string]interface{}{},
				AllowStdin:      true,
			}, map[string]interface{}{"cellId": "abc", "retries": 3}, nil)
			Expect(err).To(BeNil())
			msg.Channel = messaging.ShellChannel

			data, encoding, err := messaging.Serialize(msg)
			Expect(err).To(BeNil())
			Expect(encoding).To(Equal(messaging.TextEncoding))

			decoded, err := messaging.Deserialize(data, encoding)
			Expect(err).To(BeNil())
			Expect(decoded.Equal(msg)).To(BeTrue())

			var metadata struct {
				CellId  string `json:"cellId"`
				Retries int    `json:"retries"`
			}
			Expect(decoded.DecodeMetadata(&metadata)).To(Succeed())
			Expect(metadata.CellId).To(Equal("abc"))
			Expect(metadata.Retries).To(Equal(3))

			var request messaging.ExecuteRequest
			Expect(decoded.DecodeContent(&request)).To(Succeed())
			Expect(request.Code).To(Equal("a = 1 + 2\nprint(f'a: {a}')"))
			Expect(request.AllowStdin).To(BeTrue())
		})

		It("Will round trip a binary-encoded message with buffers", func() {
			buffers := [][]byte{{0x00, 0x01, 0x02}, []byte("second buffer"), {}}
			msg, err := codec.Build(messaging.CommMsgMessage, &messaging.CommContent{CommID: "c1", Data: map[string]interface{}{}}, nil, buffers)
			Expect(err).To(BeNil())
			msg.Channel = messaging.ShellChannel

			data, encoding, err := messaging.Serialize(msg)
			Expect(err).To(BeNil())
			Expect(encoding).To(Equal(messaging.BinaryEncoding))
			Expect(binary.BigEndian.Uint32(data[0:4])).To(Equal(uint32(4)))
			Expect(binary.BigEndian.Uint32(data[4:8])).To(Equal(uint32(20)))

			decoded, err := messaging.Deserialize(data, encoding)
			Expect(err).To(BeNil())
			Expect(decoded.Equal(msg)).To(BeTrue())
			Expect(decoded.Buffers).To(Equal(buffers))
		})

		It("Will preserve unknown header and envelope fields", func() {
			raw := `{"header":{"msg_id":"m1","username":"u","session":"s","msg_type":"stream","version":"5.3","date":"2024-04-03T22:55:52.605Z","subshell_id":null},` +
				`"parent_header":{"msg_id":"p1","username":"u","session":"s","msg_type":"execute_request","version":"5.3"},` +
				`"metadata":{},"content":{"name":"stdout","text":"hi\n"},"buffers":[],"channel":"iopub","signature":"abc"}`

			msg, err := messaging.Deserialize([]byte(raw), messaging.TextEncoding)
			Expect(err).To(BeNil())
			Expect(msg.Channel).To(Equal(messaging.IOPubChannel))
			Expect(msg.ParentMessageId()).To(Equal("p1"))

			date, ok := msg.Header.Date()
			Expect(ok).To(BeTrue())
			Expect(date).To(Equal("2024-04-03T22:55:52.605Z"))

			subshell, ok := msg.Header.Extra("subshell_id")
			Expect(ok).To(BeTrue())
			Expect(string(subshell)).To(Equal("null"))

			signature, ok := msg.Extra("signature")
			Expect(ok).To(BeTrue())
			Expect(string(signature)).To(Equal(`"abc"`))

			data, _, err := messaging.Serialize(msg)
			Expect(err).To(BeNil())
			Expect(string(data)).To(Equal(raw))

			again, err := messaging.Deserialize(data, messaging.TextEncoding)
			Expect(err).To(BeNil())
			Expect(again.Equal(msg)).To(BeTrue())
		})

		It("Will re-encode a received message byte for byte", func() {
			raw := `{"parent_header":null,"header":{"version":"5.3","msg_type":"execute_reply","msg_id":"m2","session":"s","username":"u","date":"2024-04-03T22:55:52.605Z"},` +
				`"content":{"status":"ok","execution_count":1},` +
				`"metadata":{"big":9007199254740993,"f":1.0,"started":"2024-04-03T22:55:52.600Z"},"channel":"shell"}`

			msg, err := messaging.Deserialize([]byte(raw), messaging.TextEncoding)
			Expect(err).To(BeNil())
			Expect(msg.ParentHeader.IsEmpty()).To(BeTrue())

			var metadata struct {
				Big uint64  `json:"big"`
				F   float64 `json:"f"`
			}
			Expect(msg.DecodeMetadata(&metadata)).To(Succeed())
			Expect(metadata.Big).To(Equal(uint64(9007199254740993)))
			Expect(metadata.F).To(Equal(1.0))

			data, encoding, err := messaging.Serialize(msg)
			Expect(err).To(BeNil())
			Expect(encoding).To(Equal(messaging.TextEncoding))
			Expect(string(data)).To(Equal(raw))
		})

		It("Will write changed fields in place", func() {
			raw := `{"header":{"msg_type":"stream","msg_id":"m3","session":"s","username":"u","version":"5.3"},"parent_header":{},"metadata":{"a":1},"content":{},"channel":"iopub"}`

			msg, err := messaging.Deserialize([]byte(raw), messaging.TextEncoding)
			Expect(err).To(BeNil())

			msg.Header.MsgID = "m4"
			Expect(msg.EncodeMetadata(map[string]int{"b": 2})).To(Succeed())

			data, _, err := messaging.Serialize(msg)
			Expect(err).To(BeNil())
			Expect(string(data)).To(Equal(
				`{"header":{"msg_type":"stream","msg_id":"m4","session":"s","username":"u","version":"5.3"},"parent_header":{},"metadata":{"b":2},"content":{},"channel":"iopub"}`))
		})

		It("Will tell apart messages whose metadata differs", func() {
			msg, err := codec.Build(messaging.KernelInfoRequest, nil, map[string]interface{}{"n": 1}, nil)
			Expect(err).To(BeNil())

			clone := msg.Clone()
			Expect(clone.Equal(msg)).To(BeTrue())

			Expect(clone.EncodeMetadata(map[string]interface{}{"n": 2})).To(Succeed())
			Expect(clone.Equal(msg)).To(BeFalse())
		})
	})

	Context("Protocol errors", func() {
		It("Will reject malformed JSON", func() {
			_, err := messaging.Deserialize([]byte("{not json"), messaging.TextEncoding)
			Expect(err).ToNot(BeNil())
			Expect(errors.Is(err, messaging.ErrInvalidJupyterMessage)).To(BeTrue())

			var protocolError *messaging.ProtocolError
			Expect(errors.As(err, &protocolError)).To(BeTrue())
		})

		It("Will reject an envelope without a message type", func() {
			_, err := messaging.Deserialize([]byte(`{"header":{"msg_id":"x"},"content":{}}`), messaging.TextEncoding)
			Expect(errors.Is(err, messaging.ErrInvalidJupyterMessage)).To(BeTrue())
		})

		It("Will reject truncated binary frames", func() {
			_, err := messaging.Deserialize([]byte{0, 0, 0, 9, 0, 0, 0, 8}, messaging.BinaryEncoding)
			Expect(errors.Is(err, messaging.ErrInvalidJupyterMessage)).To(BeTrue())

			_, err = messaging.Deserialize([]byte{0, 0}, messaging.BinaryEncoding)
			Expect(errors.Is(err, messaging.ErrInvalidJupyterMessage)).To(BeTrue())
		})
	})

	Context("Message types", func() {
		It("Will return the source of a payload", func() {
			payload := messaging.Payload{"source": "set_next_input", "text": "x"}
			Expect(payload.Source()).To(Equal("set_next_input"))
			Expect(messaging.Payload{}.Source()).To(BeEmpty())
		})
	})
})
