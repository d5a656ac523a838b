package transport_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-client/common/jupyter"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/rest"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/transport"
	"github.com/scusemua/notebook-kernel-client/testing/fake_kernel"
)

const (
	testToken     = "8c1d0e6a"
	testSessionId = "c8d7e1f2-session"
)

var _ = Describe("WebSocketTransport", func() {
	var (
		ctx        context.Context
		cancel     context.CancelFunc
		server     *fake_kernel.Server
		restClient *rest.Client
		kernel     *rest.Kernel
		codec      *messaging.Codec
	)

	send := func(conn transport.Conn, channel messaging.Channel, msgType messaging.JupyterMessageType, content interface{}) *messaging.Message {
		msg, err := codec.Build(msgType, content, nil, nil)
		Expect(err).To(BeNil())
		msg.Channel = channel

		data, encoding, err := messaging.Serialize(msg)
		Expect(err).To(BeNil())
		Expect(conn.Write(ctx, data, encoding)).To(Succeed())

		return msg
	}

	receive := func(conn transport.Conn) (*messaging.Message, messaging.Encoding) {
		data, encoding, err := conn.Read(ctx)
		Expect(err).To(BeNil())

		msg, err := messaging.Deserialize(data, encoding)
		Expect(err).To(BeNil())

		return msg, encoding
	}

	BeforeEach(func() {
		var err error

		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)

		server = fake_kernel.NewServer(testToken)
		server.Start()

		restClient, err = rest.NewClient(server.URL(), testToken)
		Expect(err).To(BeNil())

		kernel, err = restClient.StartKernel(ctx, "python3")
		Expect(err).To(BeNil())

		codec = messaging.NewCodec(testSessionId, "")
	})

	AfterEach(func() {
		server.Close()
		cancel()
	})

	It("Will exchange text frames with the kernel", func() {
		conn, err := transport.NewWebSocketTransport(testToken).Dial(ctx, restClient.ChannelsURL(kernel.ID, testSessionId))
		Expect(err).To(BeNil())
		defer conn.Close()

		request := send(conn, messaging.ShellChannel, messaging.KernelInfoRequest, nil)

		var received []messaging.JupyterMessageType
		for len(received) < 3 {
			msg, encoding := receive(conn)
			Expect(encoding).To(Equal(messaging.TextEncoding))
			Expect(msg.ParentMessageId()).To(Equal(request.JupyterMessageId()))

			received = append(received, msg.JupyterMessageType())
		}

		Expect(received).To(ConsistOf(messaging.IOStatusMessage, messaging.IOStatusMessage, messaging.KernelInfoReply))
	})

	It("Will receive messages with buffers as binary frames", func() {
		conn, err := transport.NewWebSocketTransport(testToken).Dial(ctx, restClient.ChannelsURL(kernel.ID, testSessionId))
		Expect(err).To(BeNil())
		defer conn.Close()

		send(conn, messaging.ShellChannel, messaging.ShellExecuteRequest, &messaging.ExecuteRequest{
			Code:            fake_kernel.BuffersCode,
			UserExpressions: map[string]interface{}{},
		})

		for {
			msg, encoding := receive(conn)
			if msg.JupyterMessageType() != messaging.IODisplayDataMessage {
				Expect(encoding).To(Equal(messaging.TextEncoding))
				continue
			}

			Expect(encoding).To(Equal(messaging.BinaryEncoding))
			Expect(msg.Buffers).To(Equal([][]byte{[]byte("buffer-0"), []byte("buffer-1")}))
			return
		}
	})

	It("Will fail to dial without the right token", func() {
		_, err := transport.NewWebSocketTransport("wrong").Dial(ctx, restClient.ChannelsURL(kernel.ID, testSessionId))
		Expect(err).ToNot(BeNil())
	})

	It("Will fail to dial an unknown kernel", func() {
		_, err := transport.NewWebSocketTransport(testToken).Dial(ctx, restClient.ChannelsURL("unknown", testSessionId))
		Expect(err).ToNot(BeNil())
	})

	It("Will report a server-side shutdown as a clean close", func() {
		conn, err := transport.NewWebSocketTransport(testToken).Dial(ctx, restClient.ChannelsURL(kernel.ID, testSessionId))
		Expect(err).To(BeNil())
		defer conn.Close()

		fake, ok := server.Kernel(kernel.ID)
		Expect(ok).To(BeTrue())
		Eventually(fake.NumConnections).Should(Equal(1))

		Expect(restClient.DeleteKernel(ctx, kernel.ID)).To(Succeed())

		_, _, err = conn.Read(ctx)
		var closeErr *transport.CloseError
		Expect(errors.As(err, &closeErr)).To(BeTrue())
		Expect(closeErr.Clean()).To(BeTrue())
	})

	It("Will report a dropped connection as an abnormal closure", func() {
		conn, err := transport.NewWebSocketTransport(testToken).Dial(ctx, restClient.ChannelsURL(kernel.ID, testSessionId))
		Expect(err).To(BeNil())
		defer conn.Close()

		fake, ok := server.Kernel(kernel.ID)
		Expect(ok).To(BeTrue())
		Eventually(fake.NumConnections).Should(Equal(1))

		server.KillKernel(kernel.ID)

		_, _, err = conn.Read(ctx)
		closeErr := transport.AsCloseError(err)
		Expect(closeErr).ToNot(BeNil())
		Expect(closeErr.Code).To(Equal(transport.StatusAbnormalClosure))
		Expect(closeErr.Clean()).To(BeFalse())
	})

	It("Will send the session id in the URL", func() {
		url := restClient.ChannelsURL(kernel.ID, testSessionId)
		Expect(url).To(ContainSubstring(jupyter.SessionIdQueryParameter + "=" + testSessionId))
	})
})
