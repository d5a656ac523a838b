package transport

import (
	"context"
	"errors"
	"net/http"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/hashicorp/go-cleanhttp"
	"nhooyr.io/websocket"

	"github.com/scusemua/notebook-kernel-client/common/jupyter/messaging"
)

const (
	// DefaultReadLimit is the largest frame accepted from the server. Rich outputs (images, widget
	// state) routinely exceed the websocket library's 32KiB default.
	DefaultReadLimit int64 = 64 << 20
)

// WebSocketTransport dials the notebook server's kernel channels endpoint over a websocket.
type WebSocketTransport struct {
	// Token, if set, is sent as "Authorization: token <Token>".
	Token string

	// Header holds additional handshake headers.
	Header http.Header

	// ReadLimit bounds the size of a single inbound frame.
	ReadLimit int64

	httpClient *http.Client
	log        logger.Logger
}

// NewWebSocketTransport creates a WebSocketTransport that authenticates with the given token.
func NewWebSocketTransport(token string) *WebSocketTransport {
	t := &WebSocketTransport{
		Token:      token,
		Header:     make(http.Header),
		ReadLimit:  DefaultReadLimit,
		httpClient: cleanhttp.DefaultPooledClient(),
	}
	config.InitLogger(&t.log, t)

	return t
}

func (t *WebSocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	header := t.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}

	if t.Token != "" {
		header.Set("Authorization", "token "+t.Token)
	}

	t.log.Debug("Dialing %s", url)

	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: t.httpClient,
		HTTPHeader: header,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	if t.ReadLimit > 0 {
		conn.SetReadLimit(t.ReadLimit)
	}

	return &webSocketConn{conn: conn}, nil
}

type webSocketConn struct {
	conn *websocket.Conn
}

func (c *webSocketConn) Read(ctx context.Context) ([]byte, messaging.Encoding, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, messaging.TextEncoding, translateError(err)
	}

	if typ == websocket.MessageBinary {
		return data, messaging.BinaryEncoding, nil
	}

	return data, messaging.TextEncoding, nil
}

func (c *webSocketConn) Write(ctx context.Context, data []byte, encoding messaging.Encoding) error {
	typ := websocket.MessageText
	if encoding == messaging.BinaryEncoding {
		typ = websocket.MessageBinary
	}

	return c.conn.Write(ctx, typ, data)
}

func (c *webSocketConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// translateError maps the websocket library's close errors onto *CloseError.
func translateError(err error) error {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		return &CloseError{Code: int(closeErr.Code), Reason: closeErr.Reason, Err: err}
	}

	return AsCloseError(err)
}
