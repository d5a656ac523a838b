package jupyter

import (
	"time"
)

const (
	// ProtocolVersion is the version of the Jupyter messaging protocol stamped on outgoing headers.
	ProtocolVersion = "5.0"

	// DefaultUsername is used when the caller does not supply one.
	DefaultUsername = "username"

	// SessionIdQueryParameter is the query parameter carrying the session id on the channels URL.
	SessionIdQueryParameter = "session_id"
)

var (
	// DefaultReconnectLimit is the number of reconnect attempts that are scheduled before the connection is declared dead.
	DefaultReconnectLimit = 7

	// DefaultBackoffBase is the base of the exponential reconnect delay, i.e., delay = base^attempt seconds.
	DefaultBackoffBase = 2.0

	// DefaultBackoffUnit is the unit that the exponential reconnect delay is expressed in.
	DefaultBackoffUnit = time.Second

	// DefaultEarlyCloseGraceWindow is how long after opening a transport a close is still considered "early".
	DefaultEarlyCloseGraceWindow = time.Second

	// DefaultRequestTimeout bounds REST control requests.
	DefaultRequestTimeout = 30 * time.Second
)
