package configuration

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-client/common/jupyter"
)

var (
	ErrInvalidOptions = errors.New("invalid client options")
)

// ClientOptions configures a kernel client Session.
type ClientOptions struct {
	ServerURL string `name:"server-url" json:"server-url" yaml:"server-url" description:"The http(s) URL of the notebook server, e.g., http://localhost:8888."`
	Token     string `name:"token"      json:"token"      yaml:"token"      description:"The notebook server's API token. Sent as 'Authorization: token <token>'."`
	Username  string `name:"username"   json:"username"   yaml:"username"   description:"The username stamped on the header of every outgoing message."`

	ReconnectLimit              int     `name:"reconnect-limit"           json:"reconnect-limit"           yaml:"reconnect-limit"           description:"The number of reconnect attempts to schedule before declaring the connection dead."`
	BackoffBase                 float64 `name:"backoff-base"              json:"backoff-base"              yaml:"backoff-base"              description:"The base of the exponential reconnect delay, i.e., delay = base^attempt units."`
	BackoffUnitMillis           int     `name:"backoff-unit-ms"           json:"backoff-unit-ms"           yaml:"backoff-unit-ms"           description:"The unit, in milliseconds, of the exponential reconnect delay."`
	EarlyCloseGraceWindowMillis int     `name:"early-close-grace-ms"      json:"early-close-grace-ms"      yaml:"early-close-grace-ms"      description:"An unclean close within this many milliseconds of opening the connection triggers a liveness check of the kernel."`
	RequestTimeoutMillis        int     `name:"request-timeout-ms"        json:"request-timeout-ms"        yaml:"request-timeout-ms"        description:"Timeout, in milliseconds, of REST control requests (start, interrupt, restart, kill, liveness checks)."`
	PrometheusPort              int     `name:"prometheus-port"           json:"prometheus-port"           yaml:"prometheus-port"           description:"The port on which client metrics are served. Metrics are not served if this is <= 0."`
}

// DefaultClientOptions returns options with every field set to its default.
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		ServerURL:                   "http://localhost:8888",
		Username:                    jupyter.DefaultUsername,
		ReconnectLimit:              jupyter.DefaultReconnectLimit,
		BackoffBase:                 jupyter.DefaultBackoffBase,
		BackoffUnitMillis:           int(jupyter.DefaultBackoffUnit / time.Millisecond),
		EarlyCloseGraceWindowMillis: int(jupyter.DefaultEarlyCloseGraceWindow / time.Millisecond),
		RequestTimeoutMillis:        int(jupyter.DefaultRequestTimeout / time.Millisecond),
	}
}

// Validate fills in defaults for unset fields and rejects options that cannot work.
func (opts *ClientOptions) Validate() error {
	defaults := DefaultClientOptions()

	if opts.ServerURL == "" {
		opts.ServerURL = defaults.ServerURL
	}

	parsed, err := url.Parse(opts.ServerURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return errors.Wrapf(ErrInvalidOptions, "server URL \"%s\" must be an absolute http(s) URL", opts.ServerURL)
	}

	if opts.Username == "" {
		opts.Username = defaults.Username
	}

	if opts.ReconnectLimit < 0 {
		return errors.Wrapf(ErrInvalidOptions, "reconnect limit must be non-negative, got %d", opts.ReconnectLimit)
	}

	if opts.BackoffBase == 0 {
		opts.BackoffBase = defaults.BackoffBase
	} else if opts.BackoffBase < 1 {
		return errors.Wrapf(ErrInvalidOptions, "backoff base must be at least 1, got %f", opts.BackoffBase)
	}

	if opts.BackoffUnitMillis <= 0 {
		opts.BackoffUnitMillis = defaults.BackoffUnitMillis
	}

	if opts.EarlyCloseGraceWindowMillis <= 0 {
		opts.EarlyCloseGraceWindowMillis = defaults.EarlyCloseGraceWindowMillis
	}

	if opts.RequestTimeoutMillis <= 0 {
		opts.RequestTimeoutMillis = defaults.RequestTimeoutMillis
	}

	return nil
}

func (opts *ClientOptions) BackoffUnit() time.Duration {
	return time.Duration(opts.BackoffUnitMillis) * time.Millisecond
}

func (opts *ClientOptions) EarlyCloseGraceWindow() time.Duration {
	return time.Duration(opts.EarlyCloseGraceWindowMillis) * time.Millisecond
}

func (opts *ClientOptions) RequestTimeout() time.Duration {
	return time.Duration(opts.RequestTimeoutMillis) * time.Millisecond
}

// PrettyString is the same as String, except that the JSON is indented.
func (opts *ClientOptions) PrettyString(indentSize int) string {
	indentBuilder := strings.Builder{}
	for i := 0; i < indentSize; i++ {
		indentBuilder.WriteString(" ")
	}

	m, err := json.MarshalIndentWithOption(opts.redacted(), "", indentBuilder.String(), json.DisableHTMLEscape())
	if err != nil {
		panic(err)
	}

	return string(m)
}

func (opts *ClientOptions) Clone() *ClientOptions {
	clone := *opts
	return &clone
}

func (opts *ClientOptions) String() string {
	m, err := json.MarshalNoEscape(opts.redacted())
	if err != nil {
		panic(err)
	}

	return string(m)
}

// redacted returns a copy that is safe to print.
func (opts *ClientOptions) redacted() *ClientOptions {
	clone := opts.Clone()
	if clone.Token != "" {
		clone.Token = fmt.Sprintf("<redacted, %d characters>", len(clone.Token))
	}

	return clone
}
