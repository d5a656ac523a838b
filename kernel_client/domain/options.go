package domain

import (
	"strings"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-client/common/configuration"
)

const (
	// DefaultReadyTimeoutMillis is how long the client waits for the kernel's first info reply by default.
	DefaultReadyTimeoutMillis = 30_000
)

// KernelClientOptions are the command-line options of the kernel client.
type KernelClientOptions struct {
	config.LoggerOptions        `yaml:",inline" json:"logger_options"`
	configuration.ClientOptions `yaml:",inline" json:"client_options"`

	KernelId   string `name:"kernel-id"   json:"kernel-id"   yaml:"kernel-id"   description:"The id of a running kernel to attach to. A new kernel is started if this is empty."`
	KernelName string `name:"kernel-name" json:"kernel-name" yaml:"kernel-name" description:"The kernel spec to start when no kernel id is given. The server's default is used if this is empty."`
	Code       string `name:"code"        json:"code"        yaml:"code"        description:"Code to execute. If empty, cells are read from stdin, one per line."`

	ReadyTimeoutMillis     int `name:"ready-timeout-ms"     json:"ready-timeout-ms"     yaml:"ready-timeout-ms"     description:"How long to wait, in milliseconds, for the kernel to become ready."`
	ExecutionTimeoutMillis int `name:"execution-timeout-ms" json:"execution-timeout-ms" yaml:"execution-timeout-ms" description:"How long a single execution may take, in milliseconds, before the kernel is interrupted. Unbounded if <= 0."`

	KillOnExit         bool `name:"kill-on-exit" json:"kill-on-exit" yaml:"kill-on-exit" description:"Shut the kernel down when the client exits."`
	NoColor            bool `name:"no-color"     json:"no-color"     yaml:"no-color"     description:"Disable colored output."`
	PrettyPrintOptions bool `name:"pretty_print_options" json:"pretty_print_options" yaml:"pretty_print_options" description:"If true, then the options will be pretty-printed at startup."`
}

// Validate validates the client options and fills in defaults.
func (o *KernelClientOptions) Validate() error {
	if err := o.ClientOptions.Validate(); err != nil {
		return err
	}

	if o.KernelId != "" && o.KernelName != "" {
		return errors.Wrapf(configuration.ErrInvalidOptions, "\"kernel-id\" (%s) and \"kernel-name\" (%s) are mutually exclusive", o.KernelId, o.KernelName)
	}

	if o.ReadyTimeoutMillis <= 0 {
		o.ReadyTimeoutMillis = DefaultReadyTimeoutMillis
	}

	if o.NoColor {
		config.LogColor = false
	}

	return nil
}

func (o *KernelClientOptions) ReadyTimeout() time.Duration {
	return time.Duration(o.ReadyTimeoutMillis) * time.Millisecond
}

func (o *KernelClientOptions) ExecutionTimeout() time.Duration {
	return time.Duration(o.ExecutionTimeoutMillis) * time.Millisecond
}

// PrettyString is the same as String, except that the JSON is indented.
func (o *KernelClientOptions) PrettyString(indentSize int) string {
	indentBuilder := strings.Builder{}
	for i := 0; i < indentSize; i++ {
		indentBuilder.WriteString(" ")
	}

	m, err := json.MarshalIndentWithOption(o.redacted(), "", indentBuilder.String(), json.DisableHTMLEscape())
	if err != nil {
		panic(err)
	}

	return string(m)
}

func (o *KernelClientOptions) String() string {
	m, err := json.MarshalNoEscape(o.redacted())
	if err != nil {
		panic(err)
	}

	return string(m)
}

func (o *KernelClientOptions) redacted() *KernelClientOptions {
	clone := *o
	clone.Token = ""
	if o.Token != "" {
		clone.Token = "<redacted>"
	}

	return &clone
}
