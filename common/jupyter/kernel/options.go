package kernel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/google/uuid"

	"github.com/scusemua/kernel-connection/common/metrics"
	"github.com/scusemua/kernel-connection/common/utils"
)

const (
	DefaultReconnectLimit = 7
	DefaultReconnectMin   = time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultDialTimeout    = 30 * time.Second
	DefaultMaxMessageSize = 64 << 20

	// KernelChannelsPath is the path segment of the kernel websocket, relative to the base URL.
	KernelChannelsPath = "api/kernels"
)

// CommsOverSubshells selects whether, and how, comm traffic is isolated in kernel subshells.
type CommsOverSubshells string

const (
	CommsOverSubshellsDisabled      CommsOverSubshells = "disabled"
	CommsOverSubshellsPerComm       CommsOverSubshells = "perComm"
	CommsOverSubshellsPerCommTarget CommsOverSubshells = "perCommTarget"
)

// ConnectionOptions configure a kernel Connection.
type ConnectionOptions struct {
	config.LoggerOptions `yaml:",inline" json:"logger_options"`

	KernelID   string `name:"kernel-id" description:"ID of the kernel to connect to." yaml:"kernel_id" json:"kernel_id"`
	KernelName string `name:"kernel-name" description:"Name (kernelspec) of the kernel." yaml:"kernel_name" json:"kernel_name"`
	BaseURL    string `name:"base-url" description:"Base HTTP URL of the server hosting the kernel." yaml:"base_url" json:"base_url"`
	WsURL      string `name:"ws-url" description:"Base websocket URL. Derived from the base URL when empty." yaml:"ws_url" json:"ws_url"`
	Token      string `name:"token" description:"Token appended to the websocket URL." yaml:"token" json:"-"`
	ClientID   string `name:"client-id" description:"Session id of this client. Generated when empty." yaml:"client_id" json:"client_id"`
	Username   string `name:"username" description:"Username stamped on outgoing messages." yaml:"username" json:"username"`

	HandleComms        bool               `name:"handle-comms" description:"Whether this connection handles comm messages." yaml:"handle_comms" json:"handle_comms"`
	CommsOverSubshells CommsOverSubshells `name:"comms-over-subshells" description:"One of disabled, perComm, perCommTarget." yaml:"comms_over_subshells" json:"comms_over_subshells"`

	ReconnectLimit int           `name:"reconnect-limit" description:"Number of automatic reconnection attempts before giving up." yaml:"reconnect_limit" json:"reconnect_limit"`
	ReconnectMin   time.Duration `name:"reconnect-min" description:"Delay before the first reconnection attempt. Doubles on each attempt." yaml:"reconnect_min" json:"reconnect_min"`
	WriteTimeout   time.Duration `name:"write-timeout" description:"Timeout for a single websocket write." yaml:"write_timeout" json:"write_timeout"`
	DialTimeout    time.Duration `name:"dial-timeout" description:"Timeout for opening the websocket." yaml:"dial_timeout" json:"dial_timeout"`
	MaxMessageSize int64         `name:"max-message-size" description:"Largest inbound frame accepted, in bytes." yaml:"max_message_size" json:"max_message_size"`

	// Dialer opens the websocket. Defaults to NewWebsocketDialer.
	Dialer Dialer `yaml:"-" json:"-"`

	// CommTargetResolver is consulted for comm_open targets that were not registered with RegisterCommTarget.
	CommTargetResolver CommTargetResolver `yaml:"-" json:"-"`

	// Metrics is optional.
	Metrics *metrics.KernelMetrics `yaml:"-" json:"-"`
}

// DefaultConnectionOptions returns options for kernelID with every default applied.
func DefaultConnectionOptions(baseURL string, kernelID string) *ConnectionOptions {
	return &ConnectionOptions{
		KernelID:           kernelID,
		BaseURL:            baseURL,
		HandleComms:        true,
		CommsOverSubshells: CommsOverSubshellsDisabled,
	}
}

func (o *ConnectionOptions) Validate() error {
	if o.KernelID == "" {
		return fmt.Errorf("%w: kernel id is required", ErrInvalidOptions)
	}

	if o.BaseURL == "" && o.WsURL == "" {
		return fmt.Errorf("%w: a base URL or a websocket URL is required", ErrInvalidOptions)
	}

	switch o.CommsOverSubshells {
	case "":
		o.CommsOverSubshells = CommsOverSubshellsDisabled
	case CommsOverSubshellsDisabled, CommsOverSubshellsPerComm, CommsOverSubshellsPerCommTarget:
	default:
		return fmt.Errorf("%w: unknown comms-over-subshells policy \"%s\"", ErrInvalidOptions, o.CommsOverSubshells)
	}

	if o.ClientID == "" {
		o.ClientID = uuid.NewString()
	}

	if o.Username == "" {
		o.Username = utils.GetEnv("USER", "")
	}

	if o.ReconnectLimit < 0 {
		o.ReconnectLimit = 0
	} else if o.ReconnectLimit == 0 {
		o.ReconnectLimit = DefaultReconnectLimit
	}

	if o.ReconnectMin <= 0 {
		o.ReconnectMin = DefaultReconnectMin
	}

	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}

	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}

	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}

	if o.Dialer == nil {
		o.Dialer = NewWebsocketDialer(o.MaxMessageSize)
	}

	return nil
}

// Clone returns a shallow copy of the options.
func (o *ConnectionOptions) Clone() *ConnectionOptions {
	clone := *o
	return &clone
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
func (o *ConnectionOptions) PrettyString(indentSize int) string {
	m, err := json.MarshalIndent(o, "", strings.Repeat(" ", indentSize))
	if err != nil {
		panic(err)
	}

	return string(m)
}

func (o *ConnectionOptions) String() string {
	m, err := json.Marshal(o)
	if err != nil {
		panic(err)
	}

	return string(m)
}
