package manager

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/scusemua/kernel-connection/common/jupyter/kernel"
	"github.com/scusemua/kernel-connection/common/metrics"
)

const (
	DefaultPollInterval    = 10 * time.Second
	DefaultMaxPollInterval = 300 * time.Second
	DefaultRefreshInterval = time.Second
	DefaultRefreshBurst    = 1
)

var ErrInvalidOptions = errors.New("invalid kernel manager options")

// Options configure a Manager.
type Options struct {
	config.LoggerOptions `yaml:",inline" json:"logger_options"`

	BaseURL  string `name:"base-url" description:"Base HTTP URL of the server hosting the kernels." yaml:"base_url" json:"base_url"`
	WsURL    string `name:"ws-url" description:"Base websocket URL. Derived from the base URL when empty." yaml:"ws_url" json:"ws_url"`
	Token    string `name:"token" description:"Token appended to the websocket URLs." yaml:"token" json:"-"`
	Username string `name:"username" description:"Username stamped on the messages of new connections." yaml:"username" json:"username"`

	PollInterval    time.Duration `name:"poll-interval" description:"Interval between polls of the running kernels." yaml:"poll_interval" json:"poll_interval"`
	MaxPollInterval time.Duration `name:"max-poll-interval" description:"Largest interval between polls after repeated failures." yaml:"max_poll_interval" json:"max_poll_interval"`
	RefreshInterval time.Duration `name:"refresh-interval" description:"Minimum interval between forced refreshes." yaml:"refresh_interval" json:"refresh_interval"`
	RefreshBurst    int           `name:"refresh-burst" description:"Number of forced refreshes allowed back to back." yaml:"refresh_burst" json:"refresh_burst"`

	// Standby pauses polling while it returns true.
	Standby func() bool `yaml:"-" json:"-"`

	// ConnectionDefaults is the template for connections created by the manager.
	// KernelID, KernelName and the URLs are filled in per kernel.
	ConnectionDefaults *kernel.ConnectionOptions `yaml:"-" json:"-"`

	// Metrics is optional. It is shared with the connections the manager creates.
	Metrics *metrics.KernelMetrics `yaml:"-" json:"-"`
}

func (o *Options) Validate() error {
	if o.BaseURL == "" && o.WsURL == "" {
		return errors.Wrap(ErrInvalidOptions, "a base URL or a websocket URL is required")
	}

	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}

	if o.MaxPollInterval <= 0 {
		o.MaxPollInterval = DefaultMaxPollInterval
	}

	if o.MaxPollInterval < o.PollInterval {
		o.MaxPollInterval = o.PollInterval
	}

	if o.RefreshInterval < 0 {
		return errors.Wrapf(ErrInvalidOptions, "negative refresh interval %v", o.RefreshInterval)
	} else if o.RefreshInterval == 0 {
		o.RefreshInterval = DefaultRefreshInterval
	}

	if o.RefreshBurst <= 0 {
		o.RefreshBurst = DefaultRefreshBurst
	}

	return nil
}

func (o *Options) refreshLimit() rate.Limit {
	return rate.Every(o.RefreshInterval)
}

// connectionOptions returns the options of a new connection to model.
func (o *Options) connectionOptions(model KernelModel) *kernel.ConnectionOptions {
	var opts *kernel.ConnectionOptions
	if o.ConnectionDefaults != nil {
		opts = o.ConnectionDefaults.Clone()
	} else {
		opts = kernel.DefaultConnectionOptions(o.BaseURL, model.ID)
	}

	opts.KernelID = model.ID
	opts.KernelName = model.Name
	if opts.BaseURL == "" {
		opts.BaseURL = o.BaseURL
	}
	if opts.WsURL == "" {
		opts.WsURL = o.WsURL
	}
	if opts.Token == "" {
		opts.Token = o.Token
	}
	if opts.Username == "" {
		opts.Username = o.Username
	}
	if opts.Metrics == nil {
		opts.Metrics = o.Metrics
	}
	if !opts.Debug && !opts.Verbose {
		opts.LoggerOptions = o.LoggerOptions
	}

	return opts
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
func (o *Options) PrettyString(indentSize int) string {
	m, err := json.MarshalIndent(o, "", strings.Repeat(" ", indentSize))
	if err != nil {
		panic(err)
	}

	return string(m)
}

func (o *Options) String() string {
	m, err := json.Marshal(o)
	if err != nil {
		return fmt.Sprintf("Options[base_url=%s]", o.BaseURL)
	}

	return string(m)
}
