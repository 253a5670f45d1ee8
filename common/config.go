package common

import (
	"time"

	"github.com/spf13/viper"
)

// ===============================================================================
// Backend Related Config

// BackendConfig defines how to reach the PQR backend
type BackendConfig struct {
	// BaseURL is the backend base URL, without the API prefix
	BaseURL string `mapstructure:"base_url" json:"base_url" validate:"required,url"`
	// APIPrefix is the path prefix of all REST and stream end-points
	APIPrefix string `mapstructure:"api_prefix" json:"api_prefix" validate:"required,startswith=/"`
	// RequestTimeout is the max duration of a single REST call in seconds. Zero means
	// no timeout.
	RequestTimeout int `mapstructure:"request_timeout_sec" json:"request_timeout_sec" validate:"gte=0"`
	// UseH2C whether to talk HTTP/2 over cleartext to the backend
	UseH2C bool `mapstructure:"use_h2c" json:"use_h2c"`
	// StreamTransport is how push end-points are read: "sse" or "websocket". Empty
	// means "sse".
	StreamTransport string `mapstructure:"stream_transport" json:"stream_transport" validate:"omitempty,oneof=sse websocket"`
	// StreamIdleTimeout ends a websocket stream silent for this many seconds. Zero
	// means no limit.
	StreamIdleTimeout int `mapstructure:"stream_idle_timeout_sec" json:"stream_idle_timeout_sec" validate:"gte=0"`
}

// Stream transports
const (
	StreamTransportSSE       = "sse"
	StreamTransportWebSocket = "websocket"
)

// ===============================================================================
// Auth Related Config

// AuthConfig defines where the session token is kept
type AuthConfig struct {
	// TokenFile is the file holding the opaque bearer token between CLI calls
	TokenFile string `mapstructure:"token_file" json:"token_file" validate:"required"`
}

// ===============================================================================
// Live Feed Related Config

// FeedPolicyConfig defines the delivery policy of one live feed
type FeedPolicyConfig struct {
	// StreamPath is the push end-point path. Empty means the feed is pull only.
	StreamPath string `mapstructure:"stream_path" json:"stream_path" validate:"omitempty,startswith=/"`
	// PollPath is the pull end-point path
	PollPath string `mapstructure:"poll_path" json:"poll_path" validate:"required,startswith=/"`
	// PollInterval is the pull interval in milliseconds
	PollInterval int `mapstructure:"poll_interval_ms" json:"poll_interval_ms" validate:"gte=1"`
	// ChainedPoll whether the next pull is only scheduled after the previous one completes
	ChainedPoll bool `mapstructure:"chained_poll" json:"chained_poll"`
	// ReconnectStep is the per-attempt push reconnect delay increment in milliseconds
	ReconnectStep int `mapstructure:"reconnect_step_ms" json:"reconnect_step_ms" validate:"gte=1"`
	// MaxRetryCount caps the push retry counter
	MaxRetryCount int `mapstructure:"max_retry_count" json:"max_retry_count" validate:"gte=1"`
	// FallbackThreshold is the retry count at which the feed switches to pulling
	FallbackThreshold int `mapstructure:"fallback_threshold" json:"fallback_threshold" validate:"gte=1,ltefield=MaxRetryCount"`
	// SettleDelay is the delay in milliseconds before "loading settled" is signaled
	// after a push failure
	SettleDelay int `mapstructure:"settle_delay_ms" json:"settle_delay_ms" validate:"gte=0"`
}

// PollIntervalDuration the pull interval as a time.Duration
func (c FeedPolicyConfig) PollIntervalDuration() time.Duration {
	return time.Millisecond * time.Duration(c.PollInterval)
}

// ReconnectStepDuration the reconnect step as a time.Duration
func (c FeedPolicyConfig) ReconnectStepDuration() time.Duration {
	return time.Millisecond * time.Duration(c.ReconnectStep)
}

// SettleDelayDuration the settle delay as a time.Duration
func (c FeedPolicyConfig) SettleDelayDuration() time.Duration {
	return time.Millisecond * time.Duration(c.SettleDelay)
}

// FeedConfig defines the live feeds used by the client
type FeedConfig struct {
	// Dashboard is the aggregate dashboard feed
	Dashboard FeedPolicyConfig `mapstructure:"dashboard" json:"dashboard" validate:"required,dive"`
	// ChatGroups is the chat group list feed
	ChatGroups FeedPolicyConfig `mapstructure:"chat_groups" json:"chat_groups" validate:"required,dive"`
	// ChatMessages is the per chat message feed. PollPath is the base path; the chat
	// group ID is appended as the "groupId" query parameter.
	ChatMessages FeedPolicyConfig `mapstructure:"chat_messages" json:"chat_messages" validate:"required,dive"`
	// Assignments is the solver assignment board feed
	Assignments FeedPolicyConfig `mapstructure:"assignments" json:"assignments" validate:"required,dive"`
}

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to NATS server
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
}

// RelayConfig defines the optional republishing of live feed snapshots onto NATS
type RelayConfig struct {
	// Enabled whether snapshots are republished
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// SubjectPrefix is prepended to the feed name to form the NATS subject
	SubjectPrefix string `mapstructure:"subject_prefix" json:"subject_prefix" validate:"required"`
	// NATS is the NATS connection config
	NATS NATSConfig `mapstructure:"nats" json:"nats" validate:"required,dive"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. Streams are long lived, so zero is
	// usually wanted here.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
}

// DevServerConfig defines the development backend
type DevServerConfig struct {
	// HTTPSetting is the HTTP API / server parameters
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// StreamPeriod is how often, in milliseconds, the streams re-send the full snapshot
	StreamPeriod int `mapstructure:"stream_period_ms" json:"stream_period_ms" validate:"gte=100"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete client config
type SystemConfig struct {
	// Backend is the PQR backend connection config
	Backend BackendConfig `mapstructure:"backend" json:"backend" validate:"required,dive"`
	// Auth is the session token config
	Auth AuthConfig `mapstructure:"auth" json:"auth" validate:"required,dive"`
	// Feeds are the live feed policies
	Feeds FeedConfig `mapstructure:"feeds" json:"feeds" validate:"required,dive"`
	// Relay is the optional NATS snapshot relay
	Relay *RelayConfig `mapstructure:"relay,omitempty" json:"relay,omitempty" validate:"omitempty,dive"`
	// DevServer is the development backend config
	DevServer *DevServerConfig `mapstructure:"devserver,omitempty" json:"devserver,omitempty" validate:"omitempty,dive"`
}

// ===============================================================================

// installFeedDefaults installs the default values for one feed
func installFeedDefaults(
	feed, streamPath, pollPath string, pollInterval int, chained bool,
) {
	viper.SetDefault(feed+".stream_path", streamPath)
	viper.SetDefault(feed+".poll_path", pollPath)
	viper.SetDefault(feed+".poll_interval_ms", pollInterval)
	viper.SetDefault(feed+".chained_poll", chained)
	viper.SetDefault(feed+".reconnect_step_ms", 1500)
	viper.SetDefault(feed+".max_retry_count", 5)
	viper.SetDefault(feed+".fallback_threshold", 3)
	viper.SetDefault(feed+".settle_delay_ms", 1200)
}

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default backend settings
	viper.SetDefault("backend.base_url", "http://127.0.0.1:3000")
	viper.SetDefault("backend.api_prefix", "/api")
	viper.SetDefault("backend.request_timeout_sec", 30)
	viper.SetDefault("backend.use_h2c", false)
	viper.SetDefault("backend.stream_transport", StreamTransportSSE)
	viper.SetDefault("backend.stream_idle_timeout_sec", 60)

	// Default auth settings
	viper.SetDefault("auth.token_file", ".pqr-token")

	// Default feed settings
	installFeedDefaults(
		"feeds.dashboard", "/dashboard/stream", "/chat/groups-with-details", 6000, false,
	)
	installFeedDefaults(
		"feeds.chat_groups", "/chat/groups/stream", "/chat/groups-with-details", 5000, false,
	)
	installFeedDefaults("feeds.chat_messages", "", "/chat/messages", 1500, true)
	installFeedDefaults(
		"feeds.assignments", "/assignments/stream", "/chat/groups-with-details", 5000, false,
	)

	// Default relay settings
	viper.SetDefault("relay.enabled", false)
	viper.SetDefault("relay.subject_prefix", "pqr.feed")
	viper.SetDefault("relay.nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("relay.nats.connect_timeout_sec", 30)
	viper.SetDefault("relay.nats.reconnect.max_attempts", -1)
	viper.SetDefault("relay.nats.reconnect.wait_interval_sec", 15)

	// Default development server settings
	viper.SetDefault("devserver.stream_period_ms", 3000)
	viper.SetDefault("devserver.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("devserver.api_server.server_config.listen_port", 3000)
	viper.SetDefault("devserver.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("devserver.api_server.server_config.write_timeout_sec", 0)
	viper.SetDefault("devserver.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"devserver.api_server.logging_config.request_id_header", "Pqr-Request-ID",
	)
	viper.SetDefault(
		"devserver.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
}
