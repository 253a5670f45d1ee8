package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pqrdesk/pqrclient/common"
)

// Mode is the transport a feed session currently uses
type Mode int

const (
	// ModeStream push delivery over an event stream
	ModeStream Mode = iota
	// ModePoll pull delivery by periodic re-fetch
	ModePoll
)

// String toString function
func (m Mode) String() string {
	switch m {
	case ModeStream:
		return "STREAM"
	case ModePoll:
		return "POLL"
	default:
		return fmt.Sprintf("MODE(%d)", int(m))
	}
}

// ResourceKey identifies what a feed session observes
type ResourceKey struct {
	// Name names the resource, e.g. "dashboard" or "chat-messages/<group>"
	Name string
	// StreamPath is the push end-point. Empty means the resource is pull only.
	StreamPath string
	// PollPath is the pull end-point returning the same snapshot shape
	PollPath string
}

// String toString function
func (k ResourceKey) String() string {
	return k.Name
}

// Policy is the delivery policy of a feed
type Policy struct {
	// ReconnectStep the reconnect delay of attempt n is n * ReconnectStep
	ReconnectStep time.Duration
	// MaxRetryCount caps the retry counter
	MaxRetryCount int
	// FallbackThreshold is the retry count at which the session switches to POLL
	// for the rest of its life
	FallbackThreshold int
	// SettleDelay is how long after a push failure "loading settled" is signaled
	SettleDelay time.Duration
	// PollInterval is the pull interval
	PollInterval time.Duration
	// ChainedPoll schedules the next pull only after the previous one was processed,
	// instead of on a fixed rate timer
	ChainedPoll bool
	// IsTerminal classifies pull errors which end the session. Nil means no error
	// is terminal.
	IsTerminal func(err error) bool
}

// ReconnectDelay the delay before push reconnect attempt "attempt"
func (p Policy) ReconnectDelay(attempt int) time.Duration {
	return time.Duration(attempt) * p.ReconnectStep
}

// validate sanity check the policy
func (p Policy) validate() error {
	if p.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if p.ReconnectStep <= 0 {
		return fmt.Errorf("reconnect step must be positive")
	}
	if p.MaxRetryCount < 1 || p.FallbackThreshold < 1 || p.FallbackThreshold > p.MaxRetryCount {
		return fmt.Errorf(
			"invalid retry bounds: threshold %d max %d", p.FallbackThreshold, p.MaxRetryCount,
		)
	}
	if p.SettleDelay < 0 {
		return fmt.Errorf("settle delay can't be negative")
	}
	return nil
}

func defaultPolicy(pollInterval time.Duration) Policy {
	return Policy{
		ReconnectStep:     time.Millisecond * 1500,
		MaxRetryCount:     5,
		FallbackThreshold: 3,
		SettleDelay:       time.Millisecond * 1200,
		PollInterval:      pollInterval,
	}
}

// DashboardPolicy the dashboard stats feed policy
func DashboardPolicy() Policy {
	return defaultPolicy(time.Millisecond * 6000)
}

// ChatGroupsPolicy the chat group list feed policy
func ChatGroupsPolicy() Policy {
	return defaultPolicy(time.Millisecond * 5000)
}

// ChatMessagesPolicy the chat message feed policy. This feed is pull only.
func ChatMessagesPolicy() Policy {
	policy := defaultPolicy(time.Millisecond * 1500)
	policy.ChainedPoll = true
	return policy
}

// PolicyFromConfig define a policy from its config
func PolicyFromConfig(config common.FeedPolicyConfig) Policy {
	return Policy{
		ReconnectStep:     config.ReconnectStepDuration(),
		MaxRetryCount:     config.MaxRetryCount,
		FallbackThreshold: config.FallbackThreshold,
		SettleDelay:       config.SettleDelayDuration(),
		PollInterval:      config.PollIntervalDuration(),
		ChainedPoll:       config.ChainedPoll,
	}
}

// ==============================================================================

// Decoder parses one raw payload into a snapshot
type Decoder func(raw []byte) (interface{}, error)

// DecodeJSON decode the payload into generic JSON values
func DecodeJSON(raw []byte) (interface{}, error) {
	var snapshot interface{}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// DecodeInto define a Decoder which parses into a fresh value from "factory". The
// factory must return a pointer.
func DecodeInto(factory func() interface{}) Decoder {
	return func(raw []byte) (interface{}, error) {
		target := factory()
		if err := json.Unmarshal(raw, target); err != nil {
			return nil, err
		}
		return target, nil
	}
}

// Feed fully describes one observable resource
type Feed struct {
	Key     ResourceKey
	Policy  Policy
	Decoder Decoder
	// Fetcher pulls this resource instead of the controller's fetcher when set
	Fetcher Fetcher
}

// Handlers are the consumer callbacks of a session. They are invoked one at a time
// from the session's event loop; none is invoked once the session is cancelled.
type Handlers struct {
	// OnSnapshot receives every accepted snapshot. Receiving a snapshot also means
	// loading finished.
	OnSnapshot func(snapshot interface{})
	// OnLoading signals a push connection attempt starting (true) or a connection
	// attempt / pull concluding without data (false)
	OnLoading func(loading bool)
	// OnTerminalFailure is called once when the session ends on a terminal error
	OnTerminalFailure func(err error)
}

// SnapshotObserver receives every snapshot accepted by any session of a controller
type SnapshotObserver interface {
	ObserveSnapshot(key ResourceKey, raw []byte, snapshot interface{})
}

// ==============================================================================

// Fetcher performs one pull of a resource
type Fetcher interface {
	Fetch(ctxt context.Context, path string) ([]byte, error)
}

// StreamConn is one open push connection
type StreamConn interface {
	// Close the connection. No callback of the connection fires afterwards. Idempotent.
	Close() error
}

// StreamTransport opens push connections
type StreamTransport interface {
	// Supported whether push delivery is available at all
	Supported() bool
	// Open start a push connection. It returns without waiting for the connection;
	// "onEvent" is called for each message, and "onError" once when the connection
	// fails or the server ends it.
	Open(
		ctxt context.Context,
		path string,
		onEvent func(data []byte),
		onError func(err error),
	) (StreamConn, error)
}
