package feed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/pqrdesk/pqrclient/common"
)

// Controller starts live feed sessions which share one push transport and one
// pull fetcher
type Controller struct {
	common.Component
	transport StreamTransport
	fetcher   Fetcher
	ctxt      context.Context
	wg        *sync.WaitGroup
	lock      sync.Mutex
	observers []SnapshotObserver
	sessions  uint64
}

// NewController define a new Controller. "transport" may be nil when the runtime
// has no push support; every session then pulls.
func NewController(
	ctxt context.Context, transport StreamTransport, fetcher Fetcher, wg *sync.WaitGroup,
) (*Controller, error) {
	if ctxt == nil || wg == nil {
		return nil, fmt.Errorf("feed controller requires a context and wait group")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("feed controller requires a fetcher")
	}
	return &Controller{
		Component: common.Component{
			LogTags: log.Fields{"module": "feed", "component": "controller"},
		},
		transport: transport,
		fetcher:   fetcher,
		ctxt:      ctxt,
		wg:        wg,
	}, nil
}

// AddObserver register an observer of every snapshot accepted by sessions started
// afterwards
func (c *Controller) AddObserver(observer SnapshotObserver) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.observers = append(c.observers, observer)
}

// StreamSupported whether sessions can use push delivery
func (c *Controller) StreamSupported() bool {
	return c.transport != nil && c.transport.Supported()
}

// Start begin observing a resource. Push delivery is attempted first when the
// resource and the transport support it; pulling is used otherwise.
func (c *Controller) Start(feed Feed, handlers Handlers) (*Session, error) {
	if feed.Key.PollPath == "" {
		return nil, fmt.Errorf("feed %s has no pull path", feed.Key)
	}
	if feed.Decoder == nil {
		feed.Decoder = DecodeJSON
	}
	if err := feed.Policy.validate(); err != nil {
		return nil, fmt.Errorf("feed %s: %w", feed.Key, err)
	}
	if c.ctxt.Err() != nil {
		return nil, c.ctxt.Err()
	}

	c.lock.Lock()
	observers := c.observers
	c.lock.Unlock()

	fetcher := c.fetcher
	if feed.Fetcher != nil {
		fetcher = feed.Fetcher
	}

	instance := fmt.Sprintf("%s#%d", feed.Key.Name, atomic.AddUint64(&c.sessions, 1))
	session, err := newSession(
		c.ctxt, c.wg, instance, feed, handlers, c.transport, fetcher, observers,
	)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Unable to define session %s", instance)
		return nil, err
	}
	if err := session.begin(); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Unable to start session %s", instance)
		session.Cancel()
		return nil, err
	}
	log.WithFields(c.LogTags).Debugf("Started session %s in %s", instance, session.Status().Mode)
	return session, nil
}
