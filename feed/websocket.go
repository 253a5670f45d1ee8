package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
	"github.com/pqrdesk/pqrclient/common"
)

// WebSocketDialer opens the websocket of an event stream
type WebSocketDialer interface {
	DialWebSocket(ctxt context.Context, path string) (*websocket.Conn, error)
}

// WebSocketTransport is a StreamTransport reading one snapshot per text or binary
// websocket message
type WebSocketTransport struct {
	common.Component
	dialer WebSocketDialer
	// idleTimeout ends a connection which received nothing, pings included, for
	// this long. Zero disables it.
	idleTimeout time.Duration
	wg          *sync.WaitGroup
}

// NewWebSocketTransport define a new WebSocketTransport
func NewWebSocketTransport(
	dialer WebSocketDialer, idleTimeout time.Duration, wg *sync.WaitGroup,
) *WebSocketTransport {
	return &WebSocketTransport{
		Component: common.Component{
			LogTags: log.Fields{"module": "feed", "component": "websocket-transport"},
		},
		dialer:      dialer,
		idleTimeout: idleTimeout,
		wg:          wg,
	}
}

// Supported whether push delivery is available
func (t *WebSocketTransport) Supported() bool {
	return t.dialer != nil
}

type wsConn struct {
	lock   sync.Mutex
	cancel context.CancelFunc
	conn   *websocket.Conn
	closed bool
}

// attach record the dialed connection. Returns false if Close already happened.
func (c *wsConn) attach(conn *websocket.Conn) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	return true
}

// Close stop reading the stream
func (c *wsConn) Close() error {
	c.lock.Lock()
	c.closed = true
	conn := c.conn
	c.lock.Unlock()
	c.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *wsConn) isClosed() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.closed
}

// Open dial a websocket stream and read it in the background
func (t *WebSocketTransport) Open(
	ctxt context.Context,
	path string,
	onEvent func(data []byte),
	onError func(err error),
) (StreamConn, error) {
	if onEvent == nil || onError == nil {
		return nil, fmt.Errorf("stream callbacks are required")
	}
	if !t.Supported() {
		return nil, fmt.Errorf("no websocket dialer available")
	}
	connCtxt, cancel := context.WithCancel(ctxt)
	handle := &wsConn{cancel: cancel}
	localLogTags := t.CopyLogTags()
	localLogTags["path"] = path
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()
		conn, err := t.dialer.DialWebSocket(connCtxt, path)
		if err != nil {
			if !handle.isClosed() {
				onError(err)
			}
			return
		}
		if !handle.attach(conn) {
			conn.Close()
			return
		}
		defer conn.Close()
		log.WithFields(localLogTags).Debug("Websocket connected")

		// Close the socket when the parent context ends
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			<-connCtxt.Done()
			conn.Close()
		}()

		extendDeadline := func() {
			if t.idleTimeout > 0 {
				_ = conn.SetReadDeadline(time.Now().Add(t.idleTimeout))
			}
		}
		defaultPing := conn.PingHandler()
		conn.SetPingHandler(func(appData string) error {
			extendDeadline()
			return defaultPing(appData)
		})
		extendDeadline()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				if handle.isClosed() || connCtxt.Err() != nil {
					return
				}
				log.WithError(err).WithFields(localLogTags).Debug("Websocket ended")
				onError(err)
				return
			}
			extendDeadline()
			if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
				continue
			}
			if connCtxt.Err() == nil {
				onEvent(data)
			}
		}
	}()
	return handle, nil
}
