package feed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/pqrdesk/pqrclient/common"
)

// maxEventSize is the largest single stream line accepted
const maxEventSize = 4 * 1024 * 1024

// StreamOpener opens the HTTP response of an event stream
type StreamOpener interface {
	OpenStream(ctxt context.Context, path string) (*http.Response, error)
}

// SSETransport is a StreamTransport reading server-sent events. Bare newline
// delimited JSON lines are accepted as one message each.
type SSETransport struct {
	common.Component
	opener StreamOpener
	wg     *sync.WaitGroup
}

// NewSSETransport define a new SSETransport
func NewSSETransport(opener StreamOpener, wg *sync.WaitGroup) *SSETransport {
	return &SSETransport{
		Component: common.Component{
			LogTags: log.Fields{"module": "feed", "component": "sse-transport"},
		},
		opener: opener,
		wg:     wg,
	}
}

// Supported whether push delivery is available
func (t *SSETransport) Supported() bool {
	return t.opener != nil
}

type sseConn struct {
	cancel context.CancelFunc
}

// Close stop reading the stream
func (c *sseConn) Close() error {
	c.cancel()
	return nil
}

// Open start reading an event stream in the background
func (t *SSETransport) Open(
	ctxt context.Context,
	path string,
	onEvent func(data []byte),
	onError func(err error),
) (StreamConn, error) {
	if onEvent == nil || onError == nil {
		return nil, fmt.Errorf("stream callbacks are required")
	}
	if !t.Supported() {
		return nil, fmt.Errorf("no stream opener available")
	}
	connCtxt, cancel := context.WithCancel(ctxt)
	localLogTags := t.CopyLogTags()
	localLogTags["path"] = path
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()
		resp, err := t.opener.OpenStream(connCtxt, path)
		if err != nil {
			if connCtxt.Err() == nil {
				onError(err)
			}
			return
		}
		defer resp.Body.Close()
		log.WithFields(localLogTags).Debug("Stream connected")
		err = ReadEvents(resp.Body, func(data []byte) {
			if connCtxt.Err() == nil {
				onEvent(data)
			}
		})
		if connCtxt.Err() != nil {
			return
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		log.WithError(err).WithFields(localLogTags).Debug("Stream ended")
		onError(err)
	}()
	return &sseConn{cancel: cancel}, nil
}

// ReadEvents parse an event stream, calling "dispatch" for each complete message.
//
// "data:" lines accumulate and are joined with newlines; a blank line dispatches
// them. Comment lines and the "event", "id" and "retry" fields are skipped. Any
// other line is dispatched as one message on its own. Returns nil when the reader
// ends cleanly.
func ReadEvents(reader io.Reader, dispatch func(data []byte)) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	var pending []string
	hasData := false
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			if hasData {
				dispatch([]byte(strings.Join(pending, "\n")))
			}
			pending = pending[:0]
			hasData = false
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value := line, ""
		if idx := strings.Index(line, ":"); idx >= 0 {
			field = line[:idx]
			value = strings.TrimPrefix(line[idx+1:], " ")
		}
		switch field {
		case "data":
			pending = append(pending, value)
			hasData = true
		case "event", "id", "retry":
		default:
			dispatch([]byte(line))
		}
	}
	return scanner.Err()
}
