package feed

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// fakeConn is one push connection of fakeStream
type fakeConn struct {
	path    string
	onEvent func(data []byte)
	onError func(err error)
	lock    sync.Mutex
	closed  bool
}

func (c *fakeConn) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.closed
}

func (c *fakeConn) emit(data string) {
	c.onEvent([]byte(data))
}

func (c *fakeConn) fail() {
	c.onError(fmt.Errorf("connection dropped"))
}

// fakeStream is a StreamTransport driven by the test
type fakeStream struct {
	supported bool
	openErr   error
	lock      sync.Mutex
	conns     []*fakeConn
	openedAt  []time.Time
}

func (t *fakeStream) Supported() bool {
	return t.supported
}

func (t *fakeStream) Open(
	_ context.Context, path string, onEvent func(data []byte), onError func(err error),
) (StreamConn, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.openedAt = append(t.openedAt, time.Now())
	if t.openErr != nil {
		return nil, t.openErr
	}
	conn := &fakeConn{path: path, onEvent: onEvent, onError: onError}
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeStream) opens() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.openedAt)
}

func (t *fakeStream) conn(idx int) *fakeConn {
	t.lock.Lock()
	defer t.lock.Unlock()
	if idx >= len(t.conns) {
		return nil
	}
	return t.conns[idx]
}

func (t *fakeStream) openTime(idx int) time.Time {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.openedAt[idx]
}

// fakeFetcher is a Fetcher counting calls and concurrent calls
type fakeFetcher struct {
	delay   time.Duration
	respond func(call int) ([]byte, error)

	lock        sync.Mutex
	calls       int
	inflight    int
	maxInflight int
}

func (f *fakeFetcher) Fetch(ctxt context.Context, _ string) ([]byte, error) {
	f.lock.Lock()
	f.calls++
	call := f.calls
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.lock.Unlock()
	defer func() {
		f.lock.Lock()
		f.inflight--
		f.lock.Unlock()
	}()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctxt.Done():
			return nil, ctxt.Err()
		}
	}
	if f.respond == nil {
		return []byte(fmt.Sprintf(`{"call":%d}`, call)), nil
	}
	return f.respond(call)
}

func (f *fakeFetcher) callCount() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls
}

func (f *fakeFetcher) maxConcurrent() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.maxInflight
}

// recorder collects handler invocations
type recorder struct {
	lock      sync.Mutex
	snapshots []interface{}
	loading   []bool
	failures  []error
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnSnapshot: func(snapshot interface{}) {
			r.lock.Lock()
			defer r.lock.Unlock()
			r.snapshots = append(r.snapshots, snapshot)
		},
		OnLoading: func(loading bool) {
			r.lock.Lock()
			defer r.lock.Unlock()
			r.loading = append(r.loading, loading)
		},
		OnTerminalFailure: func(err error) {
			r.lock.Lock()
			defer r.lock.Unlock()
			r.failures = append(r.failures, err)
		},
	}
}

func (r *recorder) snapshotCount() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.snapshots)
}

func (r *recorder) lastSnapshot() interface{} {
	r.lock.Lock()
	defer r.lock.Unlock()
	if len(r.snapshots) == 0 {
		return nil
	}
	return r.snapshots[len(r.snapshots)-1]
}

func (r *recorder) contains(value interface{}) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, snapshot := range r.snapshots {
		if reflect.DeepEqual(snapshot, value) {
			return true
		}
	}
	return false
}

func (r *recorder) loadingSignals() []bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	result := make([]bool, len(r.loading))
	copy(result, r.loading)
	return result
}

func (r *recorder) failureCount() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.failures)
}

// testPolicy is a fast policy for tests
func testPolicy() Policy {
	return Policy{
		ReconnectStep:     time.Millisecond * 40,
		MaxRetryCount:     5,
		FallbackThreshold: 3,
		SettleDelay:       time.Millisecond * 30,
		PollInterval:      time.Millisecond * 40,
	}
}

func testFeed(name string) Feed {
	return Feed{
		Key:    ResourceKey{Name: name, StreamPath: "/" + name + "/stream", PollPath: "/" + name},
		Policy: testPolicy(),
	}
}
