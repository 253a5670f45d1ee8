package feed

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/pqrdesk/pqrclient/common"
)

// SessionStatus is a point in time view of a session
type SessionStatus struct {
	Key        ResourceKey
	Mode       Mode
	RetryCount int
	Cancelled  bool
	// ActiveTransports counts the open push connection plus the armed timers
	ActiveTransports int
	// InflightFetches counts pulls which have not returned yet
	InflightFetches int
	// StreamAttempts counts push connection attempts made so far
	StreamAttempts int
	// LastPayload is the last accepted snapshot
	LastPayload interface{}
}

// Session is one live subscription to a resource
type Session struct {
	common.Component
	feed       Feed
	handlers   Handlers
	transport  StreamTransport
	fetcher    Fetcher
	observers  []SnapshotObserver
	ctxt       context.Context
	cancelCtxt context.CancelFunc
	loop       common.TaskProcessor
	wg         *sync.WaitGroup

	reconnectTimer common.IntervalTimer
	settleTimer    common.IntervalTimer
	pollTimer      common.IntervalTimer

	// deliveryLock is held by the event loop across every handler invocation
	deliveryLock sync.Mutex
	// inHandler is set while the event loop runs a handler
	inHandler int32

	lock           sync.Mutex
	mode           Mode
	retryCount     int
	cancelled      bool
	conn           StreamConn
	generation     uint64
	streamAttempts int
	inflight       int
	lastPayload    interface{}
	terminalErr    error
}

// ==============================================================================
// Event loop messages

type startSession struct{}

type streamMessage struct {
	generation uint64
	data       []byte
}

type streamFailure struct {
	generation uint64
	err        error
}

type reconnectDue struct{}

type settleDue struct{}

type pollDue struct{}

type pollResult struct {
	data []byte
	err  error
}

// ==============================================================================

func newSession(
	parent context.Context,
	wg *sync.WaitGroup,
	instance string,
	feed Feed,
	handlers Handlers,
	transport StreamTransport,
	fetcher Fetcher,
	observers []SnapshotObserver,
) (*Session, error) {
	logTags := log.Fields{
		"module": "feed", "component": "session", "instance": instance,
	}
	ctxt, cancel := context.WithCancel(parent)
	loop, err := common.GetNewTaskProcessorInstance(ctxt, instance, 64)
	if err != nil {
		cancel()
		return nil, err
	}
	timers := make([]common.IntervalTimer, 3)
	for idx, name := range []string{"reconnect", "settle", "poll"} {
		timer, err := common.GetIntervalTimerInstance(
			fmt.Sprintf("%s.%s", instance, name), ctxt, wg,
		)
		if err != nil {
			cancel()
			return nil, err
		}
		timers[idx] = timer
	}
	instanceObservers := make([]SnapshotObserver, len(observers))
	copy(instanceObservers, observers)
	s := &Session{
		Component:      common.Component{LogTags: logTags},
		feed:           feed,
		handlers:       handlers,
		transport:      transport,
		fetcher:        fetcher,
		observers:      instanceObservers,
		ctxt:           ctxt,
		cancelCtxt:     cancel,
		loop:           loop,
		wg:             wg,
		reconnectTimer: timers[0],
		settleTimer:    timers[1],
		pollTimer:      timers[2],
		mode:           ModePoll,
	}
	if s.streamAvailable() {
		s.mode = ModeStream
	}
	if err := loop.SetTaskExecutionMap(map[reflect.Type]common.TaskHandler{
		reflect.TypeOf(startSession{}):  s.processStart,
		reflect.TypeOf(streamMessage{}): s.processStreamMessage,
		reflect.TypeOf(streamFailure{}): s.processStreamFailure,
		reflect.TypeOf(reconnectDue{}):  s.processReconnectDue,
		reflect.TypeOf(settleDue{}):     s.processSettleDue,
		reflect.TypeOf(pollDue{}):       s.processPollDue,
		reflect.TypeOf(pollResult{}):    s.processPollResult,
	}); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// streamAvailable whether push delivery can be attempted for this session
func (s *Session) streamAvailable() bool {
	return s.feed.Key.StreamPath != "" && s.transport != nil && s.transport.Supported()
}

// begin start the event loop and the initial transport
func (s *Session) begin() error {
	if err := s.loop.StartEventLoop(s.wg); err != nil {
		return err
	}
	return s.loop.Submit(s.ctxt, startSession{})
}

// submit enqueue an event for the loop. Events for a cancelled session are dropped.
func (s *Session) submit(event interface{}) {
	if err := s.loop.Submit(s.ctxt, event); err != nil {
		log.WithError(err).WithFields(s.LogTags).Debugf("Dropped %s", reflect.TypeOf(event))
	}
}

// Key the resource the session observes
func (s *Session) Key() ResourceKey {
	return s.feed.Key
}

// Status a point in time view of the session
func (s *Session) Status() SessionStatus {
	s.lock.Lock()
	status := SessionStatus{
		Key:             s.feed.Key,
		Mode:            s.mode,
		RetryCount:      s.retryCount,
		Cancelled:       s.cancelled,
		InflightFetches: s.inflight,
		StreamAttempts:  s.streamAttempts,
		LastPayload:     s.lastPayload,
	}
	if s.conn != nil {
		status.ActiveTransports++
	}
	s.lock.Unlock()
	for _, timer := range []common.IntervalTimer{s.reconnectTimer, s.settleTimer, s.pollTimer} {
		if timer.Running() {
			status.ActiveTransports++
		}
	}
	return status
}

// Done is closed once the session is cancelled, or its controller is stopped
func (s *Session) Done() <-chan struct{} {
	return s.ctxt.Done()
}

// Err the error which ended the session, or nil if it was cancelled or is still live
func (s *Session) Err() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.terminalErr
}

// Cancel stop the session. Once Cancel returns, no handler invocation begins and all
// connections and timers of the session are released. Idempotent, and safe to call
// from within a handler.
func (s *Session) Cancel() {
	s.lock.Lock()
	if s.cancelled {
		s.lock.Unlock()
		return
	}
	s.cancelled = true
	conn := s.conn
	s.conn = nil
	s.lock.Unlock()

	log.WithFields(s.LogTags).Debug("Cancelling session")
	for _, timer := range []common.IntervalTimer{s.reconnectTimer, s.settleTimer, s.pollTimer} {
		_ = timer.Stop()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			log.WithError(err).WithFields(s.LogTags).Debug("Stream close failed")
		}
	}
	s.cancelCtxt()
	_ = s.loop.StopEventLoop()

	// Wait out a delivery which passed its cancel check but has not started the
	// handler yet. Skipped when called from a handler of this session.
	if atomic.LoadInt32(&s.inHandler) == 0 {
		s.deliveryLock.Lock()
		s.deliveryLock.Unlock()
	}
}

func (s *Session) isCancelled() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.cancelled
}

// ==============================================================================
// Consumer delivery

// invoke run "handler" unless the session is cancelled. Only called from the
// event loop.
func (s *Session) invoke(handler func()) bool {
	s.deliveryLock.Lock()
	defer s.deliveryLock.Unlock()
	if s.isCancelled() {
		return false
	}
	atomic.StoreInt32(&s.inHandler, 1)
	defer atomic.StoreInt32(&s.inHandler, 0)
	handler()
	return true
}

// signalLoading invoke OnLoading unless cancelled
func (s *Session) signalLoading(loading bool) {
	if s.handlers.OnLoading == nil {
		return
	}
	s.invoke(func() { s.handlers.OnLoading(loading) })
}

// deliver record and pass on an accepted snapshot
func (s *Session) deliver(raw []byte, snapshot interface{}) {
	s.invoke(func() {
		s.lock.Lock()
		s.lastPayload = snapshot
		s.lock.Unlock()
		if s.handlers.OnSnapshot != nil {
			s.handlers.OnSnapshot(snapshot)
		}
		for _, observer := range s.observers {
			observer.ObserveSnapshot(s.feed.Key, raw, snapshot)
		}
	})
}

// terminate end the session on a terminal failure
func (s *Session) terminate(err error) {
	reported := s.invoke(func() {
		log.WithError(err).WithFields(s.LogTags).Error("Session ended on terminal failure")
		s.lock.Lock()
		s.terminalErr = err
		s.lock.Unlock()
		if s.handlers.OnTerminalFailure != nil {
			s.handlers.OnTerminalFailure(err)
		}
	})
	if reported {
		s.Cancel()
	}
}

// ==============================================================================
// Event processing

func (s *Session) processStart(param interface{}) error {
	if _, ok := param.(startSession); !ok {
		return fmt.Errorf("can not process unknown type %s for start", reflect.TypeOf(param))
	}
	if s.isCancelled() {
		return nil
	}
	s.lock.Lock()
	mode := s.mode
	s.lock.Unlock()
	if mode == ModeStream {
		s.openStream()
	} else {
		log.WithFields(s.LogTags).Debug("Push delivery unavailable, pulling")
		s.startPolling()
	}
	return nil
}

// openStream start a new push connection
func (s *Session) openStream() {
	s.lock.Lock()
	s.generation++
	generation := s.generation
	s.streamAttempts++
	s.lock.Unlock()

	s.signalLoading(true)
	log.WithFields(s.LogTags).Debugf("Opening stream %s (gen %d)", s.feed.Key.StreamPath, generation)
	conn, err := s.transport.Open(
		s.ctxt,
		s.feed.Key.StreamPath,
		func(data []byte) {
			s.submit(streamMessage{generation: generation, data: data})
		},
		func(err error) {
			s.submit(streamFailure{generation: generation, err: err})
		},
	)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Unable to open stream, switching to pull")
		s.switchToPoll()
		return
	}

	s.lock.Lock()
	if s.cancelled {
		s.lock.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.lock.Unlock()
}

// closeStream drop the current push connection
func (s *Session) closeStream() {
	s.lock.Lock()
	conn := s.conn
	s.conn = nil
	s.lock.Unlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			log.WithError(err).WithFields(s.LogTags).Debug("Stream close failed")
		}
	}
}

// currentStream whether the event belongs to the active push connection
func (s *Session) currentStream(generation uint64) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return !s.cancelled && s.mode == ModeStream && s.generation == generation
}

func (s *Session) processStreamMessage(param interface{}) error {
	event, ok := param.(streamMessage)
	if !ok {
		return fmt.Errorf("can not process unknown type %s for stream message", reflect.TypeOf(param))
	}
	if !s.currentStream(event.generation) {
		return nil
	}
	snapshot, err := s.feed.Decoder(event.data)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Debug("Dropping malformed stream payload")
		return nil
	}
	s.lock.Lock()
	s.retryCount = 0
	s.lock.Unlock()
	s.deliver(event.data, snapshot)
	return nil
}

func (s *Session) processStreamFailure(param interface{}) error {
	event, ok := param.(streamFailure)
	if !ok {
		return fmt.Errorf("can not process unknown type %s for stream failure", reflect.TypeOf(param))
	}
	if !s.currentStream(event.generation) {
		return nil
	}
	s.closeStream()

	policy := s.feed.Policy
	s.lock.Lock()
	s.retryCount++
	if s.retryCount > policy.MaxRetryCount {
		s.retryCount = policy.MaxRetryCount
	}
	retry := s.retryCount
	s.lock.Unlock()
	log.WithError(event.err).WithFields(s.LogTags).Debugf("Stream failed (retry %d)", retry)

	if policy.SettleDelay > 0 {
		if err := s.settleTimer.Start(policy.SettleDelay, func() error {
			s.submit(settleDue{})
			return nil
		}, true); err != nil {
			log.WithError(err).WithFields(s.LogTags).Debug("Unable to arm settle timer")
		}
	} else {
		s.signalLoading(false)
	}

	if retry >= policy.FallbackThreshold {
		log.WithFields(s.LogTags).Infof("Stream failed %d times, switching to pull", retry)
		s.switchToPoll()
		return nil
	}
	delay := policy.ReconnectDelay(retry)
	if err := s.reconnectTimer.Start(delay, func() error {
		s.submit(reconnectDue{})
		return nil
	}, true); err != nil {
		log.WithError(err).WithFields(s.LogTags).Debug("Unable to arm reconnect timer")
	}
	return nil
}

func (s *Session) processReconnectDue(param interface{}) error {
	if _, ok := param.(reconnectDue); !ok {
		return fmt.Errorf("can not process unknown type %s for reconnect", reflect.TypeOf(param))
	}
	s.lock.Lock()
	proceed := !s.cancelled && s.mode == ModeStream
	s.lock.Unlock()
	if proceed {
		s.openStream()
	}
	return nil
}

func (s *Session) processSettleDue(param interface{}) error {
	if _, ok := param.(settleDue); !ok {
		return fmt.Errorf("can not process unknown type %s for settle", reflect.TypeOf(param))
	}
	s.signalLoading(false)
	return nil
}

// switchToPoll move to pulling for the rest of the session's life
func (s *Session) switchToPoll() {
	s.lock.Lock()
	s.mode = ModePoll
	s.lock.Unlock()
	_ = s.reconnectTimer.Stop()
	s.closeStream()
	s.startPolling()
}

// startPolling pull right away, then on the policy interval
func (s *Session) startPolling() {
	s.pollNow()
	if s.feed.Policy.ChainedPoll {
		return
	}
	if err := s.pollTimer.Start(s.feed.Policy.PollInterval, func() error {
		s.submit(pollDue{})
		return nil
	}, false); err != nil {
		log.WithError(err).WithFields(s.LogTags).Debug("Unable to arm poll timer")
	}
}

// pollNow issue one pull. The result returns through the event loop.
func (s *Session) pollNow() {
	s.lock.Lock()
	if s.cancelled {
		s.lock.Unlock()
		return
	}
	s.inflight++
	s.lock.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		data, err := s.fetcher.Fetch(s.ctxt, s.feed.Key.PollPath)
		s.lock.Lock()
		s.inflight--
		s.lock.Unlock()
		s.submit(pollResult{data: data, err: err})
	}()
}

func (s *Session) processPollDue(param interface{}) error {
	if _, ok := param.(pollDue); !ok {
		return fmt.Errorf("can not process unknown type %s for poll", reflect.TypeOf(param))
	}
	if !s.isCancelled() {
		s.pollNow()
	}
	return nil
}

func (s *Session) processPollResult(param interface{}) error {
	result, ok := param.(pollResult)
	if !ok {
		return fmt.Errorf("can not process unknown type %s for poll result", reflect.TypeOf(param))
	}
	if s.isCancelled() {
		return nil
	}
	if result.err != nil {
		if s.feed.Policy.IsTerminal != nil && s.feed.Policy.IsTerminal(result.err) {
			s.terminate(result.err)
			return nil
		}
		log.WithError(result.err).WithFields(s.LogTags).Debug("Pull failed")
		s.signalLoading(false)
	} else if snapshot, err := s.feed.Decoder(result.data); err != nil {
		log.WithError(err).WithFields(s.LogTags).Debug("Dropping malformed pull payload")
		s.signalLoading(false)
	} else {
		s.deliver(result.data, snapshot)
	}
	if s.feed.Policy.ChainedPoll && !s.isCancelled() {
		if err := s.pollTimer.Start(s.feed.Policy.PollInterval, func() error {
			s.submit(pollDue{})
			return nil
		}, true); err != nil {
			log.WithError(err).WithFields(s.LogTags).Debug("Unable to arm poll timer")
		}
	}
	return nil
}
