// Copyright 2021-2022 The httpmq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
)

// TimeoutHandler handler callback on timeout
type TimeoutHandler func() error

// IntervalTimer support class for triggering events at specific intervals
type IntervalTimer interface {
	// Start begin the timer. A timer which is already running is stopped first.
	Start(interval time.Duration, handler TimeoutHandler, oneShot bool) error
	// Stop stop the timer. Idempotent.
	Stop() error
	// Running whether the timer is still armed
	Running() bool
}

// intervalTimerImpl implements IntervalTimer
type intervalTimerImpl struct {
	Component
	rootContext   context.Context
	contextCancel context.CancelFunc
	lock          sync.Mutex
	running       bool
	// generation separates the current timer loop from previously stopped ones
	generation uint64
	wg         *sync.WaitGroup
}

// GetIntervalTimerInstance create new interval timer instance
func GetIntervalTimerInstance(
	name string, rootCtxt context.Context, wg *sync.WaitGroup,
) (IntervalTimer, error) {
	if rootCtxt == nil || wg == nil {
		return nil, fmt.Errorf("interval timer %s requires a context and wait group", name)
	}
	logTags := log.Fields{
		"module": "common", "component": "interval-timer", "instance": name,
	}
	return &intervalTimerImpl{
		Component:     Component{LogTags: logTags},
		rootContext:   rootCtxt,
		contextCancel: nil,
		wg:            wg,
	}, nil
}

// Start start the interval timer
func (t *intervalTimerImpl) Start(
	interval time.Duration, handler TimeoutHandler, oneShot bool,
) error {
	if interval <= 0 {
		return fmt.Errorf("invalid timer interval %s", interval)
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.contextCancel != nil {
		t.contextCancel()
	}
	if t.rootContext.Err() != nil {
		return t.rootContext.Err()
	}
	log.WithFields(t.LogTags).Debugf("Starting with int %s", interval)
	ctxt, cancel := context.WithCancel(t.rootContext)
	t.contextCancel = cancel
	t.generation++
	generation := t.generation
	t.running = true
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.markStopped(generation)
		defer log.WithFields(t.LogTags).Debug("Timer loop exiting")
		for {
			select {
			case <-ctxt.Done():
				return
			case <-time.After(interval):
				// A Stop racing with the timeout wins
				if ctxt.Err() != nil {
					return
				}
				if oneShot {
					t.markStopped(generation)
				}
				if err := handler(); err != nil {
					log.WithError(err).WithFields(t.LogTags).Error("Handler failed")
				}
				if oneShot {
					return
				}
			}
		}
	}()
	return nil
}

// markStopped clear the running flag if the given loop is still the active one
func (t *intervalTimerImpl) markStopped(generation uint64) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.generation == generation {
		t.running = false
	}
}

// Stop stop the interval timer
func (t *intervalTimerImpl) Stop() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.contextCancel != nil {
		log.WithFields(t.LogTags).Debug("Stopping timer loop")
		t.contextCancel()
		t.contextCancel = nil
	}
	t.running = false
	return nil
}

// Running whether the timer is still armed
func (t *intervalTimerImpl) Running() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.running
}
