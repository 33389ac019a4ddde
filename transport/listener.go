/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package transport

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/clkmgr/proto"
)

// Handler processes one decoded datagram for a given message id.
type Handler func(msgID proto.MessageID, raw []byte)

// pollInterval bounds how long a single blocking Receive call can run
// before the listener goroutine rechecks its stop flag.
const pollInterval = 200 * time.Millisecond

// Listener owns one Rx queue and a goroutine that decodes each arriving
// datagram and dispatches it to a registered Handler.
type Listener struct {
	rx      *Rx
	handler Handler

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// NewListener opens the named queue for receiving and returns a
// Listener bound to it. Call Start to begin dispatching.
func NewListener(name string, handler Handler) (*Listener, error) {
	rx, err := OpenRx(name)
	if err != nil {
		return nil, err
	}
	l := &Listener{rx: rx, handler: handler, done: make(chan struct{})}
	register(l)
	return l, nil
}

// Start launches the dispatch loop in a new goroutine.
func (l *Listener) Start() {
	go l.loop()
}

func (l *Listener) loop() {
	defer close(l.done)
	for {
		if l.isStopped() {
			return
		}
		raw, err := l.rx.Receive(pollInterval)
		if err != nil {
			if errors.Is(err, ErrTruncated) {
				log.Warnf("transport: dropping truncated datagram on %s", l.rx.name)
				continue
			}
			// timeout or closed socket: loop back around to re-check stop
			continue
		}
		msgID, err := proto.PeekMessageID(raw)
		if err != nil {
			log.Warnf("transport: dropping malformed datagram on %s: %v", l.rx.name, err)
			continue
		}
		l.handler(msgID, raw)
	}
}

func (l *Listener) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// stop asks the dispatch loop to exit at its next iteration.
func (l *Listener) stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
}

// finalize waits for the dispatch loop to exit and releases the queue.
// After finalize returns, the handler is guaranteed not to run again.
func (l *Listener) finalize() error {
	<-l.done
	return l.rx.Close()
}

// registry is the global set of live listeners, mirroring the source's
// orderly-shutdown registry: Stop asks every listener to exit its loop,
// then Finalize joins them all and releases their queues.
var registry struct {
	mu        sync.Mutex
	listeners []*Listener
}

func register(l *Listener) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.listeners = append(registry.listeners, l)
}

// Stop signals every registered listener to exit its dispatch loop.
func Stop() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	for _, l := range registry.listeners {
		l.stop()
	}
}

// Finalize joins every registered listener's goroutine and releases its
// queue. It must be called after Stop.
func Finalize() error {
	registry.mu.Lock()
	listeners := registry.listeners
	registry.listeners = nil
	registry.mu.Unlock()

	var firstErr error
	for _, l := range listeners {
		if err := l.finalize(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
