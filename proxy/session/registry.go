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

// Package session implements the proxy's session registry: allocation
// of 16-bit session ids, the per-session subscription set, and
// session removal on explicit disconnect, transport failure or proxy
// shutdown.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/clkmgr/proto"
	"github.com/facebook/clkmgr/transport"
)

// ErrExhausted is returned by Connect when all 65535 session ids are
// currently live.
var ErrExhausted = fmt.Errorf("session: id space exhausted")

// ErrUnknownSession is returned when an operation names a session id
// that is not currently live.
var ErrUnknownSession = fmt.Errorf("session: unknown session id")

// Session is a live association between one client process and the
// proxy. It owns the transmit queue used to push Notify messages to
// that client.
type Session struct {
	id       uint16
	ClientID string

	mu         sync.Mutex
	tx         *transport.Tx
	subscribed map[uint32]struct{}
}

// ID returns the session's allocated id.
func (s *Session) ID() uint16 { return s.id }

// Subscribed reports whether timeBaseIndex is in this session's
// subscription set.
func (s *Session) Subscribed(timeBaseIndex uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subscribed[timeBaseIndex]
	return ok
}

// Send transmits msg on the session's tx queue. A transport failure is
// the proxy's signal that the session is dead; the caller is expected
// to call Registry.Remove in that case.
func (s *Session) Send(msg []byte) error {
	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()
	return tx.Send(msg)
}

// Registry maps session ids to Sessions. Allocation starts from a
// rolling counter, skipping ids currently in use and the reserved
// invalid value; the counter wraps around 16 bits.
type Registry struct {
	mu       sync.Mutex
	sessions map[uint16]*Session
	next     uint16

	churnTotal uint64
}

// ChurnTotal reports how many sessions have been allocated or removed
// over the registry's lifetime, for metrics. A reconnect that reuses an
// existing live session id (the liveness-probe path in Connect) is not
// churn: nothing was allocated or removed.
func (r *Registry) ChurnTotal() uint64 { return atomic.LoadUint64(&r.churnTotal) }

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uint16]*Session)}
}

// Connect allocates a new session bound to a tx queue addressed by
// clientID when sessionID is proto.InvalidSessionID. Any other
// sessionID is the liveness-probe reconnect path: a live id is returned
// unchanged, and an id that is not live yields proto.InvalidSessionID
// and ErrUnknownSession. It returns proto.InvalidSessionID and
// ErrExhausted if every id is in use.
func (r *Registry) Connect(sessionID uint16, clientID string) (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessionID != proto.InvalidSessionID {
		if _, ok := r.sessions[sessionID]; ok {
			return sessionID, nil
		}
		return proto.InvalidSessionID, ErrUnknownSession
	}

	if len(r.sessions) >= int(proto.InvalidSessionID) {
		return proto.InvalidSessionID, ErrExhausted
	}

	tx, err := transport.OpenTx(clientID)
	if err != nil {
		return proto.InvalidSessionID, fmt.Errorf("session: opening tx queue for %q: %w", clientID, err)
	}

	id := r.next
	for {
		if id != proto.InvalidSessionID {
			if _, inUse := r.sessions[id]; !inUse {
				break
			}
		}
		id++
	}
	r.next = id + 1

	r.sessions[id] = &Session{
		id:         id,
		ClientID:   clientID,
		tx:         tx,
		subscribed: make(map[uint32]struct{}),
	}
	atomic.AddUint64(&r.churnTotal, 1)
	log.Debugf("session: allocated %d for client %q", id, clientID)
	return id, nil
}

// Subscribe registers sessionID's interest in timeBaseIndex. It is
// idempotent and fails if the session is unknown.
func (r *Registry) Subscribe(sessionID uint16, timeBaseIndex uint32) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	s.mu.Lock()
	s.subscribed[timeBaseIndex] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Get returns the live session for sessionID, if any.
func (r *Registry) Get(sessionID uint16) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// SubscribersOf returns every live session currently subscribed to
// timeBaseIndex.
func (r *Registry) SubscribersOf(timeBaseIndex uint32) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.Subscribed(timeBaseIndex) {
			out = append(out, s)
		}
	}
	return out
}

// Remove closes the session's tx queue and drops it (and its
// subscriptions) from the registry.
func (r *Registry) Remove(sessionID uint16) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	atomic.AddUint64(&r.churnTotal, 1)
	if err := s.tx.Close(); err != nil {
		log.Debugf("session: closing tx queue for session %d: %v", sessionID, err)
	}
	log.Debugf("session: removed %d", sessionID)
}

// Len returns the number of live sessions, mainly for metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
