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

// Package proxy wires the session registry, the aggregator and the
// transport listener into the proxy daemon's request/response loop:
// the pieces proxy/session, proxy/aggregator and proxy/monitor each
// implement in isolation, this package assembles and drives.
package proxy

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/clkmgr/proto"
	"github.com/facebook/clkmgr/proxy/aggregator"
	"github.com/facebook/clkmgr/proxy/config"
	"github.com/facebook/clkmgr/proxy/monitor"
	"github.com/facebook/clkmgr/proxy/session"
	"github.com/facebook/clkmgr/transport"
)

// maxDatagram bounds the scratch buffer used to encode every outgoing
// reply.
const maxDatagram = 4096

// subscribersAdapter narrows *session.Registry to aggregator.Subscribers,
// converting []*session.Session to []aggregator.Sender element by
// element: session.Session already satisfies aggregator.Sender, but Go
// does not let a []*session.Session stand in for a []aggregator.Sender
// on its own.
type subscribersAdapter struct{ reg *session.Registry }

func (a subscribersAdapter) SubscribersOf(timeBaseIndex uint32) []aggregator.Sender {
	sessions := a.reg.SubscribersOf(timeBaseIndex)
	out := make([]aggregator.Sender, len(sessions))
	for i, s := range sessions {
		out[i] = s
	}
	return out
}

// Server is the proxy daemon: it owns the session registry, the
// aggregator and the monitor, and answers every request arriving on
// the well-known queue.
type Server struct {
	cfg      *config.Config
	registry *session.Registry
	agg      *aggregator.Aggregator
	mon      *monitor.Monitor
	listener *transport.Listener
}

// NewServer builds a Server from cfg. Sources for each time base are
// supplied by newPTPSource/newSysSource so tests can substitute fakes
// without dialing real sockets.
func NewServer(cfg *config.Config, newPTPSource func(config.TimeBase) (monitor.PTPSource, error), newSysSource func(config.TimeBase) (monitor.SysSource, error)) (*Server, error) {
	registry := session.NewRegistry()
	agg := aggregator.New(subscribersAdapter{reg: registry}, registry)
	mon := monitor.New(agg)

	for _, tb := range cfg.TimeBases {
		agg.Configure(proto.TimeBaseCfg{
			TimeBaseIndex:     tb.Index,
			Name:              tb.Name,
			InterfaceName:     tb.Interface,
			TransportSpecific: tb.TransportSpecific,
			DomainNumber:      tb.DomainNumber,
			HaveSys:           tb.HaveSys(),
			HavePtp:           tb.HavePTP(),
		})

		interval := tb.PollInterval
		if interval <= 0 {
			interval = cfg.DefaultPollInterval
		}
		src := monitor.Source{TimeBaseIndex: tb.Index, PollInterval: interval}
		if tb.HavePTP() {
			ptpSrc, err := newPTPSource(tb)
			if err != nil {
				return nil, fmt.Errorf("proxy: building PTP source for time base %d: %w", tb.Index, err)
			}
			src.PTP = ptpSrc
		}
		if tb.HaveSys() {
			sysSrc, err := newSysSource(tb)
			if err != nil {
				return nil, fmt.Errorf("proxy: building system-clock source for time base %d: %w", tb.Index, err)
			}
			src.Sys = sysSrc
		}
		mon.Add(src)
	}

	s := &Server{cfg: cfg, registry: registry, agg: agg, mon: mon}
	listener, err := transport.NewListener(transport.ProxyQueueName, s.handle)
	if err != nil {
		return nil, fmt.Errorf("proxy: opening %s queue: %w", transport.ProxyQueueName, err)
	}
	s.listener = listener
	return s, nil
}

// SessionCount reports the number of live client sessions, for metrics.
func (s *Server) SessionCount() int { return s.registry.Len() }

// SessionChurn reports how many sessions have been allocated or removed
// over the server's lifetime, for metrics.
func (s *Server) SessionChurn() uint64 { return s.registry.ChurnTotal() }

// NotificationsSent reports how many Notify messages have been
// successfully delivered to a subscriber, for metrics.
func (s *Server) NotificationsSent() uint64 { return s.agg.NotifiedTotal() }

// NotifySendFailures reports how many Notify sends have failed (the
// session was dead and got removed), for metrics.
func (s *Server) NotifySendFailures() uint64 { return s.agg.SendFailedTotal() }

// Run starts the transport listener and the source-polling monitor,
// then blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.listener.Start()
	return s.mon.Run(ctx)
}

// Stop asks the monitor and the transport listener to exit their
// loops. Call transport.Finalize afterwards to release queue sockets.
func (s *Server) Stop() {
	s.mon.Stop()
	transport.Stop()
}

func (s *Server) handle(msgID proto.MessageID, raw []byte) {
	switch msgID {
	case proto.IDConnect:
		s.handleConnect(raw)
	case proto.IDSubscribe:
		s.handleSubscribe(raw)
	default:
		log.Warnf("proxy: dropping unexpected message kind %s", msgID)
	}
}

func (s *Server) handleConnect(raw []byte) {
	req, err := proto.DecodeConnectMessage(raw)
	if err != nil {
		log.Warnf("proxy: decoding Connect: %v", err)
		return
	}

	clientID := req.Header.ClientIDString()
	sessionID, err := s.registry.Connect(req.Header.SessionID, clientID)
	reply := &proto.ConnectMessage{
		Header: proto.Header{SessionID: sessionID, AckKind: proto.AckSuccess},
	}
	reply.Header.SetClientID(clientID)
	if err != nil {
		log.Debugf("proxy: Connect from %q failed: %v", clientID, err)
		reply.Header.AckKind = proto.AckFailure
	} else {
		reply.TimeBases = s.agg.TimeBases()
		reply.LivenessWindowUS = uint32(s.cfg.LivenessWindow.Microseconds())
	}

	sess, ok := s.registry.Get(sessionID)
	if !ok {
		// allocation failed (exhausted or unknown reconnect id): reply
		// on the queue the client told us to address, best effort.
		s.sendTo(clientID, reply)
		return
	}
	s.send(sess, reply)
}

func (s *Server) handleSubscribe(raw []byte) {
	req, err := proto.DecodeSubscribeMessage(raw)
	if err != nil {
		log.Warnf("proxy: decoding Subscribe: %v", err)
		return
	}

	sess, ok := s.registry.Get(req.Header.SessionID)
	if !ok {
		log.Debugf("proxy: Subscribe for unknown session %d", req.Header.SessionID)
		return
	}

	reply := &proto.SubscribeMessage{
		Header:        proto.Header{SessionID: req.Header.SessionID, AckKind: proto.AckSuccess},
		TimeBaseIndex: req.TimeBaseIndex,
	}

	ptpSnap, sysSnap, known := s.agg.Snapshot(req.TimeBaseIndex)
	if !known {
		reply.Header.AckKind = proto.AckFailure
		s.send(sess, reply)
		return
	}

	if err := s.registry.Subscribe(req.Header.SessionID, req.TimeBaseIndex); err != nil {
		reply.Header.AckKind = proto.AckFailure
		s.send(sess, reply)
		return
	}

	if ptpSnap != nil {
		reply.Which |= proto.WhichPTP
		reply.PTP = ptpSnap
	}
	if sysSnap != nil {
		reply.Which |= proto.WhichSys
		reply.Sys = sysSnap
	}
	s.send(sess, reply)
}

type encoder interface {
	Encode(buf []byte) ([]byte, error)
}

func (s *Server) send(sess *session.Session, msg encoder) {
	buf, err := msg.Encode(make([]byte, maxDatagram))
	if err != nil {
		log.Warnf("proxy: encoding reply for session %d: %v", sess.ID(), err)
		return
	}
	if err := sess.Send(buf); err != nil {
		log.Debugf("proxy: session %d unreachable, removing: %v", sess.ID(), err)
		s.registry.Remove(sess.ID())
	}
}

// sendTo replies on a client's queue without a resolved session, used
// only when session allocation itself failed so there is no *Session
// to route through.
func (s *Server) sendTo(clientID string, msg encoder) {
	tx, err := transport.OpenTx(clientID)
	if err != nil {
		log.Debugf("proxy: opening tx queue for %q to report failure: %v", clientID, err)
		return
	}
	defer tx.Close()
	buf, err := msg.Encode(make([]byte, maxDatagram))
	if err != nil {
		log.Warnf("proxy: encoding failure reply for %q: %v", clientID, err)
		return
	}
	if err := tx.Send(buf); err != nil {
		log.Debugf("proxy: sending failure reply to %q: %v", clientID, err)
	}
}
