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

// Package monitor runs one polling worker per external clock source per
// time base, pushing every fresh reading into the aggregator. Workers
// for the same time base wait on a one-shot barrier that Run releases
// once all of that time base's workers have been started. Each reading
// is pushed as soon as it is polled, so the first notification for a
// time base can carry only one of its two sources.
package monitor

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/facebook/clkmgr/proto"
)

// defaultPollInterval is used for a Source whose PollInterval is not
// positive.
const defaultPollInterval = time.Second

// PTPSource polls one ptp4l instance for its current synchronization
// state.
type PTPSource interface {
	Poll(ctx context.Context) (proto.PTPSnapshot, error)
}

// SysSource polls one chronyd instance for its current tracking state.
type SysSource interface {
	Poll(ctx context.Context) (proto.SysSnapshot, error)
}

// Sink receives freshly polled snapshots, keyed by time base. It is
// satisfied by *aggregator.Aggregator.
type Sink interface {
	PushPTP(timeBaseIndex uint32, snap proto.PTPSnapshot)
	PushSys(timeBaseIndex uint32, snap proto.SysSnapshot)
}

// Source describes the pair of external collaborators feeding one time
// base. Either PTP or Sys (but not both) may be nil, matching a time
// base configured for only one clock discipline.
type Source struct {
	TimeBaseIndex uint32
	PTP           PTPSource
	Sys           SysSource
	// PollInterval overrides defaultPollInterval for every worker
	// polling this time base.
	PollInterval time.Duration
}

// Monitor owns the set of configured Sources and the workers polling
// them.
type Monitor struct {
	sink    Sink
	sources []Source

	mu      sync.Mutex
	stopped bool
}

// New returns a Monitor that pushes every reading it polls into sink.
func New(sink Sink) *Monitor {
	return &Monitor{sink: sink}
}

// Add registers one time base's sources. It must be called before Run.
func (m *Monitor) Add(src Source) {
	m.sources = append(m.sources, src)
}

func (m *Monitor) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// Stop asks every worker to exit at its next poll boundary.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

// Run starts one worker goroutine per configured source and blocks
// until every worker has exited, which happens once ctx is cancelled or
// Stop is called. A failed poll is logged and the worker keeps polling,
// so Run returns nil. Workers belonging to the same time base share a
// one-shot barrier that is released once all of them have been started.
func (m *Monitor) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, src := range m.sources {
		src := src
		var barrier sync.Once
		ready := make(chan struct{})
		release := func() { barrier.Do(func() { close(ready) }) }

		interval := src.PollInterval
		if interval <= 0 {
			interval = defaultPollInterval
		}

		if src.PTP != nil {
			ptpSrc := src.PTP
			eg.Go(func() error {
				return m.pollLoop(ctx, src.TimeBaseIndex, interval, ready, release, func(ctx context.Context) error {
					snap, err := ptpSrc.Poll(ctx)
					if err != nil {
						return err
					}
					m.sink.PushPTP(src.TimeBaseIndex, snap)
					return nil
				})
			})
		}
		if src.Sys != nil {
			sysSrc := src.Sys
			eg.Go(func() error {
				return m.pollLoop(ctx, src.TimeBaseIndex, interval, ready, release, func(ctx context.Context) error {
					snap, err := sysSrc.Poll(ctx)
					if err != nil {
						return err
					}
					m.sink.PushSys(src.TimeBaseIndex, snap)
					return nil
				})
			})
		}
		// release the barrier once both goroutines for this source
		// have been scheduled, so neither waits on the other's first
		// successful poll, only on both having started.
		release()
	}
	return eg.Wait()
}

func (m *Monitor) pollLoop(ctx context.Context, timeBaseIndex uint32, interval time.Duration, ready <-chan struct{}, release func(), poll func(context.Context) error) error {
	defer release()
	select {
	case <-ready:
	case <-ctx.Done():
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if m.isStopped() {
			return nil
		}
		if err := poll(ctx); err != nil {
			log.Warnf("monitor: polling time base %d: %v", timeBaseIndex, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
