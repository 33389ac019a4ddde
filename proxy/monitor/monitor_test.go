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

package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebook/clkmgr/proto"
)

type fakePTPSource struct {
	mu    sync.Mutex
	polls int
	fail  bool
}

func (f *fakePTPSource) Poll(ctx context.Context) (proto.PTPSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.fail {
		return proto.PTPSnapshot{}, fmt.Errorf("source unavailable")
	}
	return proto.PTPSnapshot{OffsetNS: int64(f.polls)}, nil
}

func (f *fakePTPSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

type fakeSysSource struct {
	mu    sync.Mutex
	polls int
}

func (f *fakeSysSource) Poll(ctx context.Context) (proto.SysSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return proto.SysSnapshot{OffsetNS: int64(f.polls)}, nil
}

func (f *fakeSysSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

type fakeSink struct {
	mu  sync.Mutex
	ptp int
	sys int
}

func (s *fakeSink) PushPTP(timeBaseIndex uint32, snap proto.PTPSnapshot) {
	s.mu.Lock()
	s.ptp++
	s.mu.Unlock()
}

func (s *fakeSink) PushSys(timeBaseIndex uint32, snap proto.SysSnapshot) {
	s.mu.Lock()
	s.sys++
	s.mu.Unlock()
}

func (s *fakeSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptp, s.sys
}

func TestMonitorPollsBothSourcesAndPushes(t *testing.T) {
	sink := &fakeSink{}
	ptpSrc := &fakePTPSource{}
	sysSrc := &fakeSysSource{}
	m := New(sink)
	m.Add(Source{TimeBaseIndex: 1, PTP: ptpSrc, Sys: sysSrc, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		ptp, sys := sink.counts()
		return ptp >= 2 && sys >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestMonitorStopHaltsWorkers(t *testing.T) {
	sink := &fakeSink{}
	ptpSrc := &fakePTPSource{}
	m := New(sink)
	m.Add(Source{TimeBaseIndex: 1, PTP: ptpSrc, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return ptpSrc.count() >= 1 }, time.Second, 5*time.Millisecond)

	m.Stop()
	time.Sleep(30 * time.Millisecond)
	n := ptpSrc.count()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, n, ptpSrc.count())
}

func TestMonitorSourcePollErrorDoesNotStopOthers(t *testing.T) {
	sink := &fakeSink{}
	ptpSrc := &fakePTPSource{fail: true}
	sysSrc := &fakeSysSource{}
	m := New(sink)
	m.Add(Source{TimeBaseIndex: 1, PTP: ptpSrc, Sys: sysSrc, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, sys := sink.counts()
		return sys >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	ptp, sys := sink.counts()
	require.Zero(t, ptp)
	require.Greater(t, sys, 0)
}
