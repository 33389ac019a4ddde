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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebook/clkmgr/proto"
)

func withScratchDir(t *testing.T) {
	t.Helper()
	old := Dir
	Dir = t.TempDir()
	t.Cleanup(func() { Dir = old })
}

func TestSendReceiveRoundTrip(t *testing.T) {
	withScratchDir(t)

	rx, err := OpenRx("test-rx")
	require.NoError(t, err)
	defer rx.Close()

	tx, err := OpenTx("test-rx")
	require.NoError(t, err)
	defer tx.Close()

	payload := []byte{byte(proto.IDConnect), 0, 0, 0}
	require.NoError(t, tx.Send(payload))

	got, err := rx.Receive(time.Second)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestOpenTxToUnreachableQueueFails(t *testing.T) {
	withScratchDir(t)

	_, err := OpenTx("nobody-home")
	require.Error(t, err)
}

func TestReceiveTimeoutReturnsError(t *testing.T) {
	withScratchDir(t)

	rx, err := OpenRx("test-timeout")
	require.NoError(t, err)
	defer rx.Close()

	_, err = rx.Receive(20 * time.Millisecond)
	require.Error(t, err)
}

func TestListenerDispatchesAndStops(t *testing.T) {
	withScratchDir(t)

	var mu sync.Mutex
	var seen []proto.MessageID
	l, err := NewListener("test-listener", func(msgID proto.MessageID, raw []byte) {
		mu.Lock()
		seen = append(seen, msgID)
		mu.Unlock()
	})
	require.NoError(t, err)
	l.Start()

	tx, err := OpenTx("test-listener")
	require.NoError(t, err)
	defer tx.Close()

	require.NoError(t, tx.Send([]byte{byte(proto.IDNotify), 0, 0, 0}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 10*time.Millisecond)

	Stop()
	require.NoError(t, Finalize())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []proto.MessageID{proto.IDNotify}, seen)
}
