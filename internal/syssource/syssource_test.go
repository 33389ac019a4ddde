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

package syssource

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/facebook/clkmgr/ntp/chrony"
)

type fakeClient struct {
	reply chrony.ResponsePacket
	err   error
}

func (f *fakeClient) Communicate(_ chrony.RequestPacket) (chrony.ResponsePacket, error) {
	return f.reply, f.err
}

func TestPollFoldsTrackingIntoSnapshot(t *testing.T) {
	src := &Source{client: &fakeClient{reply: &chrony.ReplyTracking{
		Tracking: chrony.Tracking{
			RefID:              0x7f000001,
			LastOffset:         0.000001234,
			LastUpdateInterval: 16,
		},
	}}}

	snap, err := src.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1234), snap.OffsetNS)
	require.Equal(t, uint32(0x7f000001), snap.ReferenceID)
	require.Equal(t, int64(16000000), snap.PollIntervalUS)
}

func TestPollPropagatesCommunicateError(t *testing.T) {
	src := &Source{client: &fakeClient{err: fmt.Errorf("boom")}}
	_, err := src.Poll(context.Background())
	require.Error(t, err)
}

func TestPollRejectsUnexpectedReplyType(t *testing.T) {
	src := &Source{client: &fakeClient{reply: &chrony.ReplySources{}}}
	_, err := src.Poll(context.Background())
	require.Error(t, err)
}
