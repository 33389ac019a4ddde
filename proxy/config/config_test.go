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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvalAndValidateRejectsEmptyTimeBases(t *testing.T) {
	c := &Config{}
	require.Equal(t, fmt.Errorf("bad config: at least one time base is required"), c.EvalAndValidate())
}

func TestEvalAndValidateRejectsDuplicateIndex(t *testing.T) {
	c := &Config{TimeBases: []TimeBase{
		{Index: 1, Name: "a", PTP4lSocket: "/tmp/a"},
		{Index: 1, Name: "b", PTP4lSocket: "/tmp/b"},
	}}
	require.Equal(t, fmt.Errorf("bad config: duplicate time base index 1"), c.EvalAndValidate())
}

func TestEvalAndValidateRejectsTimeBaseWithNoSource(t *testing.T) {
	c := &Config{TimeBases: []TimeBase{{Index: 1, Name: "a"}}}
	require.Equal(t, fmt.Errorf("bad config: time base 1 has neither a PTP nor a system-clock source"), c.EvalAndValidate())
}

func TestEvalAndValidateFillsDefaults(t *testing.T) {
	c := &Config{TimeBases: []TimeBase{{Index: 1, Name: "a", ChronydAddress: "127.0.0.1:323"}}}
	require.NoError(t, c.EvalAndValidate())
	require.Equal(t, time.Second, c.DefaultPollInterval)
	require.Equal(t, 50*time.Millisecond, c.LivenessWindow)
	require.Equal(t, "/var/run/clkmgr", c.QueueDir)
}

func TestReadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clkmgr.yaml")
	contents := `
timeBases:
  - index: 1
    name: eth0
    interface: eth0
    ptp4lSocket: /var/run/ptp4l
    chronydAddress: 127.0.0.1:323
queueDir: /tmp/clkmgr-test
defaultPollInterval: 2s
livenessWindow: 100ms
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	c, err := ReadConfig(path)
	require.NoError(t, err)
	require.NoError(t, c.EvalAndValidate())
	require.Len(t, c.TimeBases, 1)
	require.True(t, c.TimeBases[0].HavePTP())
	require.True(t, c.TimeBases[0].HaveSys())
	require.Equal(t, 2*time.Second, c.DefaultPollInterval)
}

func TestReadConfigRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clkmgr.yaml")
	contents := "timeBases:\n  - index: 1\n    name: a\n    ptp4lSocket: /tmp/a\n    bogusField: 1\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	_, err := ReadConfig(path)
	require.Error(t, err)
}
