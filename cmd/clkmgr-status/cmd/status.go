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

package cmd

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/clkmgr/client"
	"github.com/facebook/clkmgr/proto"
)

var (
	statusClientID      string
	statusTimeBaseIndex uint32
	statusTimeoutSec    int
	statusEventMask     uint32
	statusCompositeMask uint32
	statusGMLower       int32
	statusGMUpper       int32
	statusSysLower      int32
	statusSysUpper      int32
)

func init() {
	RootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusClientID, "client", fmt.Sprintf("clkmgr-status.%d", os.Getpid()), "Client id this process registers under")
	statusCmd.Flags().Uint32Var(&statusTimeBaseIndex, "timebase", 0, "Time base index to subscribe to")
	statusCmd.Flags().IntVar(&statusTimeoutSec, "timeout", 5, "statusWait budget in seconds: 0 polls once, negative waits forever")
	statusCmd.Flags().Uint32Var(&statusEventMask, "event-mask", uint32(proto.EventOffsetInRange|proto.EventSyncedToGm|proto.EventAsCapable|proto.EventGmChanged), "Event mask to subscribe with")
	statusCmd.Flags().Uint32Var(&statusCompositeMask, "composite-mask", 0, "Composite event mask to subscribe with")
	statusCmd.Flags().Int32Var(&statusGMLower, "gm-offset-lower", -1000000000, "Lower bound (ns, exclusive) of the GM-offset threshold")
	statusCmd.Flags().Int32Var(&statusGMUpper, "gm-offset-upper", 1000000000, "Upper bound (ns, exclusive) of the GM-offset threshold")
	statusCmd.Flags().Int32Var(&statusSysLower, "sys-offset-lower", -1000000000, "Lower bound (ns, exclusive) of the system-clock offset threshold")
	statusCmd.Flags().Int32Var(&statusSysUpper, "sys-offset-upper", 1000000000, "Upper bound (ns, exclusive) of the system-clock offset threshold")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Subscribe to one time base and print the first status it reports",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := statusRun(); err != nil {
			log.Fatal(err)
		}
	},
}

func statusRun() error {
	cm, err := client.Connect(statusClientID)
	if err != nil {
		return fmt.Errorf("connecting to proxy: %w", err)
	}
	defer cm.Disconnect()

	thresholds := []proto.ThresholdEntry{
		{Kind: proto.ThresholdGMOffset, Upper: statusGMUpper, Lower: statusGMLower},
		{Kind: proto.ThresholdSysOffset, Upper: statusSysUpper, Lower: statusSysLower},
	}
	if err := cm.Subscribe(statusTimeBaseIndex, proto.EventMask(statusEventMask), proto.EventMask(statusCompositeMask), thresholds); err != nil {
		return fmt.Errorf("subscribing to time base %d: %w", statusTimeBaseIndex, err)
	}

	timeout := time.Duration(statusTimeoutSec) * time.Second
	if statusTimeoutSec == 0 {
		timeout = 0
	}
	snap, counters, result, err := cm.StatusWait(timeout, statusTimeBaseIndex)
	if err != nil {
		return fmt.Errorf("statusWait: %w", err)
	}

	fmt.Printf("time base %d: %s\n", statusTimeBaseIndex, result)
	fmt.Printf("  offsetInRangePTP=%v offsetInRangeSys=%v syncedToGm=%v asCapable=%v gmChanged=%v composite=%v\n",
		snap.Bools.OffsetInRangePTP, snap.Bools.OffsetInRangeSys, snap.Bools.SyncedToGm, snap.Bools.AsCapable, snap.Bools.GmChanged, snap.Bools.Composite)
	fmt.Printf("  counters: offsetInRangePTP=%d offsetInRangeSys=%d syncedToGm=%d asCapable=%d gmChanged=%d composite=%d\n",
		counters.OffsetInRangePTP, counters.OffsetInRangeSys, counters.SyncedToGm, counters.AsCapable, counters.GmChanged, counters.Composite)
	if snap.PTP != nil {
		fmt.Printf("  ptp: offsetNS=%d instanceID=%d\n", snap.PTP.OffsetNS, snap.PTP.InstanceID)
	}
	if snap.Sys != nil {
		fmt.Printf("  sys: offsetNS=%d referenceID=0x%x\n", snap.Sys.OffsetNS, snap.Sys.ReferenceID)
	}
	return nil
}
