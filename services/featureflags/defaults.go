// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package featureflags

import "log/slog"

// CoreAppName is the application name the broker core registers its
// flags under.
const CoreAppName = "kodiak_core"

// CoreFlags returns the flag declarations compiled into the broker
// core. Plugins and host applications register their own maps next to
// this one.
func CoreFlags() FlagMap {
	return FlagMap{
		"classic_queue_index_v2": {
			Desc:      "Per-queue index with compacting segment files",
			Stability: StabilityStable,
			Migration: func(event Event) error {
				if event == EventEnable {
					slog.Info("queue index migration scheduled for next queue restart")
				}
				return nil
			},
		},
		"stream_queues": {
			Desc:      "Append-only stream queues with offset-based consumers",
			DependsOn: []FlagName{"classic_queue_index_v2"},
			Stability: StabilityStable,
		},
		"delayed_delivery": {
			Desc:      "Per-message delivery delay on any queue type",
			Stability: StabilityExperimental,
		},
	}
}
