// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// leadingNumberRegex splits the first number of a time.Duration string from its unit.
var leadingNumberRegex = regexp.MustCompile(`^(\d+\.?\d*)([µa-z]+)$`)

// FormatDuration pretty prints durations of epochs and runs.
//
// Durations of a minute or more are rounded to the second ("1h2m3s"), since an epoch waits for
// a child trainer. Shorter ones keep two decimals of their largest unit ("1.50s", "2.35ms").
func FormatDuration(d time.Duration) string {
	if d >= time.Minute || d <= -time.Minute {
		return d.Round(time.Second).String()
	}
	s := d.String()
	matches := leadingNumberRegex.FindStringSubmatch(s)
	if matches == nil {
		return s
	}
	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return s
	}
	return strconv.FormatFloat(value, 'f', 2, 64) + matches[2]
}

func totalDuration(durations []time.Duration) (total time.Duration) {
	for _, d := range durations {
		total += d
	}
	return
}

// formatRate formats epochs per hour, used when epochs are slow enough that "epochs/s" is
// always zero.
func formatRate(epochs int, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f epochs/h", float64(epochs)/elapsed.Hours())
}
