// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cheggaaa/pb"
)

// stageProgress tracks one stage's transfer totals behind a single progress
// line, refreshed no faster than the configured interval.
type stageProgress struct {
	bar       *pb.ProgressBar
	total     int64
	completed atomic.Int64
	failed    atomic.Int64
	started   time.Time
}

func newStageProgress(stage string, files int, bytes int64, interval time.Duration) *stageProgress {
	bar := pb.New64(bytes).SetUnits(pb.U_BYTES)
	if interval > 0 {
		bar.SetRefreshRate(interval)
	}
	bar.ShowSpeed = true
	bar.ShowTimeLeft = true
	bar.Prefix(fmt.Sprintf("[%s %d files] ", stage, files))
	bar.Start()
	return &stageProgress{bar: bar, total: int64(files), started: time.Now()}
}

// Done records one task's terminal state and advances the bar.
func (p *stageProgress) Done(bytes int64, ok bool) {
	if p == nil {
		return
	}
	if ok {
		p.completed.Add(1)
		p.bar.Add64(bytes)
	} else {
		p.failed.Add(1)
	}
}

// Finish closes the bar and returns the failed-task count.
func (p *stageProgress) Finish() int64 {
	if p == nil {
		return 0
	}
	p.bar.Finish()
	return p.failed.Load()
}

// formatBytes renders a byte count with a binary unit.
func formatBytes(n int64) string {
	v := float64(n)
	for _, unit := range []string{"B", "KiB", "MiB", "GiB", "TiB"} {
		if v < 1024 {
			return fmt.Sprintf("%.2f %s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.2f PiB", v)
}

// formatDuration renders a duration the way the progress line does.
func formatDuration(d time.Duration) string {
	secs := int64(d.Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
}
