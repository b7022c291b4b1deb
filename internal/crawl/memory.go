package crawl

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultMemoryThresholdPercent is the memory pressure level above which the
// dispatcher stops releasing new work.
const DefaultMemoryThresholdPercent = 80

// checkInterval is how often a throttled dispatcher rechecks memory.
const checkInterval = time.Second

// Dispatcher throttles new fetches while the process is using too much of
// the machine's memory. On platforms without /proc, permits are always
// granted.
type Dispatcher struct {
	threshold int
	interval  time.Duration
	usage     func() (int, bool)
}

// NewDispatcher creates a dispatcher that pauses dispatch while process RSS
// is at or above thresholdPercent of total system memory.
func NewDispatcher(thresholdPercent int) *Dispatcher {
	if thresholdPercent <= 0 {
		thresholdPercent = DefaultMemoryThresholdPercent
	}
	return &Dispatcher{
		threshold: thresholdPercent,
		interval:  checkInterval,
		usage:     memoryUsagePercent,
	}
}

// Wait blocks until memory usage drops below the threshold or ctx ends.
// A nil dispatcher never blocks.
func (d *Dispatcher) Wait(ctx context.Context) error {
	if d == nil {
		return nil
	}
	for {
		pct, ok := d.usage()
		if !ok || pct < d.threshold {
			return nil
		}
		if err := sleep(ctx, d.interval); err != nil {
			return err
		}
	}
}

// memoryUsagePercent reports process RSS as a percentage of total system
// memory. The second return is false when the numbers are unavailable.
func memoryUsagePercent() (int, bool) {
	rss, ok := residentBytes()
	if !ok {
		return 0, false
	}
	total, ok := totalMemoryBytes()
	if !ok || total == 0 {
		return 0, false
	}
	return int(rss * 100 / total), true
}

// residentBytes reads the process resident set size from /proc/self/statm.
func residentBytes() (uint64, bool) {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, false
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return pages * uint64(os.Getpagesize()), true
}

// totalMemoryBytes reads MemTotal from /proc/meminfo.
func totalMemoryBytes() (uint64, bool) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}
