// Package icron answers "when did this schedule last fire and when does it
// fire next" for cron expressions, including @every descriptors.
package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerInfo describes one schedule relative to a reference time.
type TriggerInfo struct {
	Expression string
	Next       time.Time
	Last       time.Time

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

// GetTriggerInfo evaluates a cron expression against refTime. Accepts five
// or six field expressions and descriptors. Last stays zero when no
// earlier trigger exists within the past year.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
		cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
		Last:       lastTrigger(schedule, refTime),
	}
	info.TimeUntilNext = info.Next.Sub(refTime)
	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	return info, nil
}

// lastTrigger probes backwards in hour steps until a start point yields a
// next trigger at or before the reference time. Schedules are opaque, so
// this is a search rather than arithmetic.
func lastTrigger(schedule cron.Schedule, refTime time.Time) time.Time {
	const lookback = 366 * 24 * time.Hour
	for back := time.Minute; back <= lookback; back += time.Hour {
		candidate := schedule.Next(refTime.Add(-back))
		if !candidate.After(refTime) {
			return candidate
		}
	}
	return time.Time{}
}
