package materialize

import (
	"context"
	"time"

	"github.com/jhenriksen/calcache/caltime"
)

// DayBusy is the per-day occupancy summary produced by BusyBits.
type DayBusy struct {
	// JulianDay identifies the day in the materializer's display zone.
	JulianDay int
	// Busy is a 24-bit mask over hour buckets; a bucket is set when at
	// least one timed instance overlaps any part of that local hour.
	Busy uint32
	// AllDayCount is the number of all-day instances covering the day.
	AllDayCount int
}

// BusyBits reduces the materialized instances of [startDay,
// startDay+numDays-1] into per-day hour-bucket bitmaps and all-day
// counts. The instance store is brought up to date for the span first.
// Multi-day timed instances set bits on every day they span, computed
// from their begin/end rather than only their start day.
func (m *Materializer) BusyBits(ctx context.Context, startDay, numDays int) ([]DayBusy, error) {
	if numDays <= 0 {
		return nil, nil
	}
	endDay := startDay + numDays - 1

	loc := m.Timezone()
	begin := caltime.DayStart(startDay, loc)
	end := caltime.DayStart(endDay+1, loc).Add(-time.Millisecond)
	if err := m.EnsureRange(ctx, begin, end); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	instances, err := m.st.ListInstancesByDay(ctx, startDay, endDay)
	if err != nil {
		return nil, err
	}

	days := make([]DayBusy, numDays)
	for i := range days {
		days[i].JulianDay = startDay + i
	}

	for _, in := range instances {
		first := max(in.StartDay, startDay)
		last := min(in.EndDay, endDay)

		if in.AllDay {
			for d := first; d <= last; d++ {
				days[d-startDay].AllDayCount++
			}
			continue
		}

		for d := first; d <= last; d++ {
			days[d-startDay].Busy |= hourMask(in.Begin, in.End, d, loc)
		}
	}
	return days, nil
}

// hourMask computes the hour-bucket bits a timed instance occupies on
// one day. Hours are local clock hours, so a DST-shortened day simply
// never produces the skipped bucket.
func hourMask(begin, end time.Time, day int, loc *time.Location) uint32 {
	dayStart := caltime.DayStart(day, loc)
	dayEnd := caltime.DayStart(day+1, loc)

	segStart := begin
	if segStart.Before(dayStart) {
		segStart = dayStart
	}
	segEnd := end
	if segEnd.After(dayEnd) {
		segEnd = dayEnd
	}
	if !segEnd.After(segStart) {
		return 0
	}

	firstHour := segStart.In(loc).Hour()
	lastHour := segEnd.Add(-time.Nanosecond).In(loc).Hour()

	var mask uint32
	for h := firstHour; h <= lastHour && h < 24; h++ {
		mask |= 1 << h
	}
	return mask
}
