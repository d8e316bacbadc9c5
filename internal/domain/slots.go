package domain

import (
	"fmt"
	"slices"
	"time"
)

// Point is a time of day expressed in minutes after local midnight.
type Point int

const EndOfDay Point = 24 * 60

func ParsePoint(s string) (Point, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return Point(t.Hour()*60 + t.Minute()), nil
}

func (p Point) String() string {
	return fmt.Sprintf("%02d:%02d", int(p)/60, int(p)%60)
}

// At returns the instant of p on the calendar day of day, in day's location.
func (p Point) At(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, int(p), 0, 0, day.Location())
}

// Window is a half-open interval [Start, End) of one day.
type Window struct {
	Start Point
	End   Point
}

func (w Window) Covers(start, end Point) bool {
	return w.Start <= start && end <= w.End
}

// Slice returns start, start+g, start+2g, ... while strictly before end.
func Slice(start, end Point, granularity int) []Point {
	if granularity <= 0 || start >= end {
		return nil
	}
	out := make([]Point, 0, int(end-start)/granularity+1)
	for p := start; p < end; p += Point(granularity) {
		out = append(out, p)
	}
	return out
}

func AlignUp(p Point, granularity int) Point {
	if granularity <= 0 {
		return p
	}
	if r := int(p) % granularity; r != 0 {
		return p + Point(granularity-r)
	}
	return p
}

func AlignDown(p Point, granularity int) Point {
	if granularity <= 0 {
		return p
	}
	return p - Point(int(p)%granularity)
}

// StartOfDay returns local midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// PointOf places t on the calendar day that starts at day, clipped to
// [0, EndOfDay]. With ceil set, a partial minute counts as a full one.
func PointOf(day, t time.Time, ceil bool) Point {
	loc := day.Location()
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	if !t.After(dayStart) {
		return 0
	}
	if !t.Before(dayStart.AddDate(0, 0, 1)) {
		return EndOfDay
	}
	lt := t.In(loc)
	m := lt.Hour()*60 + lt.Minute()
	if ceil && (lt.Second() > 0 || lt.Nanosecond() > 0) {
		m++
	}
	return Point(m)
}

// MinimumFloor is the earliest point that may be offered on day given the
// current time: now rounded up to the next granularity boundary when day is
// today, 0 for future days and EndOfDay for past days.
func MinimumFloor(day, now time.Time, granularity int) Point {
	return AlignUp(PointOf(day, now, true), granularity)
}

// BusyWindow converts a booking's occupied interval into a window on day.
func BusyWindow(day time.Time, start, end time.Time) (Window, bool) {
	w := Window{Start: PointOf(day, start, false), End: PointOf(day, end, true)}
	if w.Start >= w.End {
		return Window{}, false
	}
	return w, true
}

// DayInput is everything needed to resolve one professional's free points on
// one day.
type DayInput struct {
	Granularity int
	// Floor discards points before it; see MinimumFloor.
	Floor   Point
	Windows []Window
	Busy    []Window
}

// ResolveDay returns the maximal runs of contiguous free points for the day.
func ResolveDay(in DayInput) [][]Point {
	g := in.Granularity
	if g <= 0 {
		return nil
	}

	free := make(map[Point]struct{})
	for _, w := range in.Windows {
		start := w.Start
		if start < in.Floor {
			start = in.Floor
		}
		for _, p := range Slice(AlignUp(start, g), w.End, g) {
			free[p] = struct{}{}
		}
	}
	for _, b := range in.Busy {
		for _, p := range Slice(AlignDown(b.Start, g), b.End, g) {
			delete(free, p)
		}
	}

	points := make([]Point, 0, len(free))
	for p := range free {
		points = append(points, p)
	}
	slices.Sort(points)

	return Runs(points, g)
}

// Runs partitions sorted points into maximal runs spaced exactly granularity apart.
func Runs(points []Point, granularity int) [][]Point {
	var runs [][]Point
	var cur []Point
	for _, p := range points {
		if len(cur) > 0 && p-cur[len(cur)-1] != Point(granularity) {
			runs = append(runs, cur)
			cur = nil
		}
		cur = append(cur, p)
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

// RequiredSlots counts the grid ticks from a start up to and including the
// service end.
func RequiredSlots(duration, granularity int) int {
	if duration <= 0 || granularity <= 0 {
		return 0
	}
	return duration/granularity + 1
}

// CanFit reports whether run holds the points needed to host a service of
// duration minutes starting at start. When the service ends exactly on a tick
// past the run's last point, that closing tick is a boundary and is not
// required to be free.
func CanFit(start Point, run []Point, requiredSlots, granularity, duration int) bool {
	if requiredSlots <= 0 || granularity <= 0 || duration <= 0 || len(run) == 0 {
		return false
	}
	idx, ok := slices.BinarySearch(run, start)
	if !ok {
		return false
	}

	need := requiredSlots
	end := start + Point(duration)
	if duration%granularity == 0 && end > run[len(run)-1] {
		need--
	}

	for i := 0; i < need; i++ {
		j := idx + i
		if j >= len(run) || run[j] != start+Point(i*granularity) {
			return false
		}
	}
	return true
}

// BookableStarts extracts every start point in runs where the service fits
// contiguously and entirely inside one working window.
func BookableStarts(runs [][]Point, windows []Window, granularity, duration int) []Point {
	required := RequiredSlots(duration, granularity)
	var out []Point
	for _, run := range runs {
		for _, p := range run {
			if !CanFit(p, run, required, granularity, duration) {
				continue
			}
			if !coveredByWindow(windows, p, p+Point(duration)) {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}

// Bookable resolves the day and returns its bookable start points.
func Bookable(in DayInput, duration int) []Point {
	return BookableStarts(ResolveDay(in), in.Windows, in.Granularity, duration)
}

func IsBookable(in DayInput, duration int, start Point) bool {
	_, ok := slices.BinarySearch(Bookable(in, duration), start)
	return ok
}

func coveredByWindow(windows []Window, start, end Point) bool {
	for _, w := range windows {
		if w.Covers(start, end) {
			return true
		}
	}
	return false
}
