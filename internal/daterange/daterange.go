// Package daterange models half-open stay ranges [CheckIn, CheckOut) on calendar dates.
package daterange

import (
	"errors"
	"fmt"
	"time"
)

// Layout is the wire format of a calendar date.
const Layout = "2006-01-02"

var ErrInvalidRange = errors.New("invalid date range")

// InvalidRangeError is returned when check-out does not follow check-in.
type InvalidRangeError struct {
	CheckIn  time.Time
	CheckOut time.Time
	Reason   string
}

func (e *InvalidRangeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid date range: %s", e.Reason)
	}
	return fmt.Sprintf("invalid date range: check-out %s must be after check-in %s",
		e.CheckOut.Format(Layout), e.CheckIn.Format(Layout))
}

func (e *InvalidRangeError) Is(target error) bool {
	return target == ErrInvalidRange
}

// DateRange is a stay. CheckIn is the first occupied night, CheckOut is the
// morning the guest leaves and is not occupied.
type DateRange struct {
	CheckIn  time.Time `json:"check_in"`
	CheckOut time.Time `json:"check_out"`
}

// New builds a range from two instants, truncated to their calendar date in UTC.
func New(checkIn, checkOut time.Time) (DateRange, error) {
	if checkIn.IsZero() || checkOut.IsZero() {
		return DateRange{}, &InvalidRangeError{CheckIn: checkIn, CheckOut: checkOut, Reason: "check-in and check-out are required"}
	}

	r := DateRange{CheckIn: Date(checkIn), CheckOut: Date(checkOut)}
	if !r.CheckOut.After(r.CheckIn) {
		return DateRange{}, &InvalidRangeError{CheckIn: r.CheckIn, CheckOut: r.CheckOut}
	}
	return r, nil
}

// Parse builds a range from two YYYY-MM-DD strings.
func Parse(checkIn, checkOut string) (DateRange, error) {
	in, err := ParseDate(checkIn)
	if err != nil {
		return DateRange{}, &InvalidRangeError{Reason: fmt.Sprintf("check_in: %v", err)}
	}
	out, err := ParseDate(checkOut)
	if err != nil {
		return DateRange{}, &InvalidRangeError{Reason: fmt.Sprintf("check_out: %v", err)}
	}
	return New(in, out)
}

// MustParse is Parse for tests and fixtures.
func MustParse(checkIn, checkOut string) DateRange {
	r, err := Parse(checkIn, checkOut)
	if err != nil {
		panic(err)
	}
	return r
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD, got %q", s)
	}
	return t, nil
}

// Date truncates t to midnight UTC of its calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const secondsPerDay = 24 * 60 * 60

// Nights is the number of occupied nights. Counted on Unix seconds since
// time.Duration saturates for ranges longer than ~292 years.
func (r DateRange) Nights() int {
	return int((r.CheckOut.Unix() - r.CheckIn.Unix()) / secondsPerDay)
}

// Overlaps reports whether the two ranges share at least one night.
func (r DateRange) Overlaps(o DateRange) bool {
	return Overlaps(r, o)
}

func Overlaps(a, b DateRange) bool {
	return a.CheckIn.Before(b.CheckOut) && b.CheckIn.Before(a.CheckOut)
}

// ContainsDate reports whether the night starting on d is inside the range.
func (r DateRange) ContainsDate(d time.Time) bool {
	d = Date(d)
	return !d.Before(r.CheckIn) && d.Before(r.CheckOut)
}

// Dates lists every occupied night.
func (r DateRange) Dates() []time.Time {
	n := r.Nights()
	dates := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		dates = append(dates, r.CheckIn.AddDate(0, 0, i))
	}
	return dates
}

// Intersect returns the shared nights of two ranges.
func (r DateRange) Intersect(o DateRange) (DateRange, bool) {
	if !r.Overlaps(o) {
		return DateRange{}, false
	}
	in, out := r.CheckIn, r.CheckOut
	if o.CheckIn.After(in) {
		in = o.CheckIn
	}
	if o.CheckOut.Before(out) {
		out = o.CheckOut
	}
	return DateRange{CheckIn: in, CheckOut: out}, true
}

func (r DateRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.CheckIn.Format(Layout), r.CheckOut.Format(Layout))
}
