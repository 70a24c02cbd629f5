package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Weekdays is a set of days for a recurring trigger. It marshals as
// lowercase names and unmarshals from names or numbers (sunday=0).
type Weekdays []time.Weekday

var weekdayByName = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekday accepts an English day name, its three-letter form, or 0..6.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if d, ok := weekdayByName[s]; ok {
		return d, nil
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), nil
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// ParseWeekdays parses a comma separated list, e.g. "mon,wed,fri".
func ParseWeekdays(s string) (Weekdays, error) {
	var out Weekdays
	for _, p := range strings.Split(s, ",") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		d, err := ParseWeekday(p)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out.Normalize(), nil
}

// Normalize sorts and deduplicates.
func (w Weekdays) Normalize() Weekdays {
	if len(w) == 0 {
		return w
	}
	seen := make(map[time.Weekday]bool, len(w))
	out := make(Weekdays, 0, len(w))
	for _, d := range w {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contains reports whether d is in the set.
func (w Weekdays) Contains(d time.Weekday) bool {
	for _, x := range w {
		if x == d {
			return true
		}
	}
	return false
}

// CronField renders the set as a cron day-of-week field ("1,3,5").
func (w Weekdays) CronField() string {
	parts := make([]string, 0, len(w))
	for _, d := range w {
		parts = append(parts, strconv.Itoa(int(d)))
	}
	return strings.Join(parts, ",")
}

func (w Weekdays) String() string {
	parts := make([]string, 0, len(w))
	for _, d := range w {
		parts = append(parts, strings.ToLower(d.String()))
	}
	return strings.Join(parts, ",")
}

func (w Weekdays) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(w))
	for _, d := range w {
		names = append(names, strings.ToLower(d.String()))
	}
	return json.Marshal(names)
}

func (w *Weekdays) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("recurring_days: %w", err)
	}
	out := make(Weekdays, 0, len(raw))
	for _, r := range raw {
		var name string
		if err := json.Unmarshal(r, &name); err == nil {
			d, err := ParseWeekday(name)
			if err != nil {
				return err
			}
			out = append(out, d)
			continue
		}
		var n int
		if err := json.Unmarshal(r, &n); err != nil {
			return fmt.Errorf("recurring_days: %s is neither a name nor a number", string(r))
		}
		if n < 0 || n > 6 {
			return fmt.Errorf("recurring_days: weekday %d out of range", n)
		}
		out = append(out, time.Weekday(n))
	}
	*w = out
	return nil
}
