// Package slot decides which hourly delivery windows can still be booked.
// Everything here is pure: callers pass the current time explicitly.
package slot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/macrobox/macrobox-cli/internal/model"
)

const (
	FirstHour = 7
	LastHour  = 19

	// LeadTime is the minimum gap between now and the start of a slot.
	LeadTime = 3 * time.Hour

	DateLayout = "2006-01-02"
)

// Hours lists every slot hour of a day, allowed or not.
func Hours() []int {
	out := make([]int, 0, LastHour-FirstHour+1)
	for h := FirstHour; h <= LastHour; h++ {
		out = append(out, h)
	}
	return out
}

// Today is now's calendar date in now's location.
func Today(now time.Time) string {
	return now.Format(DateLayout)
}

// Start returns the instant a slot begins, interpreted in loc.
func Start(date string, hour int, loc *time.Location) (time.Time, error) {
	if hour < FirstHour || hour > LastHour {
		return time.Time{}, fmt.Errorf("hour %d outside %d..%d", hour, FirstHour, LastHour)
	}
	day, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse slot date %q: %w", date, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, loc), nil
}

// IsAllowed reports whether the slot starts at least LeadTime after now.
// The boundary is inclusive. Malformed dates and out-of-range hours are never
// allowed.
func IsAllowed(date string, hour int, now time.Time) bool {
	start, err := Start(date, hour, now.Location())
	if err != nil {
		return false
	}
	return !start.Before(now.Add(LeadTime))
}

func AllowedHours(date string, now time.Time) []int {
	var out []int
	for _, h := range Hours() {
		if IsAllowed(date, h, now) {
			out = append(out, h)
		}
	}
	return out
}

func FirstAllowed(date string, now time.Time) (int, bool) {
	for _, h := range Hours() {
		if IsAllowed(date, h, now) {
			return h, true
		}
	}
	return 0, false
}

// Reselect picks the hour to show after the date changes: the current hour if
// it is still allowed on date, else the first allowed hour. ok is false when
// date has no allowed hour at all.
func Reselect(date string, currentHour int, now time.Time) (int, bool) {
	if currentHour != 0 && IsAllowed(date, currentHour, now) {
		return currentHour, true
	}
	return FirstAllowed(date, now)
}

// NextAvailable walks forward from today, up to horizonDays further days, and
// returns the earliest allowed slot.
func NextAvailable(now time.Time, horizonDays int) (model.DeliverySlot, bool) {
	if horizonDays < 0 {
		horizonDays = 0
	}
	for d := 0; d <= horizonDays; d++ {
		date := now.AddDate(0, 0, d).Format(DateLayout)
		if h, ok := FirstAllowed(date, now); ok {
			return model.DeliverySlot{Date: date, Hour: h}, true
		}
	}
	return model.DeliverySlot{}, false
}

// FormatTime renders the wire form of a slot hour, "HH:00".
func FormatTime(hour int) string {
	return fmt.Sprintf("%02d:00", hour)
}

// ParseTime accepts the wire form "HH:00" and returns the hour.
func ParseTime(s string) (int, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || mm != "00" {
		return 0, fmt.Errorf("invalid slot time %q: want HH:00", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid slot time %q: %w", s, err)
	}
	if h < FirstHour || h > LastHour {
		return 0, fmt.Errorf("slot time %q outside %s..%s", s, FormatTime(FirstHour), FormatTime(LastHour))
	}
	return h, nil
}

// Format12h renders an hour as a 12-hour clock label, e.g. "7:00 PM".
func Format12h(hour int) string {
	suffix := "AM"
	if hour >= 12 {
		suffix = "PM"
	}
	h := hour % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d:00 %s", h, suffix)
}

func Label(hour int, allowed bool) string {
	if allowed {
		return Format12h(hour)
	}
	return Format12h(hour) + " — Time slot not available"
}

// Wire converts a slot to the create-order payload form.
func Wire(s model.DeliverySlot) model.OrderSlot {
	return model.OrderSlot{Date: s.Date, Time: FormatTime(s.Hour)}
}
