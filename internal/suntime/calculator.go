// Package suntime resolves the time gate's window edges. An edge is a clock
// time ("22:30") or a sun event with an optional minute offset
// ("sunset-30", "sunrise + 15").
package suntime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nathan-osman/go-sunrise"
	"go.uber.org/zap"
)

// ErrNoSunEvent is returned when the sun does not rise or set on the day
// (polar day or night at the configured coordinates).
var ErrNoSunEvent = errors.New("no sun event on this day")

// Sun events accepted in window edges.
const (
	EventSunrise = "sunrise"
	EventSunset  = "sunset"
)

type sunTimes struct {
	sunrise time.Time
	sunset  time.Time
}

// Calculator resolves window edges for a location. Sun times are cached per
// calendar day.
type Calculator struct {
	latitude  float64
	longitude float64
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]sunTimes
}

// NewCalculator creates a calculator for the given coordinates.
func NewCalculator(latitude, longitude float64, logger *zap.Logger) *Calculator {
	return &Calculator{
		latitude:  latitude,
		longitude: longitude,
		logger:    logger.Named("suntime"),
		cache:     make(map[string]sunTimes),
	}
}

// SunTimes returns sunrise and sunset for day, in day's location.
func (c *Calculator) SunTimes(day time.Time) (time.Time, time.Time, error) {
	key := day.Format("2006-01-02")

	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.cache[key]; ok {
		return st.sunrise, st.sunset, nil
	}

	rise, set := sunrise.SunriseSunset(c.latitude, c.longitude, day.Year(), day.Month(), day.Day())
	if rise.IsZero() || set.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s", ErrNoSunEvent, key)
	}
	st := sunTimes{sunrise: rise.In(day.Location()), sunset: set.In(day.Location())}
	// One day of history is enough; the gate only asks about today.
	if len(c.cache) > 2 {
		c.cache = make(map[string]sunTimes)
	}
	c.cache[key] = st

	c.logger.Info("Sun times updated",
		zap.String("day", key),
		zap.Time("sunrise", st.sunrise),
		zap.Time("sunset", st.sunset))
	return st.sunrise, st.sunset, nil
}

// Resolve turns a window edge into a time on day.
func (c *Calculator) Resolve(expr string, day time.Time) (time.Time, error) {
	text := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(expr), " ", ""))
	if text == "" {
		return time.Time{}, errors.New("empty time")
	}

	for _, event := range []string{EventSunrise, EventSunset} {
		if !strings.HasPrefix(text, event) {
			continue
		}
		offset, err := parseOffset(strings.TrimPrefix(text, event))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid offset in %q: %w", expr, err)
		}
		rise, set, err := c.SunTimes(day)
		if err != nil {
			return time.Time{}, err
		}
		base := rise
		if event == EventSunset {
			base = set
		}
		return base.Add(offset), nil
	}

	return ParseClock(text, day)
}

func parseOffset(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	minutes, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(minutes) * time.Minute, nil
}

// ParseClock parses "HH:MM" (seconds are ignored) as a time on day.
func ParseClock(s string, day time.Time) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return time.Time{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid minute in %q", s)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location()), nil
}

func timeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}

// InWindow reports whether now's time of day lies within [start, end].
// When end is earlier than start the window spans midnight. Both edges are
// inclusive.
func InWindow(now, start, end time.Time) bool {
	n, s, e := timeOfDay(now), timeOfDay(start), timeOfDay(end)
	if s <= e {
		return s <= n && n <= e
	}
	return n >= s || n <= e
}
