package model

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrISOFormat      = errors.New("invalid ISO8601 duration")
	ErrEmptySchedule  = errors.New("both cron and duration are empty")
	ErrScheduleFields = errors.New("cron and duration are mutually exclusive")
)

// Interval validates the schedule and returns the time between two
// consecutive triggers.
func (s Schedule) Interval() (time.Duration, error) {
	switch {
	case s.Cron != "" && s.Duration != "":
		return 0, ErrScheduleFields
	case s.Cron != "":
		return ParseCron(s.Cron)
	case s.Duration != "":
		d, err := ParseISODuration(s.Duration)
		if err != nil {
			return 0, err
		}
		if d <= 0 {
			return 0, fmt.Errorf("duration must be positive, got %s", d)
		}
		return d, nil
	default:
		return 0, ErrEmptySchedule
	}
}

var cron5 = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a 5 field cron expression or a descriptor like @hourly
// or @every 5m and returns the interval between its next two activations.
func ParseCron(expr string) (time.Duration, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return 0, errors.New("empty cron expression")
	}
	schedule, err := cron5.Parse(e)
	if err != nil {
		return 0, err
	}
	next := schedule.Next(time.Now())
	return schedule.Next(next).Sub(next), nil
}

var isoDurationRx = regexp.MustCompile(`^P(?:(?P<day>\d+)D)?(?:T(?:(?P<hour>\d+)H)?(?:(?P<minute>\d+)M)?(?:(?P<second>\d+(?:[.,]\d{1,9})?)S)?)?$`)

var isoUnits = map[string]time.Duration{
	"day":    24 * time.Hour,
	"hour":   time.Hour,
	"minute": time.Minute,
	"second": time.Second,
}

// ParseISODuration parses the day and time part of an ISO 8601 duration,
// e.g. PT30S, PT1M30S, P1DT12H. Years, months and weeks are not supported.
func ParseISODuration(dur string) (time.Duration, error) {
	match := isoDurationRx.FindStringSubmatch(dur)
	if match == nil || strings.HasSuffix(dur, "P") || strings.HasSuffix(dur, "T") {
		return 0, ErrISOFormat
	}

	var ret time.Duration
	for i, name := range isoDurationRx.SubexpNames() {
		if name == "" || match[i] == "" {
			continue
		}
		n, err := isoNumber(match[i])
		if err != nil {
			return 0, err
		}
		ret += time.Duration(n * float64(isoUnits[name]))
	}
	return ret, nil
}

func isoNumber(s string) (float64, error) {
	whole, frac, _ := strings.Cut(strings.Replace(s, ",", ".", 1), ".")
	n, err := strconv.Atoi(whole)
	if err != nil {
		return 0, fmt.Errorf("parsing number: %w", err)
	}
	ret := float64(n)
	if frac != "" {
		f, err := strconv.Atoi(frac)
		if err != nil {
			return 0, fmt.Errorf("parsing fraction: %w", err)
		}
		ret += float64(f) / math.Pow10(len(frac))
	}
	return ret, nil
}
