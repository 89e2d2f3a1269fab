package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// cronField is one parsed field of a five-field expression. Supported
// forms are a literal value, "*", and "*/step".
type cronField struct {
	any   bool
	step  int
	value int
}

func (f cronField) matches(v int) bool {
	switch {
	case f.step > 0:
		return v%f.step == 0
	case f.any:
		return true
	default:
		return v == f.value
	}
}

// Schedule is a parsed cron expression with minute granularity:
// minute, hour, day-of-month, month, day-of-week.
type Schedule struct {
	minute, hour, dom, month, dow cronField
}

func parseField(raw string, min, max int) (cronField, error) {
	if raw == "*" {
		return cronField{any: true}, nil
	}
	if rest, ok := strings.CutPrefix(raw, "*/"); ok {
		step, err := strconv.Atoi(rest)
		if err != nil || step < 1 || step > max {
			return cronField{}, errors.Newf(errors.CodeValidation, "invalid cron step %q", raw)
		}
		return cronField{any: true, step: step}, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < min || value > max {
		return cronField{}, errors.Newf(errors.CodeValidation, "cron value %q out of range %d..%d", raw, min, max)
	}
	return cronField{value: value}, nil
}

// ParseCron parses a five-field cron expression.
func ParseCron(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, errors.Newf(errors.CodeValidation, "cron expression %q must have five fields", expr)
	}

	bounds := []struct{ min, max int }{
		{0, 59}, // minute
		{0, 23}, // hour
		{1, 31}, // day of month
		{1, 12}, // month
		{0, 6},  // day of week
	}
	parsed := make([]cronField, 5)
	for i, raw := range fields {
		field, err := parseField(raw, bounds[i].min, bounds[i].max)
		if err != nil {
			return nil, err
		}
		parsed[i] = field
	}
	return &Schedule{
		minute: parsed[0],
		hour:   parsed[1],
		dom:    parsed[2],
		month:  parsed[3],
		dow:    parsed[4],
	}, nil
}

func (s *Schedule) matches(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dom.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.dow.matches(int(t.Weekday()))
}

// Next returns the first matching instant strictly after base, scanning
// minute by minute for up to four years.
func (s *Schedule) Next(base time.Time) time.Time {
	t := base.Truncate(time.Minute).Add(time.Minute)
	limit := base.AddDate(4, 0, 0)
	for ; t.Before(limit); t = t.Add(time.Minute) {
		if s.matches(t) {
			return t
		}
	}
	return time.Time{}
}
