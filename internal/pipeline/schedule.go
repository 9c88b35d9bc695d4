package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Schedule calls run at every time matching the 5-field cron expression
// ("minute hour day-of-month month day-of-week", UTC) until ctx is done. A
// failed run is logged and the schedule continues.
func Schedule(ctx context.Context, expr string, run func(context.Context) error, logger *slog.Logger) error {
	c, err := parseCron(expr)
	if err != nil {
		return fmt.Errorf("pipeline: cron %q: %w", expr, err)
	}
	logger = logger.With(slog.String("component", "scheduler"))

	for {
		next, ok := c.next(time.Now().UTC())
		if !ok {
			return fmt.Errorf("pipeline: cron %q never fires", expr)
		}
		logger.InfoContext(ctx, "waiting for next run", slog.Time("next_run", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := run(ctx); err != nil {
				logger.ErrorContext(ctx, "scheduled run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField matches any value when values is nil.
type cronField struct {
	values []int
}

func (f cronField) matches(v int) bool {
	return f.values == nil || slices.Contains(f.values, v)
}

// parseCronField accepts "*", "*/step", and comma lists of numbers.
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{}, nil
	}
	if step, ok := strings.CutPrefix(field, "*/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n <= 0 {
			return cronField{}, fmt.Errorf("bad step %q", field)
		}
		var vs []int
		for v := lo; v <= hi; v += n {
			vs = append(vs, v)
		}
		return cronField{values: vs}, nil
	}
	var vs []int
	for p := range strings.SplitSeq(field, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return cronField{}, fmt.Errorf("bad value %q: %w", p, err)
		}
		if v < lo || v > hi {
			return cronField{}, fmt.Errorf("value %d outside %d-%d", v, lo, hi)
		}
		vs = append(vs, v)
	}
	return cronField{values: vs}, nil
}

type cron struct {
	minute, hour, dom, month, dow cronField
}

func parseCron(expr string) (cron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cron{}, fmt.Errorf("want 5 fields, got %d", len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return cron{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		parsed[i] = cf
	}
	return cron{parsed[0], parsed[1], parsed[2], parsed[3], parsed[4]}, nil
}

func (c cron) matches(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dom.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dow.matches(int(t.Weekday()))
}

// next returns the first matching minute after t, searching one year ahead.
func (c cron) next(after time.Time) (time.Time, bool) {
	limit := after.Add(366 * 24 * time.Hour)
	for t := after.Truncate(time.Minute).Add(time.Minute); t.Before(limit); t = t.Add(time.Minute) {
		if c.matches(t) {
			return t, true
		}
	}
	return time.Time{}, false
}
