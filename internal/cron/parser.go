// Package cron parses the schedule that drives rehydration sweeps.
package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule reports the next sweep time after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Parse accepts a five-field expression, a descriptor such as "@hourly" or
// "@every 5m", or a bare duration like "5m", read as "@every 5m". Field
// expressions are evaluated in timezone, UTC when empty.
func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return nil, errors.New("parse schedule: empty expression")
	}

	if d, err := time.ParseDuration(expr); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("parse schedule: interval %q must be positive", expr)
		}
		return every{interval: d}, nil
	}

	sched, err := p.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return zoned{sched: sched, loc: loc}, nil
}

type zoned struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s zoned) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}

// every keeps sub-second precision, which "@every" rounds away.
type every struct {
	interval time.Duration
}

func (s every) Next(after time.Time) time.Time {
	return after.Add(s.interval)
}
