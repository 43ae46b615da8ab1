package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Spec is a schedule normalized to a robfig/cron expression.
//
// Accepted forms:
//   - cron: "*/5 * * * *", "0 30 * * * *", "@hourly", "@every 55m"
//   - Go duration: "55m", "2h30m" (becomes "@every ...")
//   - HH:MM interval: "02:30" is every 2h30m
//
// A "cron:" or "every:" prefix forces the interpretation.
type Spec struct {
	Cron   string
	Every  time.Duration
	Source string // cron | duration | hhmm
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

func ParseSpec(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Spec{}, fmt.Errorf("cron expression required after 'cron:'")
		}
		return Spec{Cron: expr, Source: "cron"}, nil
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return Spec{Cron: s, Source: "cron"}, nil
	}
	sp, err := parseInterval(s)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or a duration like '55m')", raw)
	}
	return sp, nil
}

func parseInterval(v string) (Spec, error) {
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Spec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return Spec{}, fmt.Errorf("interval must be > 0")
		}
		return Spec{Cron: "@every " + d.String(), Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid interval %q", v)
	}
	if d <= 0 {
		return Spec{}, fmt.Errorf("interval must be > 0")
	}
	return Spec{Cron: "@every " + d.String(), Every: d, Source: "duration"}, nil
}
