package risk

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"challenge-core/internal/challenge"
)

// RuleTradingWindow is reported for trades opened inside a blocked window.
const RuleTradingWindow = "trading_window"

// Policy is an extra rule evaluated after the built-in checks. Returned
// violations only need Rule, Value, Threshold, Severity and Message set.
type Policy interface {
	Name() string
	Check(in Input) []challenge.Violation
}

// Window is a recurring weekly period in which trading is not allowed.
// End is exclusive; "24:00" means end of day.
type Window struct {
	Name     string             `yaml:"name"`
	Days     []string           `yaml:"days"`
	Start    string             `yaml:"start"`
	End      string             `yaml:"end"`
	Severity challenge.Severity `yaml:"severity"`

	days       map[time.Weekday]bool
	start, end int // minutes since midnight
}

func (w *Window) compile() error {
	w.days = make(map[time.Weekday]bool, len(w.Days))
	for _, d := range w.Days {
		wd, ok := parseDay(d)
		if !ok {
			return errors.Errorf("window %q: unknown day %q", w.Name, d)
		}
		w.days[wd] = true
	}
	if len(w.days) == 0 {
		return errors.Errorf("window %q: no days", w.Name)
	}

	var err error
	if w.start, err = parseClock(w.Start, 0); err != nil {
		return errors.Wrapf(err, "window %q start", w.Name)
	}
	if w.end, err = parseClock(w.End, 24*60); err != nil {
		return errors.Wrapf(err, "window %q end", w.Name)
	}
	if w.end <= w.start {
		return errors.Errorf("window %q: end %s not after start %s", w.Name, w.End, w.Start)
	}

	switch w.Severity {
	case "":
		w.Severity = challenge.SeverityWarning
	case challenge.SeverityWarning, challenge.SeverityCritical:
	default:
		return errors.Errorf("window %q: unknown severity %q", w.Name, w.Severity)
	}
	return nil
}

func (w *Window) contains(t time.Time) bool {
	if !w.days[t.Weekday()] {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	return m >= w.start && m < w.end
}

// TradingWindowPolicy flags trades executed inside blocked windows since
// the previous cycle, one violation per window.
type TradingWindowPolicy struct {
	windows []Window
	loc     *time.Location
}

// NewTradingWindowPolicy validates the windows. A nil location means UTC.
func NewTradingWindowPolicy(windows []Window, loc *time.Location) (*TradingWindowPolicy, error) {
	if loc == nil {
		loc = time.UTC
	}
	ws := make([]Window, len(windows))
	copy(ws, windows)
	for i := range ws {
		if err := ws[i].compile(); err != nil {
			return nil, err
		}
	}
	return &TradingWindowPolicy{windows: ws, loc: loc}, nil
}

func (p *TradingWindowPolicy) Name() string { return RuleTradingWindow }

func (p *TradingWindowPolicy) Check(in Input) []challenge.Violation {
	var out []challenge.Violation
	for i := range p.windows {
		w := &p.windows[i]
		var n int
		for _, d := range in.Deals {
			if !d.IsTrade() || (!in.Since.IsZero() && !d.Time.After(in.Since)) {
				continue
			}
			if w.contains(d.Time.In(p.loc)) {
				n++
			}
		}
		if n == 0 {
			continue
		}
		out = append(out, challenge.Violation{
			Rule:      RuleTradingWindow,
			Value:     float64(n),
			Threshold: 0,
			Severity:  w.Severity,
			Message:   fmt.Sprintf("%d trades inside blocked window %s", n, w.Name),
		})
	}
	return out
}

// PolicyFile is the top-level YAML structure of the policy file.
type PolicyFile struct {
	Timezone       string   `yaml:"timezone"`
	TradingWindows []Window `yaml:"trading_windows"`
}

// LoadPolicies reads extra policies from a YAML file. An empty path yields
// no policies. The file's timezone, if set, overrides loc.
func LoadPolicies(path string, loc *time.Location) ([]Policy, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read policy file")
	}
	return ParsePolicies(data, loc)
}

// ParsePolicies is LoadPolicies on already-read YAML.
func ParsePolicies(data []byte, loc *time.Location) ([]Policy, error) {
	var file PolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parse policy file")
	}
	if file.Timezone != "" {
		l, err := time.LoadLocation(file.Timezone)
		if err != nil {
			return nil, errors.Wrapf(err, "policy timezone %q", file.Timezone)
		}
		loc = l
	}

	var policies []Policy
	if len(file.TradingWindows) > 0 {
		p, err := NewTradingWindowPolicy(file.TradingWindows, loc)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// parseDay accepts full or three-letter English weekday names.
func parseDay(s string) (time.Weekday, bool) {
	s = strings.TrimSpace(s)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		name := wd.String()
		if strings.EqualFold(s, name) || strings.EqualFold(s, name[:3]) {
			return wd, true
		}
	}
	return 0, false
}

// parseClock parses "HH:MM" into minutes since midnight; "24:00" is allowed.
func parseClock(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, errors.Errorf("invalid clock %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, errors.Errorf("invalid clock %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, errors.Errorf("invalid clock %q", s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, errors.Errorf("invalid clock %q", s)
	}
	return h*60 + m, nil
}
