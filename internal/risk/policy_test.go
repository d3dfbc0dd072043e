package risk

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"challenge-core/internal/challenge"
)

const policyYAML = `
timezone: UTC
trading_windows:
  - name: weekend
    days: [saturday, Sun]
  - name: nfp
    days: [friday]
    start: "12:00"
    end: "14:00"
    severity: critical
`

func trade(t time.Time) challenge.Deal {
	return challenge.Deal{Time: t, Profit: 10, Side: challenge.SideSell}
}

func TestParsePolicies(t *testing.T) {
	policies, err := ParsePolicies([]byte(policyYAML), nil)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, RuleTradingWindow, policies[0].Name())

	// 2026-03-06 is a Friday, 2026-03-07 a Saturday.
	deals := []challenge.Deal{
		trade(time.Date(2026, 3, 6, 11, 59, 0, 0, time.UTC)),
		trade(time.Date(2026, 3, 6, 12, 30, 0, 0, time.UTC)),
		trade(time.Date(2026, 3, 6, 14, 0, 0, 0, time.UTC)),
		trade(time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)),
		trade(time.Date(2026, 3, 8, 23, 59, 0, 0, time.UTC)),
		{Time: time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC), Profit: 500, Side: challenge.SideBalance},
	}

	got := policies[0].Check(Input{Deals: deals})
	require.Len(t, got, 2)
	assert.Equal(t, 2.0, got[0].Value)
	assert.Equal(t, challenge.SeverityWarning, got[0].Severity)
	assert.Equal(t, "2 trades inside blocked window weekend", got[0].Message)
	assert.Equal(t, 1.0, got[1].Value)
	assert.Equal(t, challenge.SeverityCritical, got[1].Severity)
}

func TestTradingWindowOnlyChecksNewDeals(t *testing.T) {
	p, err := NewTradingWindowPolicy([]Window{{Name: "weekend", Days: []string{"sat", "sun"}}}, time.UTC)
	require.NoError(t, err)

	since := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	deals := []challenge.Deal{
		trade(since.Add(-time.Hour)),
		trade(since),
		trade(since.Add(time.Hour)),
	}
	got := p.Check(Input{Deals: deals, Since: since})
	require.Len(t, got, 1)
	assert.Equal(t, 1.0, got[0].Value)
}

func TestTradingWindowUsesLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	p, err := NewTradingWindowPolicy([]Window{{Name: "weekend", Days: []string{"saturday"}}}, tokyo)
	require.NoError(t, err)

	// Friday 20:00 UTC is Saturday 05:00 in Tokyo.
	got := p.Check(Input{Deals: []challenge.Deal{trade(time.Date(2026, 3, 6, 20, 0, 0, 0, time.UTC))}})
	assert.Len(t, got, 1)
}

func TestNewTradingWindowPolicyRejectsBadWindows(t *testing.T) {
	bad := []Window{
		{Name: "no days"},
		{Name: "bad day", Days: []string{"someday"}},
		{Name: "bad clock", Days: []string{"mon"}, Start: "25:00"},
		{Name: "inverted", Days: []string{"mon"}, Start: "10:00", End: "09:00"},
		{Name: "bad severity", Days: []string{"mon"}, Severity: "fatal"},
	}
	for _, w := range bad {
		t.Run(w.Name, func(t *testing.T) {
			_, err := NewTradingWindowPolicy([]Window{w}, nil)
			assert.Error(t, err)
		})
	}
}

func TestLoadPolicies(t *testing.T) {
	policies, err := LoadPolicies("", time.UTC)
	require.NoError(t, err)
	assert.Empty(t, policies)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(policyYAML), 0o600))
	policies, err = LoadPolicies(path, time.UTC)
	require.NoError(t, err)
	assert.Len(t, policies, 1)

	_, err = LoadPolicies(filepath.Join(t.TempDir(), "missing.yaml"), time.UTC)
	assert.Error(t, err)
}

func TestParseClock(t *testing.T) {
	m, err := parseClock("24:00", 0)
	require.NoError(t, err)
	assert.Equal(t, 1440, m)

	m, err = parseClock("", 30)
	require.NoError(t, err)
	assert.Equal(t, 30, m)

	for _, s := range []string{"9", "24:01", "10:60", "ab:cd"} {
		_, err := parseClock(s, 0)
		assert.Error(t, err, s)
	}
}
