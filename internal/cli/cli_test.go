package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"challenge-core/internal/challenge"
	"challenge-core/internal/monitor"
)

const catalog = `
challenges:
  - id: phase-1
    name: Phase 1
    max_daily_loss_pct: 5
    max_total_loss_pct: 10
    min_trading_days: 4
accounts:
  - id: acc-1
    user_id: alice
    challenge_id: phase-1
    initial_balance: 10000
    profit_target: 11000
`

func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(dir, "core.db"))
	t.Setenv("PROVIDER", "sim")
	t.Setenv("SIM_WALK_STEP", "")
	t.Setenv("POLICY_FILE", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("JWT_SECRET", "cli-secret")

	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateSeedThenEvaluate(t *testing.T) {
	catalogPath := testEnv(t)

	_, err := run(t, "migrate", "--seed", catalogPath)
	require.NoError(t, err)

	out, err := run(t, "evaluate", "acc-1")
	require.NoError(t, err)

	var p monitor.Preview
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "acc-1", p.Account.ID)
	assert.Equal(t, 10000.0, p.Metrics.Balance)
	assert.False(t, p.Metrics.TargetReached)
	require.Len(t, p.Violations, 1)
	assert.Equal(t, "min_trading_days", p.Violations[0].Rule)
	assert.Nil(t, p.Transition)
}

func TestEvaluateUnknownAccount(t *testing.T) {
	testEnv(t)
	_, err := run(t, "migrate")
	require.NoError(t, err)

	_, err = run(t, "evaluate", "nope")
	assert.ErrorIs(t, err, challenge.ErrNotFound)
}

func TestTokenCommand(t *testing.T) {
	testEnv(t)
	out, err := run(t, "token", "alice", "--role", "admin")
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(strings.TrimSpace(out), ".")))

	_, err = run(t, "token")
	assert.Error(t, err)
}

func TestBadConfigFailsFast(t *testing.T) {
	testEnv(t)
	t.Setenv("PROVIDER", "carrier-pigeon")
	_, err := run(t, "migrate")
	assert.ErrorContains(t, err, "PROVIDER")
}

func TestCheckReportsEachService(t *testing.T) {
	catalogPath := testEnv(t)
	_, err := run(t, "migrate", "--seed", catalogPath)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","version":"test","active_monitors":2}`))
	}))
	defer srv.Close()

	out, err := run(t, "check", "--json", "--account", "acc-1", "--url", srv.URL)
	require.NoError(t, err)

	var report checkReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, statusHealthy, report.Overall)
	require.Len(t, report.Services, 4)
	assert.Contains(t, report.Services[2].Message, "balance=10000.00")
	assert.Contains(t, report.Services[3].Message, "2 active monitor(s)")
}

func TestCheckUnreachableServerIsUnhealthy(t *testing.T) {
	testEnv(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out, err := run(t, "check", "--url", url)
	assert.ErrorIs(t, err, errUnhealthy)
	assert.Contains(t, out, "WARN provider")
	assert.Contains(t, out, "overall: UNHEALTHY")
}
