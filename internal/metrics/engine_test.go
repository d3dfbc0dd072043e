package metrics

import (
	"math/rand"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"challenge-core/internal/challenge"
)

func deal(t time.Time, profit float64) challenge.Deal {
	return challenge.Deal{Time: t, Profit: profit, Side: challenge.SideBuy}
}

func TestComputePassScenario(t *testing.T) {
	now := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	in := Input{
		Account: challenge.Account{ID: "acc-pass", InitialBalance: 10000, ProfitTarget: 11000},
		Info:    challenge.AccountInfo{Balance: 11200, Equity: 11200},
		Deals: []challenge.Deal{
			deal(yesterday.Add(-2*time.Hour), 300),
			deal(yesterday, 200),
			deal(now.Add(-3*time.Hour), -250),
			deal(now.Add(-2*time.Hour), 950),
		},
		Now: now,
	}

	rec := Compute(in)
	assert.Equal(t, "acc-pass", rec.AccountID)
	assert.InDelta(t, 0, rec.DailyDrawdownPct, 1e-9)
	assert.True(t, rec.TargetReached)
	assert.InDelta(t, 1200, rec.Profit, 1e-9)
	assert.Equal(t, 2, rec.TradingDays)
	assert.Equal(t, 4, rec.TotalTrades)
	assert.Equal(t, now, rec.Timestamp)
}

func TestComputeFailScenarioDailyDrawdown(t *testing.T) {
	now := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	in := Input{
		Account: challenge.Account{ID: "acc-fail", InitialBalance: 10000, ProfitTarget: 11000},
		Info:    challenge.AccountInfo{Balance: 9600, Equity: 9600},
		Deals: []challenge.Deal{
			deal(now.Add(-time.Hour), -400),
		},
		Now: now,
	}

	rec := Compute(in)
	assert.InDelta(t, 4.0, rec.DailyDrawdownPct, 1e-9)
	assert.InDelta(t, 4.0, rec.MaxDrawdownPct, 1e-9)
	assert.False(t, rec.TargetReached)
}

func TestDailyDrawdownUsesEquityAgainstStartOfDay(t *testing.T) {
	now := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	// no realized P&L today, open positions floating -400
	dd := DailyDrawdown(10000, 9600, nil, now, time.UTC)
	assert.InDelta(t, 4.0, dd, 1e-9)
}

func TestDailyDrawdownNeverNegative(t *testing.T) {
	now := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		var deals []challenge.Deal
		n := r.Intn(10)
		for j := 0; j < n; j++ {
			deals = append(deals, deal(now.Add(-time.Duration(r.Intn(48))*time.Hour), r.Float64()*2000-1000))
		}
		balance := 5000 + r.Float64()*10000
		equity := balance + r.Float64()*2000 - 1000
		assert.GreaterOrEqual(t, DailyDrawdown(balance, equity, deals, now, time.UTC), 0.0)
	}
}

func TestDailyDrawdownRespectsTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 02:00 UTC on the 5th is still the 4th in New York.
	now := time.Date(2026, 3, 5, 2, 0, 0, 0, time.UTC)
	deals := []challenge.Deal{deal(time.Date(2026, 3, 4, 20, 0, 0, 0, time.UTC), -300)}

	// In UTC the loss happened yesterday: start 9700, equity 9700.
	assert.InDelta(t, 0, DailyDrawdown(9700, 9700, deals, now, time.UTC), 1e-9)
	// In New York it happened today: start 10000, equity 9700.
	assert.InDelta(t, 3.0, DailyDrawdown(9700, 9700, deals, now, ny), 1e-9)
}

func TestDailyDrawdownNonPositiveStart(t *testing.T) {
	now := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	deals := []challenge.Deal{deal(now.Add(-time.Hour), 500)}
	assert.Equal(t, 100.0, DailyDrawdown(500, 0, deals, now, time.UTC))
}

func TestMaxDrawdown(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	deals := []challenge.Deal{
		deal(base, 1000),                   // 11000 peak
		deal(base.Add(time.Hour), -2200),   // 8800 -> 20%
		deal(base.Add(2*time.Hour), 3200),  // 12000 new peak
		deal(base.Add(3*time.Hour), -1200), // 10800 -> 10%
	}
	assert.InDelta(t, 20.0, MaxDrawdown(10000, deals), 1e-9)
	assert.Equal(t, 0.0, MaxDrawdown(10000, nil))
	assert.Equal(t, 0.0, MaxDrawdown(0, deals))
}

func TestMaxDrawdownOrderIndependent(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 100; i++ {
		n := 1 + r.Intn(30)
		deals := make([]challenge.Deal, n)
		for j := range deals {
			deals[j] = deal(base.Add(time.Duration(j)*time.Minute), r.Float64()*800-400)
		}
		want := MaxDrawdown(10000, deals)

		shuffled := make([]challenge.Deal, n)
		copy(shuffled, deals)
		r.Shuffle(n, func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		assert.InDelta(t, want, MaxDrawdown(10000, shuffled), 1e-9)
	}
}

func TestTradingDaysCountsLocalDates(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	deals := []challenge.Deal{
		deal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), 10),
		deal(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), 10),
		deal(time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC), 10), // 01:00 on the 2nd in Tokyo
		deal(time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), 10),
	}
	assert.Equal(t, 2, TradingDays(deals, time.UTC))
	assert.Equal(t, 3, TradingDays(deals, tokyo))
	assert.Equal(t, 0, TradingDays(nil, time.UTC))
}

func TestConsistencyScore(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 3, d, 12, 0, 0, 0, time.UTC) }

	t.Run("fewer than five deals is zero", func(t *testing.T) {
		deals := []challenge.Deal{deal(day(1), 100), deal(day(2), -900), deal(day(3), 5000)}
		assert.Equal(t, 0.0, ConsistencyScore(deals, time.UTC))
	})

	t.Run("identical days score 100", func(t *testing.T) {
		var deals []challenge.Deal
		for d := 1; d <= 5; d++ {
			deals = append(deals, deal(day(d), 200))
		}
		assert.InDelta(t, 100.0, ConsistencyScore(deals, time.UTC), 1e-9)
	})

	t.Run("variance is penalized", func(t *testing.T) {
		// per-day profit 100, 300 -> mean 200, population std 100 -> 50
		deals := []challenge.Deal{
			deal(day(1), 50), deal(day(1), 50),
			deal(day(2), 100), deal(day(2), 100), deal(day(2), 100),
		}
		assert.InDelta(t, 50.0, ConsistencyScore(deals, time.UTC), 1e-9)
	})

	t.Run("zero mean is zero", func(t *testing.T) {
		deals := []challenge.Deal{
			deal(day(1), 100), deal(day(2), -100), deal(day(3), 100), deal(day(4), -100), deal(day(5), 0),
		}
		assert.Equal(t, 0.0, ConsistencyScore(deals, time.UTC))
	})
}

func TestConsistencyScoreAlwaysInRange(t *testing.T) {
	r := rand.New(rand.NewSource(99))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 500; i++ {
		var deals []challenge.Deal
		n := r.Intn(40)
		for j := 0; j < n; j++ {
			deals = append(deals, deal(base.Add(time.Duration(r.Intn(30*24))*time.Hour), r.Float64()*1000-500))
		}
		score := ConsistencyScore(deals, time.UTC)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 100.0)
		if len(deals) < MinConsistencySample {
			assert.Equal(t, 0.0, score)
		}
	}
}

func TestComputeIgnoresBalanceDealsAndSumsPositions(t *testing.T) {
	now := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	in := Input{
		Account: challenge.Account{ID: "acc", InitialBalance: 10000, ProfitTarget: 11000},
		Info:    challenge.AccountInfo{Balance: 10100, Equity: 10050, MarginLevel: 850},
		Positions: []challenge.Position{
			{ID: "p1", Profit: -80},
			{ID: "p2", Profit: 30},
		},
		Deals: []challenge.Deal{
			{Time: now.AddDate(0, 0, -3), Profit: 10000, Side: challenge.SideBalance},
			deal(now.Add(-time.Hour), 100),
		},
		Now: now,
	}

	rec := Compute(in)
	assert.Equal(t, 1, rec.TotalTrades)
	assert.Equal(t, 1, rec.TradingDays)
	assert.InDelta(t, -50, rec.UnrealizedProfit, 1e-9)
	assert.InDelta(t, 850, rec.MarginLevel, 1e-9)
	// start of day 10000, equity 10050
	assert.InDelta(t, 0, rec.DailyDrawdownPct, 1e-9)
}
