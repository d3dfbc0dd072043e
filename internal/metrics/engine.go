// Package metrics derives challenge metrics from an account snapshot and its
// deal history. Everything here is a pure function of its inputs.
package metrics

import (
	"math"
	"sort"
	"time"

	"challenge-core/internal/challenge"
)

// MinConsistencySample is the number of trade deals below which the
// consistency score is 0.
const MinConsistencySample = 5

// Input is one snapshot of an account as seen by a poll cycle.
type Input struct {
	Account   challenge.Account
	Info      challenge.AccountInfo
	Positions []challenge.Position
	Deals     []challenge.Deal
	Now       time.Time
	Location  *time.Location // calendar used for "today" and trading days; nil = UTC
}

// Compute builds the metrics record for one cycle.
func Compute(in Input) challenge.MetricsRecord {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	trades := tradeDeals(in.Deals)

	var unrealized float64
	for _, p := range in.Positions {
		unrealized += p.Profit
	}

	return challenge.MetricsRecord{
		AccountID:        in.Account.ID,
		Balance:          in.Info.Balance,
		Equity:           in.Info.Equity,
		Profit:           in.Info.Balance - in.Account.InitialBalance,
		UnrealizedProfit: unrealized,
		MarginLevel:      in.Info.MarginLevel,
		DailyDrawdownPct: DailyDrawdown(in.Info.Balance, in.Info.Equity, trades, in.Now, loc),
		MaxDrawdownPct:   MaxDrawdown(in.Account.InitialBalance, trades),
		TradingDays:      TradingDays(trades, loc),
		ConsistencyScore: ConsistencyScore(trades, loc),
		TargetReached:    in.Info.Balance >= in.Account.ProfitTarget,
		TotalTrades:      len(trades),
		Timestamp:        in.Now,
	}
}

// DailyDrawdown is the percentage the current equity sits below today's
// starting balance. Today's start is the current balance minus the profit
// realized since local midnight. The result is never negative.
func DailyDrawdown(balance, equity float64, deals []challenge.Deal, now time.Time, loc *time.Location) float64 {
	midnight := startOfDay(now, loc)

	var todayPnL float64
	for _, d := range deals {
		if !d.Time.Before(midnight) {
			todayPnL += d.Profit
		}
	}

	start := balance - todayPnL
	if start <= 0 {
		// nothing left to lose from
		return 100
	}
	return math.Max(0, (start-equity)/start*100)
}

// MaxDrawdown replays the deals chronologically from the initial balance and
// returns the deepest peak-to-trough decline in percent.
func MaxDrawdown(initialBalance float64, deals []challenge.Deal) float64 {
	if initialBalance <= 0 {
		return 0
	}
	sorted := make([]challenge.Deal, len(deals))
	copy(sorted, deals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	running, peak := initialBalance, initialBalance
	var maxDD float64
	for _, d := range sorted {
		running += d.Profit
		if running > peak {
			peak = running
		}
		if dd := (peak - running) / peak * 100; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// TradingDays counts distinct local calendar dates with at least one deal.
func TradingDays(deals []challenge.Deal, loc *time.Location) int {
	days := make(map[string]struct{})
	for _, d := range deals {
		days[dateKey(d.Time, loc)] = struct{}{}
	}
	return len(days)
}

// ConsistencyScore rewards steady daily profit: 100 minus the coefficient of
// variation of per-day profit (in percent), clamped to [0, 100]. Fewer than
// MinConsistencySample deals score 0, as does a zero mean.
func ConsistencyScore(deals []challenge.Deal, loc *time.Location) float64 {
	if len(deals) < MinConsistencySample {
		return 0
	}

	perDay := make(map[string]float64)
	for _, d := range deals {
		perDay[dateKey(d.Time, loc)] += d.Profit
	}

	var sum float64
	for _, p := range perDay {
		sum += p
	}
	mean := sum / float64(len(perDay))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, p := range perDay {
		variance += (p - mean) * (p - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(perDay)))

	return clamp(100-(stdDev/math.Abs(mean)*100), 0, 100)
}

func tradeDeals(deals []challenge.Deal) []challenge.Deal {
	out := make([]challenge.Deal, 0, len(deals))
	for _, d := range deals {
		if d.IsTrade() {
			out = append(out, d)
		}
	}
	return out
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

func dateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}
