package service

import (
	"testing"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/stretchr/testify/assert"
)

var openSettings = model.EffectiveSettings{
	BuyThreshold:  20,
	SellThreshold: 20,
	EnableBuy:     true,
	EnableSell:    true,
}

func TestRebalance(t *testing.T) {
	qty, usd := Rebalance(d("1"), d("50"), 100, d("0.001"))
	assert.Equal(t, "1", qty.String())
	assert.Equal(t, "50", usd.String())

	qty, usd = Rebalance(d("3"), d("50"), 100, d("0.001"))
	assert.Equal(t, "-1", qty.String())
	assert.Equal(t, "-50", usd.String())

	// rounds to the step
	qty, _ = Rebalance(d("0"), d("30000"), 100, d("0.001"))
	assert.Equal(t, "0.003", qty.String())

	qty, usd = Rebalance(d("1"), d("0"), 100, d("0.001"))
	assert.True(t, qty.IsZero())
	assert.True(t, usd.IsZero())
}

func TestDecide(t *testing.T) {
	base := DecisionInput{Holding: d("1"), Price: d("50"), Target: 100, Step: d("0.001"), Settings: openSettings}

	cases := []struct {
		name   string
		mutate func(*DecisionInput)
		want   Outcome
	}{
		{"buy above threshold", func(in *DecisionInput) {}, OutcomeBuy},
		{"below buy threshold", func(in *DecisionInput) { in.Target = 60 }, OutcomeHold},
		{"exactly at threshold holds", func(in *DecisionInput) { in.Target = 70 }, OutcomeHold},
		{"sell above threshold", func(in *DecisionInput) { in.Holding = d("3") }, OutcomeSell},
		{"buy disabled", func(in *DecisionInput) { in.Settings.EnableBuy = false }, OutcomeDisabled},
		{"sell disabled", func(in *DecisionInput) { in.Holding = d("3"); in.Settings.EnableSell = false }, OutcomeDisabled},
		{"falling price holds buy", func(in *DecisionInput) { in.Velocity = -0.2 }, OutcomeVelocity},
		{"mild fall still buys", func(in *DecisionInput) { in.Velocity = -0.05 }, OutcomeBuy},
		{"rising price holds sell", func(in *DecisionInput) { in.Holding = d("3"); in.Velocity = 0.2 }, OutcomeVelocity},
		{"mild rise still sells", func(in *DecisionInput) { in.Holding = d("3"); in.Velocity = 0.05 }, OutcomeSell},
		{"rising price buys", func(in *DecisionInput) { in.Velocity = 0.5 }, OutcomeBuy},
		{"force bypasses gates", func(in *DecisionInput) {
			in.Target = 55
			in.Force = true
			in.Settings.EnableBuy = false
			in.Velocity = -0.9
		}, OutcomeBuy},
		{"on target", func(in *DecisionInput) { in.Target = 50 }, OutcomeHold},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mutate(&in)
			assert.Equal(t, tc.want, Decide(in).Outcome)
		})
	}
}

func TestDecide_ReportsDelta(t *testing.T) {
	got := Decide(DecisionInput{Holding: d("1"), Price: d("50"), Target: 60, Step: d("0.001"), Settings: openSettings})
	assert.Equal(t, OutcomeHold, got.Outcome)
	assert.Equal(t, "10", got.DeltaUSD.String())
	assert.Equal(t, "0.2", got.Quantity.String())
}

func TestCheckMinimums(t *testing.T) {
	f := model.LotFilter{StepSize: d("0.001"), MinQty: d("0.01"), MinNotional: d("10")}

	assert.Equal(t, OutcomeQtyTooSmall, CheckMinimums(d("0.005"), d("50000"), f))
	assert.Equal(t, OutcomeQtyTooSmall, CheckMinimums(d("0"), d("50000"), f))
	assert.Equal(t, OutcomeNotionalTooSmall, CheckMinimums(d("0.1"), d("50"), f))
	assert.Equal(t, OutcomeNotionalTooSmall, CheckMinimums(d("-0.1"), d("50"), f))
	assert.Equal(t, Outcome(""), CheckMinimums(d("-0.2"), d("50"), f))
}

func TestVelocityHelpers(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-1))
	assert.Equal(t, 1.0, clamp01(3))
	assert.Equal(t, 0.25, clamp01(0.25))
	assert.InDelta(t, 0.5, lerp(0, 1, 0.5), 1e-12)
	assert.InDelta(t, 2.0, lerp(2, 10, 0), 1e-12)
}
