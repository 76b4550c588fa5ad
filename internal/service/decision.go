package service

import (
	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/lot"
	"github.com/shopspring/decimal"
)

// HysteresisBound is the velocity magnitude beyond which trading against
// the price move is held back: no buys below -HysteresisBound, no sells
// above it.
const HysteresisBound = 0.1

type Outcome string

const (
	OutcomeHold             Outcome = "hold"
	OutcomeBuy              Outcome = "buy"
	OutcomeSell             Outcome = "sell"
	OutcomeDisabled         Outcome = "disabled"
	OutcomeVelocity         Outcome = "velocity_hold"
	OutcomeQtyTooSmall      Outcome = "quantity_too_small"
	OutcomeNotionalTooSmall Outcome = "notional_too_small"
)

type DecisionInput struct {
	// Holding is free balance, plus staked balance for staking assets.
	Holding  decimal.Decimal
	Price    decimal.Decimal
	Target   float64
	Step     decimal.Decimal
	Velocity float64
	Force    bool
	Settings model.EffectiveSettings
}

type Decision struct {
	Outcome  Outcome
	Quantity decimal.Decimal // signed, positive buys
	DeltaUSD decimal.Decimal
}

// Rebalance returns the step-rounded quantity that moves holding to target
// and its USD value.
func Rebalance(holding, price decimal.Decimal, target float64, step decimal.Decimal) (qty, deltaUSD decimal.Decimal) {
	if price.Sign() <= 0 {
		return decimal.Zero, decimal.Zero
	}
	delta := decimal.NewFromFloat(target).Sub(holding.Mul(price))
	qty = lot.Round(delta.Div(price), step)
	return qty, qty.Mul(price)
}

// Decide gates a rebalance on force, thresholds, enable flags and velocity.
// Exchange minimums and the daily loss cap are checked afterwards.
func Decide(in DecisionInput) Decision {
	qty, deltaUSD := Rebalance(in.Holding, in.Price, in.Target, in.Step)
	d := Decision{Outcome: OutcomeHold, Quantity: qty, DeltaUSD: deltaUSD}
	if qty.IsZero() {
		return d
	}
	buy := qty.Sign() > 0

	if in.Force {
		d.Outcome = sideOutcome(buy)
		return d
	}

	if buy {
		if deltaUSD.InexactFloat64() <= in.Settings.BuyThreshold {
			return d
		}
		if !in.Settings.EnableBuy {
			d.Outcome = OutcomeDisabled
			return d
		}
		if in.Velocity <= -HysteresisBound {
			d.Outcome = OutcomeVelocity
			return d
		}
	} else {
		if deltaUSD.Neg().InexactFloat64() <= in.Settings.SellThreshold {
			return d
		}
		if !in.Settings.EnableSell {
			d.Outcome = OutcomeDisabled
			return d
		}
		if in.Velocity >= HysteresisBound {
			d.Outcome = OutcomeVelocity
			return d
		}
	}
	d.Outcome = sideOutcome(buy)
	return d
}

func sideOutcome(buy bool) Outcome {
	if buy {
		return OutcomeBuy
	}
	return OutcomeSell
}

// CheckMinimums rejects sizes the exchange would refuse. It returns "" when
// qty passes both the lot minimum and the notional minimum.
func CheckMinimums(qty, price decimal.Decimal, f model.LotFilter) Outcome {
	abs := qty.Abs()
	if abs.IsZero() || abs.LessThan(f.MinQty) {
		return OutcomeQtyTooSmall
	}
	if abs.Mul(price).LessThan(f.MinNotional) {
		return OutcomeNotionalTooSmall
	}
	return ""
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
