package model

// Globals are the defaults every asset falls back to.
type Globals struct {
	BuyThreshold  float64 `json:"buyThreshold" mapstructure:"buy_threshold"`
	SellThreshold float64 `json:"sellThreshold" mapstructure:"sell_threshold"`
	MaxDailyLoss  float64 `json:"maxDailyLoss" mapstructure:"max_daily_loss"`
	InterpSpeed   float64 `json:"interpSpeed" mapstructure:"interp_speed"`
	EnableBuy     bool    `json:"enableBuy" mapstructure:"enable_buy"`
	EnableSell    bool    `json:"enableSell" mapstructure:"enable_sell"`
	QuoteCurrency string  `json:"quoteCurrency" mapstructure:"quote_currency"`
	StakeQuote    bool    `json:"stakeQuote" mapstructure:"stake_quote"`
}

// AssetOverrides replace globals for one symbol. Nil means inherit.
type AssetOverrides struct {
	BuyThreshold  *float64 `json:"buyThreshold,omitempty"`
	SellThreshold *float64 `json:"sellThreshold,omitempty"`
	MaxDailyLoss  *float64 `json:"maxDailyLoss,omitempty"`
	InterpSpeed   *float64 `json:"interpSpeed,omitempty"`
	EnableBuy     *bool    `json:"enableBuy,omitempty"`
	EnableSell    *bool    `json:"enableSell,omitempty"`
	Staking       *bool    `json:"staking,omitempty"`
}

// EffectiveSettings is the resolved view the engine trades on.
type EffectiveSettings struct {
	BuyThreshold  float64 `json:"buyThreshold"`
	SellThreshold float64 `json:"sellThreshold"`
	MaxDailyLoss  float64 `json:"maxDailyLoss"`
	InterpSpeed   float64 `json:"interpSpeed"`
	EnableBuy     bool    `json:"enableBuy"`
	EnableSell    bool    `json:"enableSell"`
	Staking       bool    `json:"staking"`
}

// Resolve merges o over g. Enable flags must be set both globally and per
// asset; an asset without an override is enabled.
func (o AssetOverrides) Resolve(g Globals) EffectiveSettings {
	e := EffectiveSettings{
		BuyThreshold:  g.BuyThreshold,
		SellThreshold: g.SellThreshold,
		MaxDailyLoss:  g.MaxDailyLoss,
		InterpSpeed:   g.InterpSpeed,
		EnableBuy:     g.EnableBuy,
		EnableSell:    g.EnableSell,
	}
	if o.BuyThreshold != nil {
		e.BuyThreshold = *o.BuyThreshold
	}
	if o.SellThreshold != nil {
		e.SellThreshold = *o.SellThreshold
	}
	if o.MaxDailyLoss != nil {
		e.MaxDailyLoss = *o.MaxDailyLoss
	}
	if o.InterpSpeed != nil {
		e.InterpSpeed = *o.InterpSpeed
	}
	if o.EnableBuy != nil {
		e.EnableBuy = e.EnableBuy && *o.EnableBuy
	}
	if o.EnableSell != nil {
		e.EnableSell = e.EnableSell && *o.EnableSell
	}
	if o.Staking != nil {
		e.Staking = *o.Staking
	}
	return e
}
