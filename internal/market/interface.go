package market

import "github.com/A2K/binance-trading-cli-sub000/internal/model"

// TickHandler receives every best bid/ask change.
type TickHandler func(model.Tick)

type Provider interface {
	Subscribe(pairs []string) error
	Quote(pair string) (model.Tick, bool)
	Start()
	Stop()
}
