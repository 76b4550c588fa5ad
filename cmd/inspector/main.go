package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/config"
	"github.com/A2K/binance-trading-cli-sub000/internal/exchange/binance"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:   "inspector [PAIR...]",
		Short: "Print exchange rate limits and lot filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			client, err := binance.NewClient(cfg.Exchange)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			info, err := client.ExchangeInfo(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "--- Rate Limits ---")
			fmt.Fprintln(w, "KIND\tINTERVAL\tLIMIT")
			for _, rl := range info.RateLimits {
				fmt.Fprintf(w, "%s\t%s\t%d\n", rl.Kind, rl.Interval, rl.Limit)
			}

			if len(args) > 0 {
				fmt.Fprintln(w, "\n--- Filters ---")
				fmt.Fprintln(w, "PAIR\tSTATUS\tSTEP\tMIN QTY\tTICK\tMIN NOTIONAL")
				for _, pair := range args {
					sym, ok := info.Symbols[strings.ToUpper(pair)]
					if !ok {
						fmt.Fprintf(w, "%s\tunknown\t\t\t\t\n", strings.ToUpper(pair))
						continue
					}
					f := sym.Filter
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", sym.Pair, sym.Status, f.StepSize, f.MinQty, f.TickSize, f.MinNotional)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
