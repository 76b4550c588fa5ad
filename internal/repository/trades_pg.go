package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const tradeColumns = `id, exchange_id, symbol, pair, order_id, side, quantity, price, quote_quantity, commission, commission_asset, profit, executed_at`

// PostgresTradeStore keeps the trade log in Postgres. Profit sums read the
// trade_profit_daily materialized view, which only changes on
// RefreshAggregates.
type PostgresTradeStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewPostgresTradeStore(ctx context.Context, db *sqlx.DB) (*PostgresTradeStore, error) {
	repo := &PostgresTradeStore{db: db, now: time.Now}
	if err := repo.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("trade schema: %w", err)
	}
	return repo, nil
}

// InsertTrade stores trade and sets its ID. A trade whose exchange id is
// already stored for the pair is ignored.
func (r *PostgresTradeStore) InsertTrade(ctx context.Context, trade *model.Trade) error {
	query := `
		INSERT INTO trades (exchange_id, symbol, pair, order_id, side, quantity, price, quote_quantity, commission, commission_asset, profit, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (pair, exchange_id) WHERE exchange_id <> 0 DO NOTHING
		RETURNING id
	`
	var id int64
	err := r.db.QueryRowxContext(ctx, query,
		trade.ExchangeID, trade.Symbol, trade.Pair, trade.OrderID, string(trade.Side),
		trade.Quantity, trade.Price, trade.QuoteQuantity, trade.Commission, trade.CommissionAsset,
		trade.Profit, trade.ExecutedAt.UTC(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	trade.ID = id
	return nil
}

// QueryTrades returns the newest trades first. An empty symbol matches all.
func (r *PostgresTradeStore) QueryTrades(ctx context.Context, symbol string, limit int) ([]*model.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		where []string
		args  []any
	)
	if symbol != "" {
		args = append(args, symbol)
		where = append(where, fmt.Sprintf("symbol = $%d", len(args)))
	}
	args = append(args, limit)
	query := `SELECT ` + tradeColumns + ` FROM trades` + whereClause(where) +
		fmt.Sprintf(` ORDER BY executed_at DESC, id DESC LIMIT $%d`, len(args))

	var trades []*model.Trade
	if err := r.db.SelectContext(ctx, &trades, query, args...); err != nil {
		return nil, err
	}
	return trades, nil
}

func (r *PostgresTradeStore) SumProfit(ctx context.Context, symbol string, bucket model.ProfitBucket) (float64, error) {
	var (
		where []string
		args  []any
	)
	if since := bucket.Since(r.now()); !since.IsZero() {
		args = append(args, since)
		where = append(where, fmt.Sprintf("day >= $%d", len(args)))
	}
	if symbol != "" {
		args = append(args, symbol)
		where = append(where, fmt.Sprintf("symbol = $%d", len(args)))
	}
	query := `SELECT COALESCE(SUM(profit), 0) FROM trade_profit_daily` + whereClause(where)

	var total float64
	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *PostgresTradeStore) AverageBuyPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(quote_quantity) / NULLIF(SUM(quantity), 0), 0)
		FROM trades
		WHERE symbol = $1 AND side = 'BUY'
	`
	var avg decimal.Decimal
	if err := r.db.QueryRowxContext(ctx, query, symbol).Scan(&avg); err != nil {
		return decimal.Zero, err
	}
	return avg, nil
}

func (r *PostgresTradeStore) RefreshAggregates(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `REFRESH MATERIALIZED VIEW trade_profit_daily`)
	return err
}

func (r *PostgresTradeStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			exchange_id BIGINT NOT NULL DEFAULT 0,
			symbol TEXT NOT NULL,
			pair TEXT NOT NULL,
			order_id BIGINT NOT NULL DEFAULT 0,
			side TEXT NOT NULL,
			quantity NUMERIC NOT NULL,
			price NUMERIC NOT NULL,
			quote_quantity NUMERIC NOT NULL,
			commission NUMERIC NOT NULL DEFAULT 0,
			commission_asset TEXT NOT NULL DEFAULT '',
			profit DOUBLE PRECISION NOT NULL DEFAULT 0,
			executed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS trades_pair_exchange_id ON trades (pair, exchange_id) WHERE exchange_id <> 0`,
		`CREATE INDEX IF NOT EXISTS trades_symbol_executed_at ON trades (symbol, executed_at DESC)`,
		`CREATE MATERIALIZED VIEW IF NOT EXISTS trade_profit_daily AS
			SELECT symbol,
			       (date_trunc('day', executed_at AT TIME ZONE 'UTC') AT TIME ZONE 'UTC') AS day,
			       SUM(profit) AS profit,
			       COUNT(*) AS trades
			FROM trades
			GROUP BY 1, 2`,
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
