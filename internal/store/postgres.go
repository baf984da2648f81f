package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cryptassist/portfolio-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pgReader
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgReader: pgReader{q: pool}, pool: pool}
}

// WithTx runs fn in a READ COMMITTED transaction. Row locks are taken
// explicitly with SELECT ... FOR UPDATE through the Tx.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&pgTx{pgReader{q: tx}})
	})
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgReader struct {
	q querier
}

const portfolioColumns = `id, owner_id, name, description,
	total_value::TEXT, total_unrealized_pl::TEXT, total_unrealized_pl_pct::TEXT,
	total_realized_pl::TEXT, total_cost_basis::TEXT,
	created_at, updated_at`

const assetColumns = `id, portfolio_id, crypto_id, symbol, name,
	amount::TEXT, average_buy_price::TEXT, current_price::TEXT,
	total_value::TEXT, profit_loss::TEXT, profit_loss_percentage::TEXT,
	created_at, updated_at`

const transactionColumns = `id, asset_id, portfolio_id, crypto_id, symbol, name,
	transaction_type, amount::TEXT, price_per_unit::TEXT, total_value::TEXT,
	realized_profit_loss::TEXT, timestamp, notes`

func (r pgReader) GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	row := r.q.QueryRow(ctx, `SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1`, id)
	p, err := scanPortfolio(row)
	if err != nil {
		return nil, fmt.Errorf("get portfolio %s: %w", id, notFound(err))
	}
	return p, nil
}

func (r pgReader) ListPortfolios(ctx context.Context, ownerID string) ([]model.Portfolio, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios
		 WHERE $1 = '' OR owner_id = $1
		 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	portfolios := make([]model.Portfolio, 0)
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, err
		}
		portfolios = append(portfolios, *p)
	}
	return portfolios, rows.Err()
}

func (r pgReader) ListAssets(ctx context.Context, portfolioID string) ([]model.Asset, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+assetColumns+` FROM assets
		 WHERE portfolio_id = $1 ORDER BY created_at, id`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assets := make([]model.Asset, 0)
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

func (r pgReader) GetAsset(ctx context.Context, portfolioID, assetID string) (*model.Asset, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = $1 AND portfolio_id = $2`,
		assetID, portfolioID)
	a, err := scanAsset(row)
	if err != nil {
		return nil, fmt.Errorf("get asset %s: %w", assetID, notFound(err))
	}
	return a, nil
}

func (r pgReader) ListTransactionsByAsset(ctx context.Context, assetID string) ([]model.Transaction, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+transactionColumns+` FROM asset_transactions
		 WHERE asset_id = $1 ORDER BY seq`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (r pgReader) ListTransactionsByPortfolio(ctx context.Context, portfolioID string) ([]model.Transaction, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+transactionColumns+` FROM portfolio_journal
		 WHERE portfolio_id = $1 ORDER BY seq`, portfolioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// --- Transaction-scoped writes ---

type pgTx struct {
	pgReader
}

func (t *pgTx) LockPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	row := t.q.QueryRow(ctx, `SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1 FOR UPDATE`, id)
	p, err := scanPortfolio(row)
	if err != nil {
		return nil, fmt.Errorf("lock portfolio %s: %w", id, notFound(err))
	}
	return p, nil
}

func (t *pgTx) LockAsset(ctx context.Context, portfolioID, assetID string) (*model.Asset, error) {
	row := t.q.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = $1 AND portfolio_id = $2 FOR UPDATE`,
		assetID, portfolioID)
	a, err := scanAsset(row)
	if err != nil {
		return nil, fmt.Errorf("lock asset %s: %w", assetID, notFound(err))
	}
	return a, nil
}

func (t *pgTx) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO portfolios (id, owner_id, name, description,
		     total_value, total_unrealized_pl, total_unrealized_pl_pct,
		     total_realized_pl, total_cost_basis, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11)`,
		p.ID, p.OwnerID, p.Name, p.Description,
		p.TotalValue.String(), p.TotalUnrealizedPL.String(), p.TotalUnrealizedPLPct.String(),
		p.TotalRealizedPL.String(), p.TotalCostBasis.String(),
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (t *pgTx) UpdatePortfolio(ctx context.Context, p *model.Portfolio) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE portfolios
		 SET name = $2, description = $3,
		     total_value = $4::NUMERIC, total_unrealized_pl = $5::NUMERIC,
		     total_unrealized_pl_pct = $6::NUMERIC, total_realized_pl = $7::NUMERIC,
		     total_cost_basis = $8::NUMERIC, updated_at = $9
		 WHERE id = $1`,
		p.ID, p.Name, p.Description,
		p.TotalValue.String(), p.TotalUnrealizedPL.String(), p.TotalUnrealizedPLPct.String(),
		p.TotalRealizedPL.String(), p.TotalCostBasis.String(), p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return affected(tag, "portfolio", p.ID)
}

// DeletePortfolio relies on ON DELETE CASCADE for assets, asset journals and
// the history index.
func (t *pgTx) DeletePortfolio(ctx context.Context, id string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM portfolios WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return affected(tag, "portfolio", id)
}

func (t *pgTx) InsertAsset(ctx context.Context, a *model.Asset) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO assets (id, portfolio_id, crypto_id, symbol, name,
		     amount, average_buy_price, current_price,
		     total_value, profit_loss, profit_loss_percentage, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
		         $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12, $13)`,
		a.ID, a.PortfolioID, a.CryptoID, a.Symbol, a.Name,
		a.Amount.String(), a.AverageBuyPrice.String(), a.CurrentPrice.String(),
		a.TotalValue.String(), a.ProfitLoss.String(), a.ProfitLossPercentage.String(),
		a.CreatedAt, a.UpdatedAt,
	)
	return err
}

func (t *pgTx) UpdateAsset(ctx context.Context, a *model.Asset) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE assets
		 SET amount = $3::NUMERIC, average_buy_price = $4::NUMERIC, current_price = $5::NUMERIC,
		     total_value = $6::NUMERIC, profit_loss = $7::NUMERIC,
		     profit_loss_percentage = $8::NUMERIC, updated_at = $9
		 WHERE id = $1 AND portfolio_id = $2`,
		a.ID, a.PortfolioID,
		a.Amount.String(), a.AverageBuyPrice.String(), a.CurrentPrice.String(),
		a.TotalValue.String(), a.ProfitLoss.String(), a.ProfitLossPercentage.String(),
		a.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return affected(tag, "asset", a.ID)
}

// DeleteAsset cascades to asset_transactions only; portfolio_journal has no
// foreign key on the asset.
func (t *pgTx) DeleteAsset(ctx context.Context, portfolioID, assetID string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM assets WHERE id = $1 AND portfolio_id = $2`, assetID, portfolioID)
	if err != nil {
		return err
	}
	return affected(tag, "asset", assetID)
}

func (t *pgTx) AppendTransaction(ctx context.Context, tx *model.Transaction) error {
	args := []any{
		tx.ID, tx.AssetID, tx.PortfolioID, tx.CryptoID, tx.Symbol, tx.Name,
		string(tx.Type), tx.Amount.String(), tx.PricePerUnit.String(), tx.TotalValue.String(),
		tx.RealizedProfitLoss.String(), tx.Timestamp, tx.Notes,
	}
	for _, table := range []string{"asset_transactions", "portfolio_journal"} {
		_, err := t.q.Exec(ctx,
			`INSERT INTO `+table+` (id, asset_id, portfolio_id, crypto_id, symbol, name,
			     transaction_type, amount, price_per_unit, total_value,
			     realized_profit_loss, timestamp, notes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
			         $11::NUMERIC, $12, $13)`, args...)
		if err != nil {
			return fmt.Errorf("append to %s: %w", table, err)
		}
	}
	return nil
}

// --- Scan helpers ---

// pgxRow abstracts pgx.Row and pgx.Rows for scanning.
type pgxRow interface {
	Scan(dest ...any) error
}

func scanPortfolio(row pgxRow) (*model.Portfolio, error) {
	var p model.Portfolio
	var totalValue, unrealized, unrealizedPct, realized, costBasis string
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description,
		&totalValue, &unrealized, &unrealizedPct, &realized, &costBasis,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.TotalValue, _ = decimal.NewFromString(totalValue)
	p.TotalUnrealizedPL, _ = decimal.NewFromString(unrealized)
	p.TotalUnrealizedPLPct, _ = decimal.NewFromString(unrealizedPct)
	p.TotalRealizedPL, _ = decimal.NewFromString(realized)
	p.TotalCostBasis, _ = decimal.NewFromString(costBasis)
	return &p, nil
}

func scanAsset(row pgxRow) (*model.Asset, error) {
	var a model.Asset
	var amount, avg, price, value, pl, plPct string
	if err := row.Scan(&a.ID, &a.PortfolioID, &a.CryptoID, &a.Symbol, &a.Name,
		&amount, &avg, &price, &value, &pl, &plPct,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Amount, _ = decimal.NewFromString(amount)
	a.AverageBuyPrice, _ = decimal.NewFromString(avg)
	a.CurrentPrice, _ = decimal.NewFromString(price)
	a.TotalValue, _ = decimal.NewFromString(value)
	a.ProfitLoss, _ = decimal.NewFromString(pl)
	a.ProfitLossPercentage, _ = decimal.NewFromString(plPct)
	return &a, nil
}

func scanTransactions(rows pgx.Rows) ([]model.Transaction, error) {
	entries := make([]model.Transaction, 0)
	for rows.Next() {
		var t model.Transaction
		var txType, amount, price, value, realized string
		if err := rows.Scan(&t.ID, &t.AssetID, &t.PortfolioID, &t.CryptoID, &t.Symbol, &t.Name,
			&txType, &amount, &price, &value, &realized, &t.Timestamp, &t.Notes); err != nil {
			return nil, err
		}
		t.Type = model.TxType(txType)
		t.Amount, _ = decimal.NewFromString(amount)
		t.PricePerUnit, _ = decimal.NewFromString(price)
		t.TotalValue, _ = decimal.NewFromString(value)
		t.RealizedProfitLoss, _ = decimal.NewFromString(realized)
		entries = append(entries, t)
	}
	return entries, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func affected(tag pgconn.CommandTag, resource, id string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", resource, id, ErrNotFound)
	}
	return nil
}
