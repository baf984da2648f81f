// Package store defines the persistence interface for the portfolio engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Every mutation goes through WithTx so that a journal append, the asset
// recompute that follows it and the portfolio refresh commit together or
// not at all.
package store

import (
	"context"
	"errors"

	"github.com/cryptassist/portfolio-engine/internal/model"
)

// ErrNotFound is returned when a portfolio or asset does not exist.
var ErrNotFound = errors.New("store: not found")

// Reader is the read side shared by the store and its transactions.
type Reader interface {
	// GetPortfolio retrieves a portfolio by its ID.
	GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error)

	// ListPortfolios returns the portfolios of one owner, or of every owner
	// when ownerID is empty, oldest first.
	ListPortfolios(ctx context.Context, ownerID string) ([]model.Portfolio, error)

	// ListAssets returns the active assets of a portfolio, oldest first.
	ListAssets(ctx context.Context, portfolioID string) ([]model.Asset, error)

	// GetAsset retrieves an asset scoped to its portfolio.
	GetAsset(ctx context.Context, portfolioID, assetID string) (*model.Asset, error)

	// --- Journal ---

	// ListTransactionsByAsset returns an asset's journal in insertion order.
	ListTransactionsByAsset(ctx context.Context, assetID string) ([]model.Transaction, error)

	// ListTransactionsByPortfolio returns the portfolio history index in
	// insertion order, including entries whose asset has been deleted.
	ListTransactionsByPortfolio(ctx context.Context, portfolioID string) ([]model.Transaction, error)
}

// Tx is a unit of work. Locks taken through it are held until the
// enclosing WithTx returns.
type Tx interface {
	Reader

	// LockPortfolio reads a portfolio and holds its row lock.
	LockPortfolio(ctx context.Context, id string) (*model.Portfolio, error)

	// LockAsset reads an asset and holds its row lock. Callers lock the
	// portfolio first.
	LockAsset(ctx context.Context, portfolioID, assetID string) (*model.Asset, error)

	CreatePortfolio(ctx context.Context, p *model.Portfolio) error
	UpdatePortfolio(ctx context.Context, p *model.Portfolio) error

	// DeletePortfolio removes a portfolio and cascades to its assets, their
	// journals and the portfolio history index.
	DeletePortfolio(ctx context.Context, id string) error

	InsertAsset(ctx context.Context, a *model.Asset) error
	UpdateAsset(ctx context.Context, a *model.Asset) error

	// DeleteAsset removes an asset and its journal. The portfolio history
	// index keeps its copies.
	DeleteAsset(ctx context.Context, portfolioID, assetID string) error

	// AppendTransaction appends an immutable entry to the asset journal and
	// to the portfolio history index.
	AppendTransaction(ctx context.Context, t *model.Transaction) error
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	Reader

	// WithTx runs fn in a transaction. A non-nil error from fn rolls every
	// write back and is returned unchanged.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
