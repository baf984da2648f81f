package portfolio

import (
	"errors"

	"github.com/cryptassist/portfolio-engine/internal/apperr"
	"github.com/cryptassist/portfolio-engine/internal/ledger"
	"github.com/cryptassist/portfolio-engine/internal/pricing"
	"github.com/cryptassist/portfolio-engine/internal/store"
)

// fromLedger maps ledger validation failures onto ValidationError.
func fromLedger(err error) error {
	switch {
	case errors.Is(err, ledger.ErrNonPositiveAmount):
		return apperr.Validation("amount", "must be greater than zero")
	case errors.Is(err, ledger.ErrNonPositivePrice):
		return apperr.Validation("price", "must be greater than zero")
	case errors.Is(err, ledger.ErrUnknownType):
		return apperr.Validation("transaction_type", "must be buy or sell")
	case errors.Is(err, ledger.ErrOversell):
		return apperr.Validation("amount", "sell amount exceeds current holding")
	case errors.Is(err, ledger.ErrInvalidCryptoID):
		return apperr.Validation("crypto_id", "must be a provider coin id such as \"bitcoin\"")
	case errors.Is(err, ledger.ErrNegativeMarketPrice):
		return apperr.Consistency("market price must not be negative")
	case errors.Is(err, ledger.ErrEmptyJournal):
		return apperr.Consistency("asset has no journal entries")
	}
	return err
}

// fromStore maps store.ErrNotFound onto NotFoundError and anything else
// onto InternalError. Errors that already carry a category pass through.
func fromStore(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(resource, id)
	}
	return apperr.Internal("store failure", err)
}

// fromPricing maps gateway errors: a coin unknown to every lookup path is
// NotFound, everything else is UpstreamUnavailable.
func fromPricing(err error, operation, cryptoID string) error {
	if errors.Is(err, pricing.ErrNotFound) {
		return apperr.NotFound("cryptocurrency", cryptoID)
	}
	return apperr.UpstreamUnavailable(operation, err)
}
