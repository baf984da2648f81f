package ledger

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// cryptoIDRegex matches provider coin ids such as "bitcoin", "usd-coin" or
// "wrapped-steth".
var cryptoIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,127}$`)

// ErrInvalidCryptoID is returned for a malformed coin id.
var ErrInvalidCryptoID = errors.New("ledger: invalid crypto id")

// NormalizeCryptoID trims and lower-cases id and checks its format.
func NormalizeCryptoID(id string) (string, error) {
	norm := strings.ToLower(strings.TrimSpace(id))
	if !cryptoIDRegex.MatchString(norm) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCryptoID, id)
	}
	return norm, nil
}
