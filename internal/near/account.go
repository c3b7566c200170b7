package near

import (
	"regexp"

	"github.com/pkg/errors"
)

const (
	minAccountIDLen = 2
	maxAccountIDLen = 64
)

var accountIDPattern = regexp.MustCompile(`^(([a-z\d]+[\-_])*[a-z\d]+\.)*([a-z\d]+[\-_])*[a-z\d]+$`)

// ErrInvalidAccountID is returned for identifiers that NEAR would reject.
var ErrInvalidAccountID = errors.New("invalid account id")

// ValidateAccountID checks id against the protocol account naming rules:
// 2 to 64 characters, lowercase alphanumerics separated by single '-', '_'
// or '.' characters.
func ValidateAccountID(id string) error {
	if len(id) < minAccountIDLen || len(id) > maxAccountIDLen {
		return errors.Wrapf(ErrInvalidAccountID, "%q must be %d-%d characters", id, minAccountIDLen, maxAccountIDLen)
	}
	if !accountIDPattern.MatchString(id) {
		return errors.Wrapf(ErrInvalidAccountID, "%q", id)
	}
	return nil
}
