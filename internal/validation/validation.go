package validation

import (
	"fmt"
	"strings"

	"github.com/autorenta/p2p-reconciler/internal/entities"
)

const (
	// Account numbers on the supported payment network are fixed-length
	// digit strings (CVU/CBU style).
	AccountNumberLength = 22

	maxAssetCodeLength = 10
	maxLabelLength     = 50
)

var destCleaner = strings.NewReplacer(" ", "", "-", "")

// ValidAccountNumber reports whether s is a well formed account number:
// exactly 22 digits after stripping spaces and dashes.
func ValidAccountNumber(s string) bool {
	clean := destCleaner.Replace(s)
	if len(clean) != AccountNumberLength {
		return false
	}
	for _, r := range clean {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ValidAlias reports whether s is a three-token dot-delimited alias,
// each token non-empty and alphanumeric.
func ValidAlias(s string) bool {
	tokens := strings.Split(s, ".")
	if len(tokens) != 3 {
		return false
	}
	for _, tok := range tokens {
		if tok == "" {
			return false
		}
		for _, r := range tok {
			if !isAlnum(r) {
				return false
			}
		}
	}
	return true
}

// Destination resolves a payment destination to the identifier handed to the
// payment rail, preferring the alias. Returns ErrValidation when neither
// field is present and valid.
func Destination(d entities.PaymentDestination) (string, error) {
	if d.Alias != "" && ValidAlias(d.Alias) {
		return d.Alias, nil
	}
	if d.AccountNumber != "" && ValidAccountNumber(d.AccountNumber) {
		return destCleaner.Replace(d.AccountNumber), nil
	}
	return "", fmt.Errorf("%w: no usable payment destination", entities.ErrValidation)
}

// SanitizeAdType allows only the two known ad types. Untrusted text must never
// reach the automation bridge as a control value.
func SanitizeAdType(s string) (string, error) {
	clean := strings.ToLower(strings.TrimSpace(s))
	if clean != "buy" && clean != "sell" {
		return "", fmt.Errorf("%w: ad type %q", entities.ErrValidation, s)
	}
	return clean, nil
}

// SanitizeAssetCode uppercases and checks an asset or fiat currency code:
// alphanumeric, at most 10 characters.
func SanitizeAssetCode(s string) (string, error) {
	clean := strings.ToUpper(strings.TrimSpace(s))
	if clean == "" || len(clean) > maxAssetCodeLength {
		return "", fmt.Errorf("%w: asset code %q", entities.ErrValidation, s)
	}
	for _, r := range clean {
		if !isAlnum(r) {
			return "", fmt.Errorf("%w: asset code %q", entities.ErrValidation, s)
		}
	}
	return clean, nil
}

var labelEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
)

// SanitizeLabel escapes free text (counterparty names and the like) before it
// is interpolated into an outbound request or a log line. Fails when the input
// exceeds the length bound or sanitizes to nothing.
func SanitizeLabel(s string) (string, error) {
	if len(s) > maxLabelLength {
		return "", fmt.Errorf("%w: label exceeds %d characters", entities.ErrValidation, maxLabelLength)
	}
	clean := labelEscaper.Replace(strings.TrimSpace(s))
	if clean == "" {
		return "", fmt.Errorf("%w: empty label", entities.ErrValidation)
	}
	return clean, nil
}

// SafeLabel is SanitizeLabel with a redacted fallback for log call sites that
// must not fail on bad input.
func SafeLabel(s string) string {
	clean, err := SanitizeLabel(s)
	if err != nil {
		return "<redacted>"
	}
	return clean
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
