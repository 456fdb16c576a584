// Package identifier issues and checks KIDs, the Luhn-protected payment
// identifiers that tie an incoming payment to a distribution.
package identifier

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

const (
	LegacyLength      = 8
	DonorLinkedLength = 15

	donorIDWidth = 6
)

// DigitSource yields random digits in 1..9.
type DigitSource interface {
	Digit() (int, error)
}

type cryptoDigits struct{}

func (cryptoDigits) Digit() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()) + 1, nil
}

// Generator builds KIDs from an injected random source.
type Generator struct {
	digits DigitSource
}

func NewGenerator(src DigitSource) *Generator {
	if src == nil {
		src = cryptoDigits{}
	}
	return &Generator{digits: src}
}

// Generate returns a KID of length 8 (random) or 15 (donor id + random). A
// 15-digit KID requires donorID.
func (g *Generator) Generate(length int, donorID *int64) (string, error) {
	var prefix string
	var randomDigits int

	switch length {
	case LegacyLength:
		randomDigits = LegacyLength - 1
	case DonorLinkedLength:
		if donorID == nil {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "donor id required for 15 digit KID")
		}
		if *donorID < 0 || *donorID > 999999 {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "donor id does not fit in 6 digits")
		}
		prefix = fmt.Sprintf("%0*d", donorIDWidth, *donorID)
		randomDigits = DonorLinkedLength - donorIDWidth - 1
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported KID length %d", length))
	}

	var b strings.Builder
	b.Grow(length)
	b.WriteString(prefix)
	for i := 0; i < randomDigits; i++ {
		d, err := g.digits.Digit()
		if err != nil {
			return "", fmt.Errorf("random digit: %w", err)
		}
		b.WriteByte(byte('0' + d))
	}

	part := b.String()
	return part + fmt.Sprint(CheckDigit(part)), nil
}

// Checksum is the Luhn sum mod 10. Parity follows the string length so the
// rightmost digit is never doubled.
func Checksum(digits string) int {
	parity := len(digits) % 2
	sum := 0
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if i%2 == parity {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum % 10
}

// CheckDigit returns the digit to append to part.
func CheckDigit(part string) int {
	sum := Checksum(part + "0")
	if sum == 0 {
		return 0
	}
	return 10 - sum
}

// Validate checks length, charset and the trailing check digit.
func Validate(kid string) error {
	if len(kid) != LegacyLength && len(kid) != DonorLinkedLength {
		return pkgerrors.New(pkgerrors.CodeValidation, "KID must be 8 or 15 digits")
	}
	for _, r := range kid {
		if r < '0' || r > '9' {
			return pkgerrors.New(pkgerrors.CodeValidation, "KID must be numeric")
		}
	}
	body, check := kid[:len(kid)-1], int(kid[len(kid)-1]-'0')
	if CheckDigit(body) != check {
		return pkgerrors.New(pkgerrors.CodeValidation, "KID check digit mismatch")
	}
	return nil
}

// DonorID extracts the donor prefix of a 15-digit KID.
func DonorID(kid string) (int64, bool) {
	if len(kid) != DonorLinkedLength {
		return 0, false
	}
	var id int64
	for _, r := range kid[:donorIDWidth] {
		if r < '0' || r > '9' {
			return 0, false
		}
		id = id*10 + int64(r-'0')
	}
	return id, true
}
