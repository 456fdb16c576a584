package identifier

import (
	"errors"
	"testing"

	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

type sequenceDigits struct {
	digits []int
	pos    int
}

func (s *sequenceDigits) Digit() (int, error) {
	if s.pos >= len(s.digits) {
		return 0, errors.New("exhausted")
	}
	d := s.digits[s.pos]
	s.pos++
	return d, nil
}

func TestGenerateLegacyWithStubbedDigits(t *testing.T) {
	gen := NewGenerator(&sequenceDigits{digits: []int{1, 2, 3, 4, 5, 6, 7}})

	kid, err := gen.Generate(8, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if kid != "12345674" {
		t.Fatalf("expected 12345674, got %s", kid)
	}
	if got := CheckDigit("1234567"); got != 4 {
		t.Fatalf("expected check digit 4, got %d", got)
	}
	if err := Validate(kid); err != nil {
		t.Fatalf("generated KID should validate: %v", err)
	}
}

func TestGenerateDonorLinked(t *testing.T) {
	donor := int64(42)
	gen := NewGenerator(&sequenceDigits{digits: []int{9, 8, 7, 6, 5, 4, 3, 2}})

	kid, err := gen.Generate(15, &donor)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(kid) != 15 || kid[:14] != "00004298765432" {
		t.Fatalf("unexpected KID %s", kid)
	}
	if id, ok := DonorID(kid); !ok || id != 42 {
		t.Fatalf("expected donor 42, got %d (%v)", id, ok)
	}
}

func TestGenerateRequiresDonorForLongKID(t *testing.T) {
	gen := NewGenerator(nil)
	_, err := gen.Generate(15, nil)
	if !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := gen.Generate(10, nil); err == nil {
		t.Fatal("expected unsupported length error")
	}
}

func TestGeneratedKIDsAlwaysCarryValidCheckDigit(t *testing.T) {
	gen := NewGenerator(nil)
	donor := int64(123456)
	for i := 0; i < 200; i++ {
		length := LegacyLength
		var id *int64
		if i%2 == 0 {
			length = DonorLinkedLength
			id = &donor
		}
		kid, err := gen.Generate(length, id)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		body := kid[:len(kid)-1]
		if CheckDigit(body) != int(kid[len(kid)-1]-'0') {
			t.Fatalf("check digit mismatch for %s", kid)
		}
		if Checksum(kid) != 0 {
			t.Fatalf("full Luhn sum should be 0 for %s", kid)
		}
	}
}

func TestValidateRejectsBadInput(t *testing.T) {
	for _, kid := range []string{"", "1234567", "12345675", "1234567a", "000042987654321"} {
		if err := Validate(kid); err == nil {
			t.Fatalf("expected %q to be rejected", kid)
		}
	}
}
