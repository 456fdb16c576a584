package distribution

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func donor(id int64) *int64 { return &id }

func singleArea(orgShares ...string) Input {
	area := CauseAreaInput{ID: 1, PercentageShare: dec("100")}
	for i, share := range orgShares {
		area.Organizations = append(area.Organizations, OrganizationInput{ID: int64(i + 1), PercentageShare: dec(share)})
	}
	return Input{DonorID: donor(42), CauseAreas: []CauseAreaInput{area}}
}

func codeOf(t *testing.T, err error) ErrorCode {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected CodeValidation, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError in chain, got %T", err)
	}
	return verr.Code
}

func TestValidateSixtyForty(t *testing.T) {
	dist, err := Validate(singleArea("60", "40"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dist.DonorID != 42 || len(dist.CauseAreas) != 1 || len(dist.CauseAreas[0].Organizations) != 2 {
		t.Fatalf("unexpected distribution %+v", dist)
	}
}

func TestValidateOrgSumOff(t *testing.T) {
	_, err := Validate(singleArea("60", "41"))
	if code := codeOf(t, err); code != ErrOrgSumNot100 {
		t.Fatalf("expected %s, got %s", ErrOrgSumNot100, code)
	}
}

func TestValidateUsesExactDecimals(t *testing.T) {
	// 0.1 + 0.2 style drift must not be tolerated or introduced.
	if _, err := Validate(singleArea("33.3", "33.3", "33.4")); err != nil {
		t.Fatalf("exact thirds should validate: %v", err)
	}
	_, err := Validate(singleArea("33.33333333", "33.33333333", "33.33333333"))
	if code := codeOf(t, err); code != ErrOrgSumNot100 {
		t.Fatalf("expected %s, got %s", ErrOrgSumNot100, code)
	}
}

func TestValidateErrorCodes(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  ErrorCode
	}{
		{name: "not an object", input: "kid", want: ErrNotAnObject},
		{name: "json array", input: []byte(`[1,2]`), want: ErrNotAnObject},
		{name: "nil pointer", input: (*Input)(nil), want: ErrNotAnObject},
		{name: "missing donor", input: Input{CauseAreas: singleArea("100").CauseAreas}, want: ErrMissingDonorID},
		{name: "no cause areas", input: Input{DonorID: donor(1)}, want: ErrNoCauseAreas},
		{
			name: "cause area sum",
			input: Input{DonorID: donor(1), CauseAreas: []CauseAreaInput{
				{ID: 1, PercentageShare: dec("50"), StandardSplit: true},
				{ID: 2, PercentageShare: dec("49.99"), StandardSplit: true},
			}},
			want: ErrCauseAreaSumNot100,
		},
		{
			name: "duplicate cause area",
			input: Input{DonorID: donor(1), CauseAreas: []CauseAreaInput{
				{ID: 1, PercentageShare: dec("50"), StandardSplit: true},
				{ID: 1, PercentageShare: dec("50"), StandardSplit: true},
			}},
			want: ErrDuplicateCauseAreaID,
		},
		{
			name: "missing orgs",
			input: Input{DonorID: donor(1), CauseAreas: []CauseAreaInput{
				{ID: 1, PercentageShare: dec("100")},
			}},
			want: ErrCauseAreaMissingOrgs,
		},
		{
			name: "duplicate org",
			input: Input{DonorID: donor(1), CauseAreas: []CauseAreaInput{
				{ID: 1, PercentageShare: dec("100"), Organizations: []OrganizationInput{
					{ID: 7, PercentageShare: dec("50")},
					{ID: 7, PercentageShare: dec("50")},
				}},
			}},
			want: ErrDuplicateOrgID,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate(tc.input)
			if code := codeOf(t, err); code != tc.want {
				t.Fatalf("expected %s, got %s (%v)", tc.want, code, err)
			}
		})
	}
}

func TestValidateStandardSplitSkipsOrgs(t *testing.T) {
	dist, err := Validate(Input{DonorID: donor(5), CauseAreas: []CauseAreaInput{
		{ID: 1, PercentageShare: dec("100"), StandardSplit: true},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dist.Standard() {
		t.Fatal("expected standard distribution")
	}
}

func TestValidateDropsZeroShares(t *testing.T) {
	dist, err := Validate(Input{DonorID: donor(5), CauseAreas: []CauseAreaInput{
		{ID: 1, PercentageShare: dec("100"), Organizations: []OrganizationInput{
			{ID: 1, PercentageShare: dec("100")},
			{ID: 2, PercentageShare: dec("0")},
		}},
		{ID: 2, PercentageShare: dec("0.00"), StandardSplit: true},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dist.CauseAreas) != 1 {
		t.Fatalf("zero cause area should be dropped, got %d", len(dist.CauseAreas))
	}
	if len(dist.CauseAreas[0].Organizations) != 1 {
		t.Fatalf("zero organization should be dropped, got %d", len(dist.CauseAreas[0].Organizations))
	}
}

func TestValidateDecodedJSONMap(t *testing.T) {
	raw := `{"donorId":42,"causeAreas":[{"id":1,"percentageShare":"100","organizations":[{"id":1,"percentageShare":"60"},{"id":2,"percentageShare":40}]}]}`
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	dist, err := Validate(decoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dist.CauseAreas[0].Organizations[1].PercentageShare.Equal(dec("40")) {
		t.Fatalf("unexpected share %s", dist.CauseAreas[0].Organizations[1].PercentageShare)
	}
}
