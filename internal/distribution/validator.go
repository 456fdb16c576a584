package distribution

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

// ErrorCode names the rule a candidate distribution broke.
type ErrorCode string

const (
	ErrNotAnObject          ErrorCode = "NOT_AN_OBJECT"
	ErrMissingDonorID       ErrorCode = "MISSING_DONOR_ID"
	ErrNoCauseAreas         ErrorCode = "NO_CAUSE_AREAS"
	ErrCauseAreaSumNot100   ErrorCode = "CAUSE_AREA_SUM_NOT_100"
	ErrDuplicateCauseAreaID ErrorCode = "DUPLICATE_CAUSE_AREA_ID"
	ErrCauseAreaMissingOrgs ErrorCode = "CAUSE_AREA_MISSING_ORGS"
	ErrOrgSumNot100         ErrorCode = "ORG_SUM_NOT_100"
	ErrDuplicateOrgID       ErrorCode = "DUPLICATE_ORG_ID"
)

var hundred = decimal.NewFromInt(100)

// ValidationError carries the failing rule.
type ValidationError struct {
	Code   ErrorCode
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// OrganizationInput is one organization share inside a cause area.
type OrganizationInput struct {
	ID              int64           `json:"id"`
	PercentageShare decimal.Decimal `json:"percentageShare"`
}

// CauseAreaInput is one cause-area share of the split.
type CauseAreaInput struct {
	ID              int64               `json:"id"`
	PercentageShare decimal.Decimal     `json:"percentageShare"`
	StandardSplit   bool                `json:"standardSplit"`
	Organizations   []OrganizationInput `json:"organizations"`
}

// Input is the decoded request shape of a distribution.
type Input struct {
	DonorID    *int64           `json:"donorId"`
	TaxUnitID  *int64           `json:"taxUnitId,omitempty"`
	CauseAreas []CauseAreaInput `json:"causeAreas"`
}

type Organization struct {
	ID              int64
	PercentageShare decimal.Decimal
}

type CauseArea struct {
	ID              int64
	PercentageShare decimal.Decimal
	StandardSplit   bool
	Organizations   []Organization
}

// Distribution is a validated split. KID is empty until persisted.
type Distribution struct {
	KID        string
	DonorID    int64
	TaxUnitID  *int64
	CauseAreas []CauseArea
}

// Standard reports whether every cause area uses its standard organization split.
func (d Distribution) Standard() bool {
	if len(d.CauseAreas) == 0 {
		return false
	}
	for _, ca := range d.CauseAreas {
		if !ca.StandardSplit {
			return false
		}
	}
	return true
}

// Validate checks a candidate split and returns it with zero shares removed.
// input may be an Input, *Input, raw JSON, or a map decoded from JSON.
func Validate(input any) (Distribution, error) {
	in, err := decodeInput(input)
	if err != nil {
		return Distribution{}, err
	}
	if in.DonorID == nil || *in.DonorID <= 0 {
		return Distribution{}, invalid(ErrMissingDonorID, "")
	}
	if len(in.CauseAreas) == 0 {
		return Distribution{}, invalid(ErrNoCauseAreas, "")
	}

	seenAreas := make(map[int64]struct{}, len(in.CauseAreas))
	causeAreaSum := decimal.Zero
	for _, ca := range in.CauseAreas {
		if _, dup := seenAreas[ca.ID]; dup {
			return Distribution{}, invalid(ErrDuplicateCauseAreaID, fmt.Sprintf("cause area %d", ca.ID))
		}
		seenAreas[ca.ID] = struct{}{}
		if ca.PercentageShare.IsNegative() {
			return Distribution{}, invalid(ErrCauseAreaSumNot100, fmt.Sprintf("negative share for cause area %d", ca.ID))
		}
		causeAreaSum = causeAreaSum.Add(ca.PercentageShare)
	}
	if !causeAreaSum.Equal(hundred) {
		return Distribution{}, invalid(ErrCauseAreaSumNot100, fmt.Sprintf("was %s", causeAreaSum.String()))
	}

	for _, ca := range in.CauseAreas {
		if ca.StandardSplit {
			continue
		}
		if len(ca.Organizations) == 0 {
			return Distribution{}, invalid(ErrCauseAreaMissingOrgs, fmt.Sprintf("cause area %d", ca.ID))
		}
		seenOrgs := make(map[int64]struct{}, len(ca.Organizations))
		orgSum := decimal.Zero
		for _, org := range ca.Organizations {
			if _, dup := seenOrgs[org.ID]; dup {
				return Distribution{}, invalid(ErrDuplicateOrgID, fmt.Sprintf("organization %d in cause area %d", org.ID, ca.ID))
			}
			seenOrgs[org.ID] = struct{}{}
			if org.PercentageShare.IsNegative() {
				return Distribution{}, invalid(ErrOrgSumNot100, fmt.Sprintf("negative share for organization %d", org.ID))
			}
			orgSum = orgSum.Add(org.PercentageShare)
		}
		if !orgSum.Equal(hundred) {
			return Distribution{}, invalid(ErrOrgSumNot100, fmt.Sprintf("was %s for cause area %d", orgSum.String(), ca.ID))
		}
	}

	return normalize(in), nil
}

func normalize(in Input) Distribution {
	out := Distribution{DonorID: *in.DonorID, TaxUnitID: in.TaxUnitID}
	for _, ca := range in.CauseAreas {
		if ca.PercentageShare.IsZero() {
			continue
		}
		area := CauseArea{ID: ca.ID, PercentageShare: ca.PercentageShare, StandardSplit: ca.StandardSplit}
		for _, org := range ca.Organizations {
			if org.PercentageShare.IsZero() {
				continue
			}
			area.Organizations = append(area.Organizations, Organization{ID: org.ID, PercentageShare: org.PercentageShare})
		}
		out.CauseAreas = append(out.CauseAreas, area)
	}
	return out
}

func decodeInput(input any) (Input, error) {
	switch v := input.(type) {
	case Input:
		return v, nil
	case *Input:
		if v == nil {
			return Input{}, invalid(ErrNotAnObject, "nil input")
		}
		return *v, nil
	case json.RawMessage:
		return decodeJSON(v)
	case []byte:
		return decodeJSON(v)
	case map[string]any:
		raw, err := json.Marshal(v)
		if err != nil {
			return Input{}, invalid(ErrNotAnObject, err.Error())
		}
		return decodeJSON(raw)
	default:
		return Input{}, invalid(ErrNotAnObject, fmt.Sprintf("unsupported input %T", input))
	}
}

func decodeJSON(raw []byte) (Input, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Input{}, invalid(ErrNotAnObject, "expected a JSON object")
	}
	var in Input
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return Input{}, invalid(ErrNotAnObject, err.Error())
	}
	return in, nil
}

func invalid(code ErrorCode, detail string) error {
	verr := &ValidationError{Code: code, Detail: detail}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, verr, verr.Error()).
		WithDetails(map[string]string{"code": string(code)})
}
