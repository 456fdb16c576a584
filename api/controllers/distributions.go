package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/giroflow-backend/api/middleware"
	"github.com/angelmondragon/giroflow-backend/api/responses"
	"github.com/angelmondragon/giroflow-backend/api/validators"
	"github.com/angelmondragon/giroflow-backend/internal/distribution"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
)

const maxDistributionBody = 64 << 10

type DistributionService interface {
	FindOrCreate(ctx context.Context, input any) (distribution.Distribution, bool, error)
	ReplaceWithHistory(ctx context.Context, in distribution.ReplaceInput) (string, error)
}

type organizationDTO struct {
	ID              int64           `json:"id"`
	PercentageShare decimal.Decimal `json:"percentageShare"`
}

type causeAreaDTO struct {
	ID              int64             `json:"id"`
	PercentageShare decimal.Decimal   `json:"percentageShare"`
	StandardSplit   bool              `json:"standardSplit"`
	Organizations   []organizationDTO `json:"organizations"`
}

type distributionDTO struct {
	KID        string         `json:"kid,omitempty"`
	DonorID    int64          `json:"donorId"`
	TaxUnitID  *int64         `json:"taxUnitId,omitempty"`
	Standard   bool           `json:"standard"`
	CauseAreas []causeAreaDTO `json:"causeAreas"`
}

func toDistributionDTO(d distribution.Distribution) distributionDTO {
	out := distributionDTO{
		KID:        d.KID,
		DonorID:    d.DonorID,
		TaxUnitID:  d.TaxUnitID,
		Standard:   d.Standard(),
		CauseAreas: make([]causeAreaDTO, 0, len(d.CauseAreas)),
	}
	for _, ca := range d.CauseAreas {
		area := causeAreaDTO{
			ID:              ca.ID,
			PercentageShare: ca.PercentageShare,
			StandardSplit:   ca.StandardSplit,
			Organizations:   make([]organizationDTO, 0, len(ca.Organizations)),
		}
		for _, org := range ca.Organizations {
			area.Organizations = append(area.Organizations, organizationDTO{ID: org.ID, PercentageShare: org.PercentageShare})
		}
		out.CauseAreas = append(out.CauseAreas, area)
	}
	return out
}

func readDistributionBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDistributionBody))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body")
	}
	return json.RawMessage(body), nil
}

// ValidateDistribution checks a split without storing it and echoes the normalized form.
func ValidateDistribution(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := readDistributionBody(w, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dist, err := distribution.Validate(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toDistributionDTO(dist))
	}
}

// RegisterDistribution returns the KID of an identical stored split, or stores a new one.
func RegisterDistribution(svc DistributionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "distribution service unavailable"))
			return
		}
		raw, err := readDistributionBody(w, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dist, created, err := svc.FindOrCreate(r.Context(), raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, map[string]any{
			"created":      created,
			"distribution": toDistributionDTO(dist),
		})
	}
}

type replaceDistributionRequest struct {
	OriginalKID    string             `json:"original_kid" validate:"required,kid,len=15"`
	ReplacementKID string             `json:"replacement_kid" validate:"omitempty,kid,len=15"`
	Split          distribution.Input `json:"split"`
}

// AdminReplaceDistribution moves a KID's history under a new KID and gives the original KID a new split.
func AdminReplaceDistribution(svc DistributionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "distribution service unavailable"))
			return
		}
		var body replaceDistributionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		replacement, err := svc.ReplaceWithHistory(r.Context(), distribution.ReplaceInput{
			OriginalKID:    body.OriginalKID,
			ReplacementKID: body.ReplacementKID,
			Split:          body.Split,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"original_kid":    body.OriginalKID,
				"replacement_kid": replacement,
				"actor":           middleware.SubjectFromContext(r.Context()),
			})
			logg.Info(ctx, "distribution replaced")
		}
		responses.WriteSuccess(w, map[string]string{
			"original_kid":    body.OriginalKID,
			"replacement_kid": replacement,
		})
	}
}
