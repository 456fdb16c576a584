package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/giroflow-backend/api/responses"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
)

type InflationService interface {
	Lookup(ctx context.Context, token string) (*models.InflationAdjustment, error)
	Accept(ctx context.Context, token string) (*models.InflationAdjustment, error)
	Reject(ctx context.Context, token string) error
}

type inflationProposalDTO struct {
	AgreementType       string          `json:"agreement_type"`
	CurrentAmount       int64           `json:"current_amount"`
	ProposedAmount      int64           `json:"proposed_amount"`
	InflationPercentage decimal.Decimal `json:"inflation_percentage"`
	Status              string          `json:"status"`
	ExpiresAt           *time.Time      `json:"expires_at,omitempty"`
	AcceptedAt          *time.Time      `json:"accepted_at,omitempty"`
}

func toInflationDTO(row *models.InflationAdjustment) inflationProposalDTO {
	return inflationProposalDTO{
		AgreementType:       string(row.AgreementType),
		CurrentAmount:       row.CurrentAmount,
		ProposedAmount:      row.ProposedAmount,
		InflationPercentage: row.InflationPercentage,
		Status:              string(row.Status),
		ExpiresAt:           row.ExpiresAt,
		AcceptedAt:          row.AcceptedAt,
	}
}

func inflationToken(r *http.Request) (string, error) {
	token := strings.TrimSpace(chi.URLParam(r, "token"))
	if token == "" || len(token) > 64 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid token")
	}
	return token, nil
}

// InflationProposal shows the donor the proposal behind an emailed link.
func InflationProposal(svc InflationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := inflationToken(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		row, err := svc.Lookup(r.Context(), token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toInflationDTO(row))
	}
}

func InflationAccept(svc InflationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := inflationToken(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		row, err := svc.Accept(r.Context(), token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toInflationDTO(row))
	}
}

func InflationReject(svc InflationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := inflationToken(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Reject(r.Context(), token); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "rejected"})
	}
}
