package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/giroflow-backend/api/responses"
	"github.com/angelmondragon/giroflow-backend/api/validators"
	"github.com/angelmondragon/giroflow-backend/internal/providerb"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
)

type AmendmentLister interface {
	AmendmentCandidates(ctx context.Context) ([]providerb.AmendmentCandidate, error)
}

// AdminAmendmentCandidates lists pending ProviderB charges that no longer match their agreement.
func AdminAmendmentCandidates(svc AmendmentLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "provider b engine unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 200, 1, 1000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason, err := validators.ParseQueryEnum(r, "reason", reasonAmount, reasonDate, reasonCancelled)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		all, err := svc.AmendmentCandidates(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		candidates := []providerb.AmendmentCandidate{}
		for _, c := range all {
			if matchesReason(c, reason) {
				candidates = append(candidates, c)
			}
		}
		total := len(candidates)
		if total > limit {
			candidates = candidates[:limit]
		}
		responses.WriteSuccess(w, map[string]any{
			"count":      total,
			"candidates": candidates,
		})
	}
}

const (
	reasonAmount    = "amount"
	reasonDate      = "date"
	reasonCancelled = "cancelled"
)

func matchesReason(c providerb.AmendmentCandidate, reason string) bool {
	switch reason {
	case reasonAmount:
		return c.ChangedAmount
	case reasonDate:
		return c.ChangedDate
	case reasonCancelled:
		return c.AgreementCancelled
	}
	return true
}
