package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/giroflow-backend/api/responses"
	"github.com/angelmondragon/giroflow-backend/api/validators"
	"github.com/angelmondragon/giroflow-backend/internal/wallet"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
)

type WalletService interface {
	DraftAgreement(ctx context.Context, in wallet.DraftInput) (wallet.DraftResult, error)
	CreateCharge(ctx context.Context, agreementID string, amountNOK decimal.Decimal, leadDays int) (string, error)
}

// AdminWalletDraft creates a wallet agreement draft and starts polling it on
// background, which outlives the request.
func AdminWalletDraft(background context.Context, svc WalletService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "wallet is not configured"))
			return
		}
		var body wallet.DraftInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.DraftAgreement(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if result.Poll != nil {
			pollCtx := background
			if logg != nil {
				pollCtx = logg.WithFields(pollCtx, map[string]any{"agreement_id": result.AgreementID, "kid": body.KID})
			}
			result.Poll.Start(pollCtx)
			go func(poll *wallet.PollTask) {
				if err := poll.Wait(); err != nil && logg != nil {
					logg.Warn(pollCtx, "wallet agreement poll ended without activation: "+err.Error())
				}
			}(result.Poll)
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

type walletChargeRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	LeadDays int             `json:"lead_days" validate:"min=0,max=90"`
}

// AdminWalletCharge schedules a one-off charge on an active agreement.
func AdminWalletCharge(svc WalletService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "wallet is not configured"))
			return
		}
		agreementID := strings.TrimSpace(chi.URLParam(r, "agreementId"))
		if agreementID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "agreement id required"))
			return
		}
		var body walletChargeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !body.Amount.IsPositive() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive"))
			return
		}

		chargeID, err := svc.CreateCharge(r.Context(), agreementID, body.Amount, body.LeadDays)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]string{
			"agreement_id": agreementID,
			"charge_id":    chargeID,
		})
	}
}
