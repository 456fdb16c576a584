// Package wallet runs recurring mobile-wallet agreements: drafting them,
// polling them active, creating monthly charges and mirroring the platform
// into the ledger.
package wallet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/angelmondragon/giroflow-backend/internal/cache"
	"github.com/angelmondragon/giroflow-backend/internal/ledger"
	"github.com/angelmondragon/giroflow-backend/internal/notifications"
	"github.com/angelmondragon/giroflow-backend/pkg/calendar"
	"github.com/angelmondragon/giroflow-backend/pkg/config"
	"github.com/angelmondragon/giroflow-backend/pkg/db"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
	"github.com/angelmondragon/giroflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
	"github.com/angelmondragon/giroflow-backend/pkg/metrics"
)

const (
	provider = string(enums.AgreementTypeWallet)

	currency          = "NOK"
	transactionText   = "Donasjon til Gi Effektivt."
	chargeDescription = "Fast donasjon til Gi Effektivt."
	chargeRetryDays   = 5
	maxChargeDay      = 28
	minPriceMinor     = 100
	// the platform refuses charges due sooner than this
	minLeadDays = 3
)

// remote agreement states; the platform lists them one at a time
var remoteStatuses = []enums.WalletAgreementStatus{
	enums.WalletAgreementStatusActive,
	enums.WalletAgreementStatusPending,
	enums.WalletAgreementStatusStopped,
	enums.WalletAgreementStatusExpired,
}

type EngineParams struct {
	Repository Repository
	API        API
	Ledger     ledger.Service
	Notifier   notifications.Service
	Metrics    *metrics.ReconciliationMetrics
	Logger     *logger.Logger
	Config     config.WalletConfig
	Now        func() time.Time
}

type Engine struct {
	repo     Repository
	api      API
	ledger   ledger.Service
	notifier notifications.Service
	metrics  *metrics.ReconciliationMetrics
	logg     *logger.Logger
	cfg      config.WalletConfig
	now      func() time.Time
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if params.API == nil {
		return nil, fmt.Errorf("wallet api required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		repo:     params.Repository,
		api:      params.API,
		ledger:   params.Ledger,
		notifier: params.Notifier,
		metrics:  params.Metrics,
		logg:     params.Logger,
		cfg:      params.Config,
		now:      now,
	}, nil
}

// DraftInput describes a new monthly agreement. ChargeDay 0 means the last
// day of the month; days past 28 are moved to 28.
type DraftInput struct {
	KID           string          `json:"kid" validate:"required,kid"`
	AmountNOK     decimal.Decimal `json:"amount"`
	InitialCharge bool            `json:"initial_charge"`
	ChargeDay     int             `json:"charge_day" validate:"min=0,max=31"`
}

type DraftResult struct {
	AgreementID string    `json:"agreement_id"`
	URL         string    `json:"url"`
	URLCode     string    `json:"url_code"`
	ChargeID    string    `json:"charge_id,omitempty"`
	Poll        *PollTask `json:"-"`
}

// DraftAgreement creates the agreement remotely and mirrors it. The caller
// starts the returned poll, which activates the agreement and captures its
// initial charge once the donor approves.
func (e *Engine) DraftAgreement(ctx context.Context, in DraftInput) (DraftResult, error) {
	ctx = e.logg.WithFields(ctx, map[string]any{"provider": provider, "kid": in.KID})
	if in.KID == "" || !in.AmountNOK.IsPositive() {
		return DraftResult{}, pkgerrors.New(pkgerrors.CodeValidation, "kid and a positive amount are required")
	}
	if in.ChargeDay < 0 {
		return DraftResult{}, pkgerrors.New(pkgerrors.CodeValidation, "charge day must not be negative")
	}
	day := min(in.ChargeDay, maxChargeDay)

	donor, err := e.ledger.DonorByKID(ctx, in.KID)
	if err != nil {
		return DraftResult{}, err
	}

	price := toMinor(in.AmountNOK)
	urlCode := strings.ReplaceAll(uuid.NewString(), "-", "")
	req := DraftRequest{
		Currency:             currency,
		Interval:             "MONTH",
		IntervalCount:        1,
		MerchantRedirectURL:  e.cfg.MerchantRedirectURL,
		MerchantAgreementURL: strings.TrimRight(e.cfg.MerchantAgreementURL, "/") + "/" + urlCode,
		Price:                price,
		ProductName:          e.cfg.ProductName,
		ProductDescription:   urlCode,
	}
	if in.InitialCharge {
		req.InitialCharge = &InitialCharge{
			Amount:          price,
			Currency:        currency,
			Description:     "Første donasjon",
			TransactionType: "RESERVE_CAPTURE",
		}
	}

	resp, err := e.api.DraftAgreement(ctx, req)
	if err != nil {
		e.alert(ctx, "DRAFT", err, map[string]any{"kid": in.KID, "price": price, "charge_day": day})
		return DraftResult{}, err
	}
	ctx = e.logg.WithField(ctx, "agreement_id", resp.AgreementID)

	err = e.repo.CreateAgreement(ctx, &models.WalletAgreement{
		ID:               resp.AgreementID,
		DonorID:          donor.ID,
		KID:              in.KID,
		Amount:           in.AmountNOK,
		Status:           enums.WalletAgreementStatusPending,
		MonthlyChargeDay: day,
		URLCode:          urlCode,
	})
	if err != nil {
		stopped := string(enums.WalletAgreementStatusStopped)
		if stopErr := e.api.UpdateAgreement(ctx, resp.AgreementID, AgreementPatch{Status: &stopped}); stopErr != nil {
			err = multierr.Append(err, stopErr)
		}
		e.alert(ctx, "DRAFT", err, map[string]any{"kid": in.KID, "agreement_id": resp.AgreementID})
		return DraftResult{}, pkgerrors.Wrap(pkgerrors.CodeDB, err, "store drafted agreement; remote agreement stopped")
	}

	if resp.ChargeID != "" {
		if err := e.mirrorInitialCharge(ctx, resp.AgreementID, resp.ChargeID, in.AmountNOK); err != nil {
			e.logg.Error(ctx, "mirror initial charge failed", err)
		}
	}

	e.logg.Info(ctx, "wallet agreement drafted")
	return DraftResult{
		AgreementID: resp.AgreementID,
		URL:         resp.ConfirmationURL,
		URLCode:     urlCode,
		ChargeID:    resp.ChargeID,
		Poll:        e.newPoll(e.agreementTick(resp.AgreementID)),
	}, nil
}

func (e *Engine) mirrorInitialCharge(ctx context.Context, agreementID, chargeID string, amount decimal.Decimal) error {
	remote, err := e.api.GetCharge(ctx, agreementID, chargeID)
	if err != nil {
		return err
	}
	due, err := remote.DueDate()
	if err != nil {
		due = calendar.StartOfDay(e.now())
	}
	status := enums.WalletChargeStatus(remote.Status)
	if status == "" {
		status = enums.WalletChargeStatusReserved
	}
	return e.repo.UpsertCharge(ctx, &models.WalletCharge{
		ID:          chargeID,
		AgreementID: agreementID,
		AmountNOK:   amount,
		DueDate:     due,
		Status:      status,
		Type:        enums.WalletChargeTypeInitial,
	})
}

func (e *Engine) newPoll(tick func(context.Context, int) (bool, error)) *PollTask {
	return &PollTask{
		Tick:       tick,
		StartDelay: e.cfg.PollStartDelay,
		Interval:   e.cfg.PollInterval,
		Budget:     e.cfg.PollBudget,
		Clock:      cache.ClockFunc(e.now),
	}
}

// PollAgreement builds a poll for an agreement drafted earlier.
func (e *Engine) PollAgreement(agreementID string) *PollTask {
	return e.newPoll(e.agreementTick(agreementID))
}

// agreementTick mirrors the remote status. Once the agreement is ACTIVE the
// reserved initial charge is captured; a successful capture ends the poll.
func (e *Engine) agreementTick(agreementID string) func(context.Context, int) (bool, error) {
	return func(ctx context.Context, n int) (bool, error) {
		remote, err := e.api.GetAgreement(ctx, agreementID)
		if err != nil {
			return false, err
		}
		status := enums.WalletAgreementStatus(remote.Status)
		switch {
		case status == enums.WalletAgreementStatusActive:
			if err := e.repo.SetAgreementStatus(ctx, agreementID, status, e.now()); err != nil {
				return false, err
			}
			initial, err := e.repo.FindInitialCharge(ctx, agreementID)
			if err != nil {
				return false, err
			}
			if initial == nil || initial.Status == enums.WalletChargeStatusCharged {
				return true, nil
			}
			if err := e.api.CaptureCharge(ctx, agreementID, initial.ID, captureKey(agreementID, initial.ID)); err != nil {
				return false, err
			}
			return true, e.repo.SetChargeStatus(ctx, agreementID, initial.ID, enums.WalletChargeStatusCharged)
		case status.IsTerminal():
			return true, e.repo.SetAgreementStatus(ctx, agreementID, status, e.now())
		default:
			e.logg.Debug(e.logg.WithField(ctx, "poll", n), "agreement still pending")
			return false, nil
		}
	}
}

func captureKey(agreementID, chargeID string) string {
	sum := sha256.Sum256([]byte(agreementID + chargeID))
	return hex.EncodeToString(sum[:])
}

type OrderResult struct {
	OrderID string    `json:"order_id"`
	URL     string    `json:"url"`
	Poll    *PollTask `json:"-"`
}

// InitiateOrder starts a one-off payment for kid.
func (e *Engine) InitiateOrder(ctx context.Context, kid string, amountNOK decimal.Decimal) (OrderResult, error) {
	if kid == "" || !amountNOK.IsPositive() {
		return OrderResult{}, pkgerrors.New(pkgerrors.CodeValidation, "kid and a positive amount are required")
	}
	donor, err := e.ledger.DonorByKID(ctx, kid)
	if err != nil {
		return OrderResult{}, err
	}
	orderID := fmt.Sprintf("%s-%d", kid, e.now().UnixMilli())
	prefix := strings.TrimRight(e.cfg.CallbackPrefix, "/")
	url, err := e.api.InitiateOrder(ctx, OrderRequest{
		OrderID:        orderID,
		AmountMinor:    toMinor(amountNOK),
		Text:           transactionText,
		CallbackPrefix: prefix,
		FallbackURL:    prefix + "/redirect/" + orderID,
		AuthToken:      strings.ReplaceAll(uuid.NewString(), "-", ""),
	})
	if err != nil {
		return OrderResult{}, err
	}
	if err := e.repo.CreateOrder(ctx, &models.WalletOrder{OrderID: orderID, DonorID: donor.ID, KID: kid, Amount: amountNOK}); err != nil {
		return OrderResult{}, pkgerrors.Wrap(pkgerrors.CodeDB, err, "store order")
	}
	return OrderResult{OrderID: orderID, URL: url, Poll: e.newPoll(e.orderTick(orderID))}, nil
}

// orderTick records the donation once the order is captured. A reserved
// order is captured here; the next tick then sees the capture.
func (e *Engine) orderTick(orderID string) func(context.Context, int) (bool, error) {
	return func(ctx context.Context, _ int) (bool, error) {
		details, err := e.api.GetOrderDetails(ctx, orderID)
		if err != nil {
			return false, err
		}
		if details.Final() {
			if capture := details.Find("CAPTURE"); capture != nil {
				if err := e.recordOrder(ctx, orderID, *capture); err != nil {
					return false, err
				}
			}
			return true, e.repo.SetOrderStatus(ctx, orderID, lastOperation(details))
		}
		if reserve := details.Find("RESERVE"); reserve != nil {
			err := e.api.CaptureOrder(ctx, orderID, reserve.Amount)
			// 402 and 423 mean the callback captured it first
			if code := StatusCode(err); err != nil && code != 402 && code != 423 {
				return false, err
			}
		}
		return false, nil
	}
}

func (e *Engine) recordOrder(ctx context.Context, orderID string, capture TransactionLogItem) error {
	order, err := e.repo.FindOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order "+orderID+" not found")
	}
	_, err = e.ledger.RecordDonation(ctx, ledger.RecordDonationInput{
		DonorID:           order.DonorID,
		KID:               order.KID,
		PaymentMethod:     enums.PaymentMethodWalletOrder,
		Amount:            decimal.New(capture.Amount, -2),
		ExternalPaymentID: capture.TransactionID,
		RegisteredAt:      capture.TimeStamp,
	})
	if pkgerrors.IsDuplicate(err) {
		return nil
	}
	return err
}

func lastOperation(d OrderDetails) string {
	if len(d.TransactionLogHistory) == 0 {
		return ""
	}
	return d.TransactionLogHistory[len(d.TransactionLogHistory)-1].Operation
}

// CreateCharge asks the platform to charge amountNOK leadDays from today.
// The idempotency key allows one charge per agreement per day.
func (e *Engine) CreateCharge(ctx context.Context, agreementID string, amountNOK decimal.Decimal, leadDays int) (string, error) {
	if leadDays < minLeadDays {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("charges must be due at least %d days ahead", minLeadDays))
	}
	ctx = e.logg.WithFields(ctx, map[string]any{"provider": provider, "agreement_id": agreementID})
	today := calendar.StartOfDay(e.now())
	due := today.AddDate(0, 0, leadDays)

	local, err := e.repo.FindAgreement(ctx, agreementID)
	if err != nil {
		return "", err
	}
	if local == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "agreement "+agreementID+" not found")
	}
	remote, err := e.api.GetAgreement(ctx, agreementID)
	if err != nil {
		return "", err
	}
	if remote.Status != string(enums.WalletAgreementStatusActive) {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("agreement is %s, charges need ACTIVE", remote.Status))
	}
	existing, err := e.repo.FindLiveCharge(ctx, agreementID, enums.WalletChargeTypeRecurring, DueMonth(due))
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", pkgerrors.New(pkgerrors.CodeDuplicate, fmt.Sprintf("agreement already has charge %s due in %s", existing.ID, DueMonth(due)))
	}

	req := ChargeRequest{
		Amount:      toMinor(amountNOK),
		Currency:    currency,
		Description: chargeDescription,
		Due:         due.Format(time.DateOnly),
		RetryDays:   chargeRetryDays,
	}
	key := fmt.Sprintf("%d-%s", today.UnixMilli(), agreementID)
	chargeID, err := e.api.CreateCharge(ctx, agreementID, req, key)
	if err != nil {
		e.alert(ctx, "CHARGE", err, map[string]any{"agreement_id": agreementID, "due": req.Due, "amount": req.Amount})
		return "", err
	}
	status := enums.WalletChargeStatusPending
	if charge, err := e.api.GetCharge(ctx, agreementID, chargeID); err == nil && charge.Status != "" {
		status = enums.WalletChargeStatus(charge.Status)
	}
	err = e.repo.UpsertCharge(ctx, &models.WalletCharge{
		ID:          chargeID,
		AgreementID: agreementID,
		AmountNOK:   amountNOK,
		DueDate:     due,
		Status:      status,
		Type:        enums.WalletChargeTypeRecurring,
	})
	if err != nil {
		return chargeID, pkgerrors.Wrap(pkgerrors.CodeDB, err, "store charge")
	}
	e.logg.Info(e.logg.WithField(ctx, "charge_id", chargeID), "wallet charge created")
	return chargeID, nil
}

// PatchPrice changes the price on the platform only.
func (e *Engine) PatchPrice(ctx context.Context, agreementID string, priceMinor int64) error {
	if priceMinor < minPriceMinor {
		return pkgerrors.New(pkgerrors.CodeValidation, "price must be at least 100 øre")
	}
	return e.api.UpdateAgreement(ctx, agreementID, AgreementPatch{Price: &priceMinor})
}

// UpdatePrice changes the price remotely, then locally.
func (e *Engine) UpdatePrice(ctx context.Context, agreementID string, priceMinor int64) error {
	if err := e.PatchPrice(ctx, agreementID, priceMinor); err != nil {
		return err
	}
	return e.repo.SetAgreementAmount(ctx, agreementID, decimal.New(priceMinor, -2), e.now())
}

// UpdateStatus changes the remote status. STOPPED agreements cannot change.
func (e *Engine) UpdateStatus(ctx context.Context, agreementID string, status enums.WalletAgreementStatus) error {
	if !status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown status %q", status))
	}
	remote, err := e.api.GetAgreement(ctx, agreementID)
	if err != nil {
		return err
	}
	if remote.Status == string(enums.WalletAgreementStatusStopped) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cannot modify STOPPED agreements")
	}
	s := string(status)
	if err := e.api.UpdateAgreement(ctx, agreementID, AgreementPatch{Status: &s}); err != nil {
		return err
	}
	return e.repo.SetAgreementStatus(ctx, agreementID, status, e.now())
}

// UpdateChargeDay moves future charges; 0 is the last day of the month.
func (e *Engine) UpdateChargeDay(ctx context.Context, agreementID string, day int) error {
	if day < 0 || day > maxChargeDay {
		return pkgerrors.New(pkgerrors.CodeValidation, "charge day must be 0-28")
	}
	return e.repo.SetChargeDay(ctx, agreementID, day)
}

func (e *Engine) CancelCharge(ctx context.Context, agreementID, chargeID string) error {
	if err := e.api.CancelCharge(ctx, agreementID, chargeID); err != nil {
		return err
	}
	return e.repo.SetChargeStatus(ctx, agreementID, chargeID, enums.WalletChargeStatusCancelled)
}

// RefundCharge refunds a CHARGED charge in full.
func (e *Engine) RefundCharge(ctx context.Context, agreementID, chargeID string) error {
	charge, err := e.api.GetCharge(ctx, agreementID, chargeID)
	if err != nil {
		return err
	}
	if charge.Status != string(enums.WalletChargeStatusCharged) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("charge is %s, only CHARGED can be refunded", charge.Status))
	}
	if err := e.api.RefundCharge(ctx, agreementID, chargeID, charge.Amount, agreementID+"-"+chargeID); err != nil {
		return err
	}
	return e.repo.SetChargeStatus(ctx, agreementID, chargeID, enums.WalletChargeStatusRefunded)
}

type FutureChargesResult struct {
	ActiveAgreements int `json:"active_agreements"`
	CreatedCharges   int `json:"created_charges"`
}

// CreateFutureDueCharges creates the charges falling due ChargeDaysInAdvance
// days from now. Paused agreements, agreements no longer active remotely and
// months already charged are skipped.
func (e *Engine) CreateFutureDueCharges(ctx context.Context) (FutureChargesResult, error) {
	ctx = e.logg.WithProvider(ctx, provider)
	now := e.now()
	lead := max(e.cfg.ChargeDaysInAdvance, minLeadDays)
	due := calendar.StartOfDay(now).AddDate(0, 0, lead)
	dueIsLastDay := due.AddDate(0, 0, 1).Day() == 1

	agreements, err := e.repo.ListActive(ctx)
	if err != nil {
		return FutureChargesResult{}, err
	}
	result := FutureChargesResult{ActiveAgreements: len(agreements)}
	var errs error
	for _, a := range agreements {
		matches := a.MonthlyChargeDay == due.Day() ||
			(a.MonthlyChargeDay == 0 && dueIsLastDay) ||
			(a.ForceChargeDate != nil && calendar.SameDate(*a.ForceChargeDate, due))
		if !matches {
			continue
		}
		if a.PausedUntil != nil && !a.PausedUntil.Before(now) {
			continue
		}
		remote, err := e.api.GetAgreement(ctx, a.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("agreement %s: %w", a.ID, err))
			continue
		}
		if remote.Status != string(enums.WalletAgreementStatusActive) {
			continue
		}
		charged, err := e.hasChargedDueMonth(ctx, a.ID, due)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("agreement %s: %w", a.ID, err))
			continue
		}
		if charged {
			continue
		}
		if _, err := e.CreateCharge(ctx, a.ID, decimal.New(remote.Price, -2), lead); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("agreement %s: %w", a.ID, err))
			continue
		}
		result.CreatedCharges++
	}
	e.metrics.Record(provider, "charge", metrics.OutcomeOK, result.CreatedCharges)
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"active_agreements": result.ActiveAgreements,
		"created_charges":   result.CreatedCharges,
		"due":               due.Format(time.DateOnly),
	}), "future wallet charges created")
	return result, errs
}

func (e *Engine) hasChargedDueMonth(ctx context.Context, agreementID string, due time.Time) (bool, error) {
	charges, err := e.api.ListCharges(ctx, agreementID)
	if err != nil {
		return false, err
	}
	for _, c := range charges {
		if c.Status != string(enums.WalletChargeStatusCharged) {
			continue
		}
		d, err := c.DueDate()
		if err != nil {
			continue
		}
		if d.Year() == due.Year() && d.Month() == due.Month() {
			return true, nil
		}
	}
	return false, nil
}

type SyncResult struct {
	Agreements int      `json:"agreements"`
	Charges    int      `json:"charges"`
	Donations  int      `json:"donations"`
	Unknown    []string `json:"unknown,omitempty"`
	Conflicts  []string `json:"conflicts,omitempty"`
}

// Synchronize mirrors every remote agreement and charge. Each CHARGED charge
// becomes one donation with external id {agreementID}.{chargeID}.
func (e *Engine) Synchronize(ctx context.Context) (SyncResult, error) {
	ctx = e.logg.WithProvider(ctx, provider)
	var result SyncResult
	var errs error
	for _, status := range remoteStatuses {
		remotes, err := e.api.ListAgreements(ctx, string(status))
		if err != nil {
			return result, fmt.Errorf("list %s agreements: %w", status, err)
		}
		for _, remote := range remotes {
			if err := e.syncAgreement(ctx, remote, &result); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("agreement %s: %w", remote.ID, err))
			}
		}
	}
	e.metrics.Record(provider, "sync", metrics.OutcomeOK, result.Donations)
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"agreements": result.Agreements,
		"charges":    result.Charges,
		"donations":  result.Donations,
	}), "wallet synchronized")
	return result, errs
}

func (e *Engine) syncAgreement(ctx context.Context, remote RemoteAgreement, result *SyncResult) error {
	local, err := e.repo.FindAgreement(ctx, remote.ID)
	if err != nil {
		return err
	}
	if local == nil {
		// no donor or KID is known for agreements drafted elsewhere
		result.Unknown = append(result.Unknown, remote.ID)
		e.logg.Warn(e.logg.WithField(ctx, "agreement_id", remote.ID), "remote agreement missing locally")
		return nil
	}
	now := e.now()
	price := decimal.New(remote.Price, -2)
	if !price.Equal(local.Amount) {
		if err := e.repo.SetAgreementAmount(ctx, local.ID, price, now); err != nil {
			return err
		}
	}
	if status := enums.WalletAgreementStatus(remote.Status); status != local.Status {
		if err := e.repo.SetAgreementStatus(ctx, local.ID, status, now); err != nil {
			return err
		}
	}
	result.Agreements++

	charges, err := e.api.ListCharges(ctx, remote.ID)
	if err != nil {
		return err
	}
	for _, c := range charges {
		due, err := c.DueDate()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeProtocolParse, err, "charge "+c.ID+" due date")
		}
		chargeType := enums.WalletChargeType(c.Type)
		if !chargeType.IsValid() {
			chargeType = enums.WalletChargeTypeRecurring
		}
		err = e.repo.UpsertCharge(ctx, &models.WalletCharge{
			ID:          c.ID,
			AgreementID: remote.ID,
			AmountNOK:   decimal.New(c.Amount, -2),
			DueDate:     due,
			Status:      enums.WalletChargeStatus(c.Status),
			Type:        chargeType,
		})
		switch {
		case err == nil:
			result.Charges++
		case db.IsUniqueViolation(err, ""):
			// the platform holds two live charges for one month; book the money, flag the charge
			result.Conflicts = append(result.Conflicts, c.ID)
			e.logg.Warn(e.logg.WithFields(ctx, map[string]any{"agreement_id": remote.ID, "charge_id": c.ID}), "second live charge in due month")
		default:
			return err
		}
		if c.Status != string(enums.WalletChargeStatusCharged) {
			continue
		}
		recorded, err := e.recordCharge(ctx, *local, c, due, now)
		if err != nil {
			return err
		}
		if recorded {
			result.Donations++
		}
	}
	return nil
}

func (e *Engine) recordCharge(ctx context.Context, agreement models.WalletAgreement, c RemoteCharge, due, now time.Time) (bool, error) {
	registered := due
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	// a charge retried past month end is booked today, not in the closed month
	if now.Day() >= 2 && due.Before(thisMonth) {
		registered = now
	}
	_, err := e.ledger.RecordDonation(ctx, ledger.RecordDonationInput{
		DonorID:           agreement.DonorID,
		KID:               agreement.KID,
		PaymentMethod:     enums.PaymentMethodWallet,
		Amount:            decimal.New(c.Amount, -2),
		ExternalPaymentID: agreement.ID + "." + c.ID,
		RegisteredAt:      registered,
	})
	if pkgerrors.IsDuplicate(err) {
		return false, nil
	}
	return err == nil, err
}

func (e *Engine) alert(ctx context.Context, operation string, err error, fields map[string]any) {
	e.logg.Error(e.logg.WithFields(ctx, fields), "wallet "+strings.ToLower(operation)+" failed", err)
	if e.notifier == nil {
		return
	}
	alert := notifications.Alert{
		Subject: "Wallet " + operation + " failed",
		Detail:  err.Error(),
		Fields:  fields,
	}
	if notifyErr := e.notifier.AlertOperator(ctx, alert); notifyErr != nil {
		e.logg.Warn(ctx, "operator alert failed: "+notifyErr.Error())
	}
}

func toMinor(nok decimal.Decimal) int64 {
	return nok.Shift(2).Round(0).IntPart()
}
