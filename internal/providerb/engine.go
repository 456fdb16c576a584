// Package providerb runs the Swedish bank direct-debit rail: inbound
// Bankgirot reports and the withdrawal files sent back each banking day.
package providerb

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/giroflow-backend/internal/ledger"
	"github.com/angelmondragon/giroflow-backend/internal/reconcile"
	"github.com/angelmondragon/giroflow-backend/pkg/archive"
	"github.com/angelmondragon/giroflow-backend/pkg/calendar"
	"github.com/angelmondragon/giroflow-backend/pkg/config"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
	"github.com/angelmondragon/giroflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
	"github.com/angelmondragon/giroflow-backend/pkg/metrics"
	"github.com/angelmondragon/giroflow-backend/pkg/outbox"
	"github.com/angelmondragon/giroflow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/giroflow-backend/pkg/sftp"
)

const (
	provider = string(enums.AgreementTypeProviderB)

	// claims are queued at most this many days ahead of their date
	claimHorizonDays = 14
	dueMonthLayout   = "2006-01"
)

// EngineParams wires the ProviderB engine.
type EngineParams struct {
	Repository Repository
	Ledger     ledger.Service
	Tx         ledger.TxRunner
	Transfer   sftp.Transfer
	Archive    archive.Archiver
	Guard      reconcile.Guard
	Outbox     outbox.Emitter
	Metrics    *metrics.ReconciliationMetrics
	Logger     *logger.Logger
	Config     config.ProviderBConfig
	Now        func() time.Time
}

type Engine struct {
	repo     Repository
	ledger   ledger.Service
	tx       ledger.TxRunner
	transfer sftp.Transfer
	archive  archive.Archiver
	guard    reconcile.Guard
	outbox   outbox.Emitter
	metrics  *metrics.ReconciliationMetrics
	logg     *logger.Logger
	cfg      config.ProviderBConfig
	cal      calendar.Calendar
	now      func() time.Time
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("providerb repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Transfer == nil {
		return nil, fmt.Errorf("file transfer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	arch := params.Archive
	if arch == nil {
		arch = archive.Noop{}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		repo:     params.Repository,
		ledger:   params.Ledger,
		tx:       params.Tx,
		transfer: params.Transfer,
		archive:  arch,
		guard:    params.Guard,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     params.Logger,
		cfg:      params.Config,
		cal:      calendar.Sweden(),
		now:      now,
	}, nil
}

// RegisterAgreement stores a new active agreement. paymentDay 0 means the
// last day of the month.
func (e *Engine) RegisterAgreement(ctx context.Context, kid string, amountMinor int64, paymentDay int) (*models.ProviderBAgreement, error) {
	if kid == "" || amountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "kid and a positive amount are required")
	}
	if paymentDay < 0 || paymentDay > 28 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment day must be 0-28")
	}
	agreement := &models.ProviderBAgreement{
		KID:         kid,
		Amount:      amountMinor,
		PaymentDate: paymentDay,
		Status:      enums.ProviderBStatusActive,
	}
	if err := e.repo.CreateAgreement(ctx, agreement); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDB, err, "create agreement")
	}
	return agreement, nil
}

// ImportResult counts what one inbound file changed.
type ImportResult struct {
	Content           Content                  `json:"content"`
	Donations         int                      `json:"donations"`
	FailedCharges     int                      `json:"failed_charges"`
	Cancelled         int                      `json:"cancelled"`
	Amendments        int                      `json:"amendments"`
	Refunds           int                      `json:"refunds"`
	MandatesAdded     int                      `json:"mandates_added"`
	MandatesActivated int                      `json:"mandates_activated"`
	MandatesCancelled int                      `json:"mandates_cancelled"`
	Skipped           int                      `json:"skipped"`
	Failed            []reconcile.FailedRecord `json:"failed"`
}

func (r *ImportResult) fail(id string, err error) {
	r.Failed = append(r.Failed, reconcile.FailedRecord{Identifier: id, Reason: err.Error()})
}

// ImportFile parses an inbound report and applies it. A bad record is
// collected in Failed; only an unreadable file returns an error.
func (e *Engine) ImportFile(ctx context.Context, content []byte) (ImportResult, error) {
	file, err := ParseFile(content)
	if err != nil {
		return ImportResult{}, err
	}
	ctx = e.logg.WithField(ctx, "contents", string(file.Opening.Content))
	var result ImportResult
	switch file.Opening.Content {
	case ContentPaymentSpecification:
		result = e.ImportPaymentSpecification(ctx, file)
	case ContentRejectedCharges:
		result = e.ImportRejectedCharges(ctx, file.Rejected)
	case ContentCancellations:
		result = e.ImportCancellations(ctx, file.Cancellations, file.Amendments)
	case ContentEMandates:
		result = e.ImportEMandates(ctx, file.EMandates)
	case ContentMandateAdvice:
		result = e.ImportMandateAdvice(ctx, file.Mandates)
	}
	result.Content = file.Opening.Content
	e.metrics.Record(provider, kindLabel(result.Content), metrics.OutcomeSkipped, result.Skipped)
	e.metrics.Record(provider, kindLabel(result.Content), metrics.OutcomeFailed, len(result.Failed))
	return result, nil
}

func kindLabel(c Content) string {
	switch c {
	case ContentPaymentSpecification:
		return "payment"
	case ContentRejectedCharges:
		return "rejected"
	case ContentCancellations:
		return "cancellation"
	case ContentEMandates:
		return "emandate"
	default:
		return "mandate"
	}
}

// ImportPaymentSpecification records one donation per approved incoming
// payment and marks its charge CHARGED. Declined payments fail the charge.
func (e *Engine) ImportPaymentSpecification(ctx context.Context, file File) ImportResult {
	var result ImportResult
	for _, d := range file.Deposits {
		for _, p := range d.Payments {
			id := p.Date.Format(fileDateStyle) + "." + p.Reference
			switch p.Status {
			case PaymentApproved:
				recorded, err := e.recordPayment(ctx, p, id)
				switch {
				case err != nil:
					result.fail(id, err)
				case recorded:
					result.Donations++
				default:
					result.Skipped++
				}
			case PaymentInsufficientFunds, PaymentAccountClosed:
				if err := e.setChargeStatus(ctx, p.Reference, enums.ChargeStatusFailed); err != nil {
					result.fail(id, err)
					continue
				}
				result.FailedCharges++
			default:
				result.Skipped++
			}
		}
	}
	for _, w := range file.Withdrawals {
		result.Skipped += len(w.Payments)
	}
	for _, r := range file.Refunds {
		result.Refunds++
		e.logg.Warn(e.logg.WithFields(ctx, map[string]any{
			"reference":    r.Reference,
			"amount_minor": r.AmountMinor,
			"refund_code":  r.Code,
		}), "payment refunded to payer")
	}
	e.metrics.Record(provider, "payment", metrics.OutcomeOK, result.Donations)
	return result
}

func (e *Engine) recordPayment(ctx context.Context, p Payment, externalID string) (bool, error) {
	charge, err := e.chargeByReference(ctx, p.Reference)
	if err != nil {
		return false, err
	}
	agreement, err := e.repo.FindAgreement(ctx, charge.AgreementID)
	if err != nil {
		return false, err
	}
	if agreement == nil {
		return false, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("agreement %d not found", charge.AgreementID))
	}
	donor, err := e.ledger.DonorByKID(ctx, agreement.KID)
	if err != nil {
		return false, err
	}
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := e.ledger.RecordDonationTx(ctx, tx, ledger.RecordDonationInput{
			DonorID:           donor.ID,
			KID:               agreement.KID,
			PaymentMethod:     enums.PaymentMethodProviderB,
			Amount:            decimal.New(p.AmountMinor, -2),
			ExternalPaymentID: externalID,
			RegisteredAt:      p.Date,
		})
		if err != nil {
			return err
		}
		return e.repo.WithTx(tx).SetChargeStatus(ctx, charge.ID, enums.ChargeStatusCharged)
	})
	if pkgerrors.IsDuplicate(err) {
		return false, nil
	}
	return err == nil, err
}

// ImportRejectedCharges fails every charge the bank refused to queue.
func (e *Engine) ImportRejectedCharges(ctx context.Context, rejected []RejectedCharge) ImportResult {
	var result ImportResult
	for _, r := range rejected {
		if r.Outgoing {
			result.Skipped++
			continue
		}
		if err := e.setChargeStatus(ctx, r.Reference, enums.ChargeStatusFailed); err != nil {
			result.fail(r.Reference, err)
			continue
		}
		result.FailedCharges++
		e.logg.Warn(e.logg.WithFields(ctx, map[string]any{"reference": r.Reference, "comment": r.CommentCode}), "charge rejected by bank")
	}
	return result
}

// ImportCancellations cancels the referenced charges. Amendments are
// reported in the log only.
func (e *Engine) ImportCancellations(ctx context.Context, cancellations []Cancellation, amendments []Amendment) ImportResult {
	var result ImportResult
	for _, c := range cancellations {
		if c.PaymentCode != paymentCodeIncoming {
			result.Skipped++
			continue
		}
		if err := e.setChargeStatus(ctx, c.Reference, enums.ChargeStatusCancelled); err != nil {
			result.fail(c.Reference, err)
			continue
		}
		result.Cancelled++
	}
	for _, a := range amendments {
		result.Amendments++
		e.logg.Warn(e.logg.WithFields(ctx, map[string]any{"code": a.Code, "kid": KIDFromPayerNumber(a.PayerNumber), "record": a.Line}),
			"bank amended a queued charge")
	}
	return result
}

// ImportEMandates stores each new e-mandate as NEW. The donor is matched on
// the KID or created from the payer name, and gets a tax unit for the SSN.
func (e *Engine) ImportEMandates(ctx context.Context, mandates []EMandate) ImportResult {
	var result ImportResult
	for _, m := range mandates {
		kid := KIDFromPayerNumber(m.PayerNumber)
		added, err := e.addMandate(ctx, kid, m)
		switch {
		case err != nil:
			result.fail(kid, err)
			e.logg.Error(e.logg.WithKID(ctx, kid), "e-mandate import failed", err)
		case added:
			result.MandatesAdded++
		default:
			result.Skipped++
		}
	}
	e.metrics.Record(provider, "emandate", metrics.OutcomeOK, result.MandatesAdded)
	return result
}

func (e *Engine) addMandate(ctx context.Context, kid string, m EMandate) (bool, error) {
	existing, err := e.repo.FindMandateByKID(ctx, kid)
	if err != nil {
		return false, err
	}
	if existing != nil && existing.Status != enums.MandateStatusCancelled && existing.Status != enums.MandateStatusRejected {
		return false, nil
	}

	donor, err := e.ledger.DonorByKID(ctx, kid)
	if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		donor, err = e.ledger.FindOrCreateDonor(ctx, "", m.Name())
	}
	if err != nil {
		return false, err
	}

	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := e.ledger.EnsureTaxUnit(ctx, tx, donor.ID, m.Name(), m.SSN); err != nil {
			return err
		}
		return e.repo.WithTx(tx).CreateMandate(ctx, &models.ProviderBMandate{
			KID:                kid,
			BankAccount:        m.BankAccount,
			SpecialInformation: m.SpecialInformation,
			NameAndAddress:     m.NameAndAddress,
			PostalCode:         m.PostalCode,
			PostalCity:         m.PostalCity,
			Status:             enums.MandateStatusNew,
		})
	})
	return err == nil, err
}

// ImportMandateAdvice moves mandates through the bank's verdicts. A mandate
// only becomes ACTIVE from PENDING; cancellation and deletion codes end it
// and cancel the agreements on its KID.
func (e *Engine) ImportMandateAdvice(ctx context.Context, advice []MandateAdvice) ImportResult {
	var result ImportResult
	for _, a := range advice {
		kid := KIDFromPayerNumber(a.PayerNumber)
		mandate, err := e.repo.FindMandateByKID(ctx, kid)
		if err != nil {
			result.fail(kid, err)
			continue
		}
		if mandate == nil {
			result.fail(kid, pkgerrors.New(pkgerrors.CodeNotFound, "no mandate for payer"))
			continue
		}

		switch {
		case a.Cancels():
			if mandate.Status == enums.MandateStatusCancelled || mandate.Status == enums.MandateStatusRejected {
				result.Skipped++
				continue
			}
			if err := e.cancelMandate(ctx, mandate); err != nil {
				result.fail(kid, err)
				continue
			}
			result.MandatesCancelled++
		case a.Activates():
			if mandate.Status != enums.MandateStatusPending {
				result.fail(kid, pkgerrors.New(pkgerrors.CodeStateConflict,
					fmt.Sprintf("mandate is %s, only PENDING can be activated", mandate.Status)))
				continue
			}
			if err := e.repo.SetMandateStatus(ctx, mandate.ID, enums.MandateStatusActive); err != nil {
				result.fail(kid, err)
				continue
			}
			result.MandatesActivated++
		default:
			result.fail(kid, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("unhandled mandate advice %d/%d", a.InfoCode, a.CommentCode)))
		}
	}
	e.metrics.Record(provider, "mandate", metrics.OutcomeOK, result.MandatesActivated+result.MandatesCancelled)
	return result
}

// cancelMandate rejects a PENDING mandate. NEW and ACTIVE ones are cancelled;
// a NEW mandate was withdrawn by the payer before we forwarded it.
func (e *Engine) cancelMandate(ctx context.Context, mandate *models.ProviderBMandate) error {
	next := enums.MandateStatusCancelled
	if mandate.Status == enums.MandateStatusPending {
		next = enums.MandateStatusRejected
	}
	return e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		if err := repo.SetMandateStatus(ctx, mandate.ID, next); err != nil {
			return err
		}
		cancelled, err := repo.CancelAgreementsByKID(ctx, mandate.KID, e.now())
		if err != nil || cancelled == 0 || e.outbox == nil {
			return err
		}
		return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAgreementCancelled,
			AggregateType: enums.AggregateAgreement,
			AggregateID:   provider + "-" + mandate.KID,
			Data: payloads.AgreementStatusEvent{
				AgreementType: enums.AgreementTypeProviderB,
				KID:           mandate.KID,
				Status:        string(enums.ProviderBStatusCancelled),
			},
		})
	})
}

func (e *Engine) chargeByReference(ctx context.Context, reference string) (*models.ProviderBCharge, error) {
	id, err := strconv.ParseInt(reference, 10, 64)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("reference %q is not a charge id", reference))
	}
	charge, err := e.repo.FindCharge(ctx, id)
	if err != nil {
		return nil, err
	}
	if charge == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("charge %d not found", id))
	}
	return charge, nil
}

func (e *Engine) setChargeStatus(ctx context.Context, reference string, status enums.ChargeStatus) error {
	charge, err := e.chargeByReference(ctx, reference)
	if err != nil {
		return err
	}
	return e.repo.SetChargeStatus(ctx, charge.ID, status)
}

// AmendmentCandidate is a PENDING charge whose agreement changed after the
// charge was queued.
type AmendmentCandidate struct {
	Charge             models.ProviderBCharge `json:"charge"`
	KID                string                 `json:"kid"`
	AgreementAmount    int64                  `json:"agreement_amount"`
	AgreementDay       int                    `json:"agreement_day"`
	ChangedAmount      bool                   `json:"changed_amount"`
	ChangedDate        bool                   `json:"changed_date"`
	AgreementCancelled bool                   `json:"agreement_cancelled"`
}

// AmendmentCandidates compares every PENDING charge with its agreement.
func (e *Engine) AmendmentCandidates(ctx context.Context) ([]AmendmentCandidate, error) {
	charges, err := e.repo.ListChargesByStatus(ctx, enums.ChargeStatusPending)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(charges))
	for _, c := range charges {
		ids = append(ids, c.AgreementID)
	}
	agreements, err := e.repo.FindAgreements(ctx, ids)
	if err != nil {
		return nil, err
	}

	var out []AmendmentCandidate
	for _, c := range charges {
		a, ok := agreements[c.AgreementID]
		if !ok {
			continue
		}
		candidate := AmendmentCandidate{
			Charge:             c,
			KID:                a.KID,
			AgreementAmount:    a.Amount,
			AgreementDay:       a.PaymentDate,
			ChangedAmount:      c.Amount != a.Amount,
			ChangedDate:        changedDate(c.ClaimDate, a.PaymentDate),
			AgreementCancelled: a.Status == enums.ProviderBStatusCancelled,
		}
		if candidate.ChangedAmount || candidate.ChangedDate || candidate.AgreementCancelled {
			out = append(out, candidate)
		}
	}
	return out, nil
}

// changedDate reports whether a claim date no longer matches the payment day.
// Day 0 means the last day of the month.
func changedDate(claim time.Time, paymentDay int) bool {
	if paymentDay == 0 {
		return !calendar.IsLastDayOfMonth(claim)
	}
	return claim.Day() != paymentDay
}

// Claim is an agreement to charge on DueDate.
type Claim struct {
	Agreement models.ProviderBAgreement
	DueDate   time.Time
}

// GenerateClaimFile writes a withdrawal file. Each charge row is inserted
// before its withdrawal record so its id can be the bank reference. Amended
// charges are cancelled in the same file and mandates awaiting confirmation
// move to PENDING. Nothing is stored if any record fails.
func (e *Engine) GenerateClaimFile(ctx context.Context, shipmentID int64, claims []Claim, amended []AmendmentCandidate, mandates []models.ProviderBMandate) (ClaimFile, error) {
	var file ClaimFile
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		file, err = e.writeClaimFile(ctx, e.repo.WithTx(tx), shipmentID, claims, amended, mandates)
		return err
	})
	return file, err
}

func (e *Engine) writeClaimFile(ctx context.Context, repo Repository, shipmentID int64, claims []Claim, amended []AmendmentCandidate, mandates []models.ProviderBMandate) (ClaimFile, error) {
	w, err := NewFileWriter(Header{CustomerNumber: e.cfg.CustomerNumber, Bankgiro: e.cfg.Bankgiro}, shipmentID, e.now())
	if err != nil {
		return ClaimFile{}, err
	}

	for _, a := range amended {
		err := w.Cancellation(ChargeCancellation{
			ClaimDate:   a.Charge.ClaimDate,
			PayerNumber: PayerNumber(a.KID),
			AmountMinor: a.Charge.Amount,
			Reference:   strconv.FormatInt(a.Charge.ID, 10),
		})
		if err != nil {
			return ClaimFile{}, err
		}
		status := enums.ChargeStatusAmended
		if a.AgreementCancelled {
			status = enums.ChargeStatusCancelled
		}
		if err := repo.SetChargeStatus(ctx, a.Charge.ID, status); err != nil {
			return ClaimFile{}, err
		}
	}

	for _, c := range claims {
		due := calendar.StartOfDay(c.DueDate)
		charge := &models.ProviderBCharge{
			AgreementID: c.Agreement.ID,
			ShipmentID:  shipmentID,
			Amount:      c.Agreement.Amount,
			ClaimDate:   due,
			DueMonth:    due.Format(dueMonthLayout),
			Status:      enums.ChargeStatusPending,
		}
		if err := repo.CreateCharge(ctx, charge); err != nil {
			return ClaimFile{}, fmt.Errorf("queue charge for agreement %d: %w", c.Agreement.ID, err)
		}
		err := w.Withdrawal(Withdrawal{
			Date:        due,
			PayerNumber: PayerNumber(c.Agreement.KID),
			AmountMinor: charge.Amount,
			Reference:   strconv.FormatInt(charge.ID, 10),
		})
		if err != nil {
			return ClaimFile{}, err
		}
	}

	for _, m := range mandates {
		if err := w.MandateConfirmation(MandateConfirmation{PayerNumber: PayerNumber(m.KID), BankAccount: m.BankAccount}); err != nil {
			return ClaimFile{}, err
		}
		if err := repo.SetMandateStatus(ctx, m.ID, enums.MandateStatusPending); err != nil {
			return ClaimFile{}, err
		}
	}
	return w.Close(), nil
}

// ClaimsResult describes one claim run.
type ClaimsResult struct {
	Skipped       bool      `json:"skipped"`
	ShipmentID    int64     `json:"shipment_id,omitempty"`
	Filename      string    `json:"filename,omitempty"`
	Charges       int       `json:"charges"`
	Cancellations int       `json:"cancellations"`
	Confirmations int       `json:"confirmations"`
	TotalMinor    int64     `json:"total_minor"`
	RunDate       time.Time `json:"run_date"`
}

// RunClaims sends today's withdrawal file. It does nothing on days the
// Swedish banks are closed.
func (e *Engine) RunClaims(ctx context.Context) (ClaimsResult, error) {
	today := calendar.StartOfDay(e.now())
	result := ClaimsResult{RunDate: today}
	ctx = e.logg.WithProvider(ctx, provider)
	if !e.cal.IsBankingDay(today) {
		result.Skipped = true
		return result, nil
	}

	amended, reclaims, err := e.planAmendments(ctx, today)
	if err != nil {
		return result, fmt.Errorf("amendment candidates: %w", err)
	}
	claims, err := e.dueClaims(ctx, today)
	if err != nil {
		return result, fmt.Errorf("list claimable agreements: %w", err)
	}
	claims = append(claims, reclaims...)
	mandates, err := e.repo.ListMandatesByStatus(ctx, enums.MandateStatusNew)
	if err != nil {
		return result, fmt.Errorf("list new mandates: %w", err)
	}
	if len(claims) == 0 && len(amended) == 0 && len(mandates) == 0 {
		return result, nil
	}

	// Only database work runs inside the transactions below; a replayed
	// transaction must never upload the file again.
	var file ClaimFile
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		shipmentID, err := repo.CreateShipment(ctx, len(claims))
		if err != nil {
			return fmt.Errorf("create shipment: %w", err)
		}
		result.ShipmentID = shipmentID
		file, err = e.writeClaimFile(ctx, repo, shipmentID, claims, amended, mandates)
		if err != nil {
			return fmt.Errorf("generate claim file: %w", err)
		}
		return nil
	})
	if err != nil {
		result.ShipmentID = 0
		return result, err
	}
	ctx = e.logg.WithShipment(ctx, result.ShipmentID)

	if err := e.transfer.Write(ctx, sftp.Join(e.cfg.OutboundDir, file.Name), file.Content); err != nil {
		err = fmt.Errorf("upload %s: %w", file.Name, err)
		if revertErr := e.revertShipment(ctx, result.ShipmentID, amended, mandates); revertErr != nil {
			e.logg.Error(ctx, "claim file not uploaded and shipment not reverted", revertErr)
			err = multierr.Append(err, revertErr)
		}
		result.ShipmentID = 0
		return result, err
	}

	result.Filename = file.Name
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.repo.WithTx(tx).MarkShipmentSent(ctx, result.ShipmentID, file.Name, e.now()); err != nil {
			return err
		}
		return e.emitShipment(ctx, tx, result.ShipmentID, file, today)
	})
	if err != nil {
		// the bank has the file and the charges are stored; only the receipt is missing
		e.logg.Error(ctx, "claim file uploaded but shipment not marked sent", err)
		return result, fmt.Errorf("mark shipment %d sent: %w", result.ShipmentID, err)
	}

	if err := e.archive.Put(ctx, provider, file.Name, file.Content); err != nil {
		e.logg.Warn(ctx, "archive claim file failed: "+err.Error())
	}
	e.metrics.File(provider, "sent")
	e.metrics.Claimed(provider, file.TotalMinor)
	e.metrics.Record(provider, "claim", metrics.OutcomeOK, file.Withdrawals)

	result.Charges = file.Withdrawals
	result.Cancellations = file.Cancellations
	result.Confirmations = file.Confirmations
	result.TotalMinor = file.TotalMinor
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"file":          file.Name,
		"charges":       file.Withdrawals,
		"cancellations": file.Cancellations,
		"confirmations": file.Confirmations,
	}), "claim file sent")
	return result, nil
}

// revertShipment undoes a shipment the bank never received: its charges go,
// amended charges are live again and confirmed mandates wait for the next file.
func (e *Engine) revertShipment(ctx context.Context, shipmentID int64, amended []AmendmentCandidate, mandates []models.ProviderBMandate) error {
	return e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		if err := repo.DeleteShipment(ctx, shipmentID); err != nil {
			return err
		}
		for _, a := range amended {
			if err := repo.SetChargeStatus(ctx, a.Charge.ID, a.Charge.Status); err != nil {
				return err
			}
		}
		for _, m := range mandates {
			if err := repo.SetMandateStatus(ctx, m.ID, m.Status); err != nil {
				return err
			}
		}
		return nil
	})
}

// dueClaims picks agreements with no live charge for this or next month
// whose date falls within the claim horizon and can still reach the bank.
// A date missed this month is moved to the next date the bank can honour.
func (e *Engine) dueClaims(ctx context.Context, today time.Time) ([]Claim, error) {
	horizon := today.AddDate(0, 0, claimHorizonDays)
	thisMonth := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())

	var claims []Claim
	for _, month := range []time.Time{thisMonth, thisMonth.AddDate(0, 1, 0)} {
		rows, err := e.repo.ListClaimable(ctx, month.Format(dueMonthLayout))
		if err != nil {
			return nil, err
		}
		for _, a := range rows {
			target := dayInMonth(month, a.PaymentDate)
			switch {
			case target.After(horizon):
			case e.hasLeadTime(today, target):
				claims = append(claims, Claim{Agreement: a, DueDate: target})
			case month.Equal(thisMonth) && a.CreatedAt.Before(target):
				if next, ok := e.nextClaimDate(today); ok {
					claims = append(claims, Claim{Agreement: a, DueDate: next})
				}
			}
		}
	}
	return claims, nil
}

// planAmendments picks the candidates whose charge can still be withdrawn
// and, for agreements still active, the claims replacing them.
func (e *Engine) planAmendments(ctx context.Context, today time.Time) ([]AmendmentCandidate, []Claim, error) {
	candidates, err := e.AmendmentCandidates(ctx)
	if err != nil {
		return nil, nil, err
	}
	var amend []AmendmentCandidate
	var reclaims []Claim
	for _, c := range candidates {
		if !e.hasLeadTime(today, c.Charge.ClaimDate) {
			e.logg.Warn(e.logg.WithField(ctx, "charge_id", c.Charge.ID), "charge changed too late to amend")
			continue
		}
		target := dayInMonth(c.Charge.ClaimDate, c.AgreementDay)
		retarget := c.ChangedDate && e.hasLeadTime(today, target) && !calendar.SameDate(target, c.Charge.ClaimDate)
		if !c.ChangedAmount && !c.AgreementCancelled && !retarget {
			continue
		}
		amend = append(amend, c)
		if c.AgreementCancelled {
			continue
		}
		agreement, err := e.repo.FindAgreement(ctx, c.Charge.AgreementID)
		if err != nil {
			return nil, nil, err
		}
		if agreement == nil {
			continue
		}
		due := c.Charge.ClaimDate
		if retarget {
			due = target
		}
		reclaims = append(reclaims, Claim{Agreement: *agreement, DueDate: due})
	}
	return amend, reclaims, nil
}

// hasLeadTime reports whether a whole banking day separates today from date.
func (e *Engine) hasLeadTime(today, date time.Time) bool {
	return e.cal.BankingDaysBetween(today.AddDate(0, 0, 1), calendar.StartOfDay(date)) >= 1
}

func (e *Engine) nextClaimDate(today time.Time) (time.Time, bool) {
	for d := today.AddDate(0, 0, 1); d.Month() == today.Month(); d = d.AddDate(0, 0, 1) {
		if e.hasLeadTime(today, d) {
			return d, true
		}
	}
	return time.Time{}, false
}

// dayInMonth returns day of month's month; 0 or a day past the end is the last day.
func dayInMonth(month time.Time, day int) time.Time {
	last := calendar.LastDayOfMonth(month)
	if day <= 0 || day > last.Day() {
		return last
	}
	return time.Date(month.Year(), month.Month(), day, 0, 0, 0, 0, month.Location())
}

func (e *Engine) emitShipment(ctx context.Context, tx *gorm.DB, shipmentID int64, file ClaimFile, runDate time.Time) error {
	if e.outbox == nil {
		return nil
	}
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventShipmentSent,
		AggregateType: enums.AggregateShipment,
		AggregateID:   provider + "-" + strconv.FormatInt(shipmentID, 10),
		Data: payloads.ShipmentSentEvent{
			ShipmentID: shipmentID,
			Provider:   enums.AgreementTypeProviderB,
			Filename:   file.Name,
			Claims:     file.Withdrawals,
			ClaimDate:  runDate,
		},
	})
}

// InboundResult is the outcome of one inbound sync.
type InboundResult struct {
	Files   reconcile.SyncResult `json:"files"`
	Imports []ImportResult       `json:"imports"`
}

// SyncInbound imports every new Bankgirot report once.
func (e *Engine) SyncInbound(ctx context.Context) (InboundResult, error) {
	if e.guard == nil {
		return InboundResult{}, pkgerrors.New(pkgerrors.CodeInternal, "inbound guard not configured")
	}
	var result InboundResult
	inbox := reconcile.Inbox{
		Provider: provider,
		Dir:      e.cfg.InboundDir,
		Transfer: e.transfer,
		Guard:    e.guard,
		Archive:  e.archive,
		Logger:   e.logg,
		Metrics:  e.metrics,
		Handle: func(ctx context.Context, name string, content []byte) error {
			imported, err := e.ImportFile(ctx, content)
			if err != nil {
				return err
			}
			result.Imports = append(result.Imports, imported)
			return nil
		},
	}
	files, err := inbox.Sync(e.logg.WithProvider(ctx, provider))
	result.Files = files
	return result, err
}
