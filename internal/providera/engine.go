// Package providera runs the Norwegian direct-debit rail: agreement updates
// and payments from the clearing house, and the daily claim files sent back.
package providera

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/giroflow-backend/internal/ledger"
	"github.com/angelmondragon/giroflow-backend/internal/notifications"
	"github.com/angelmondragon/giroflow-backend/internal/reconcile"
	"github.com/angelmondragon/giroflow-backend/pkg/archive"
	"github.com/angelmondragon/giroflow-backend/pkg/calendar"
	"github.com/angelmondragon/giroflow-backend/pkg/config"
	"github.com/angelmondragon/giroflow-backend/pkg/db"
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
	provider      = string(enums.AgreementTypeProviderA)
	receiptPrefix = "KV.GODKJENT"
)

// EngineParams wires the ProviderA engine.
type EngineParams struct {
	Repository Repository
	Ledger     ledger.Service
	Tx         ledger.TxRunner
	Notifier   notifications.Service
	Transfer   sftp.Transfer
	Archive    archive.Archiver
	Guard      reconcile.Guard
	Outbox     outbox.Emitter
	Metrics    *metrics.ReconciliationMetrics
	Logger     *logger.Logger
	Config     config.ProviderAConfig
	Now        func() time.Time
}

type Engine struct {
	repo     Repository
	ledger   ledger.Service
	tx       ledger.TxRunner
	notifier notifications.Service
	transfer sftp.Transfer
	archive  archive.Archiver
	guard    reconcile.Guard
	outbox   outbox.Emitter
	metrics  *metrics.ReconciliationMetrics
	logg     *logger.Logger
	cfg      config.ProviderAConfig
	cal      calendar.Calendar
	now      func() time.Time
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("providera repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
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
		notifier: params.Notifier,
		transfer: params.Transfer,
		archive:  arch,
		guard:    params.Guard,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     params.Logger,
		cfg:      params.Config,
		cal:      calendar.Norway(),
		now:      now,
	}, nil
}

// GenerateClaimFile renders claims for agreements due on dueDate. Donor names
// are looked up for the bank statement text; a missing donor leaves it blank.
func (e *Engine) GenerateClaimFile(ctx context.Context, shipmentID int64, agreements []models.ProviderAAgreement, dueDate time.Time) (ClaimFile, error) {
	claims := make([]Claim, 0, len(agreements))
	for _, a := range agreements {
		name := ""
		donor, err := e.ledger.DonorByKID(ctx, a.KID)
		switch {
		case err == nil:
			name = donor.FullName
		case pkgerrors.Is(err, pkgerrors.CodeNotFound):
			e.logg.Warn(e.logg.WithKID(ctx, a.KID), "claim without donor name")
		default:
			return ClaimFile{}, err
		}
		claims = append(claims, Claim{KID: a.KID, AmountMinor: a.Amount, ShortName: name})
	}
	header := FileHeader{CustomerID: e.cfg.CustomerID, AccountNumber: e.cfg.AccountNumber}
	return WriteClaimFile(header, shipmentID, claims, calendar.StartOfDay(dueDate), e.now())
}

// IngestResult counts how agreement updates were applied.
type IngestResult struct {
	Activated  int                      `json:"activated"`
	Updated    int                      `json:"updated"`
	Added      int                      `json:"added"`
	Terminated int                      `json:"terminated"`
	Failed     []reconcile.FailedRecord `json:"failed"`
}

// IngestAgreementUpdates applies agreement records from the clearing house.
// Total readouts are ignored. An unknown KID becomes a new agreement priced
// like the donor's latest donation on that KID.
func (e *Engine) IngestAgreementUpdates(ctx context.Context, updates []AgreementUpdate) IngestResult {
	var result IngestResult
	today := calendar.StartOfDay(e.now())
	for _, u := range updates {
		if u.TotalReadout() {
			continue
		}
		if err := e.applyUpdate(ctx, u, today, &result); err != nil {
			result.Failed = append(result.Failed, reconcile.FailedRecord{Identifier: u.KID, Reason: err.Error()})
			e.logg.Error(e.logg.WithKID(ctx, u.KID), "agreement update failed", err)
		}
	}
	e.metrics.Record(provider, "agreement", metrics.OutcomeOK, result.Activated+result.Updated+result.Added+result.Terminated)
	e.metrics.Record(provider, "agreement", metrics.OutcomeFailed, len(result.Failed))
	return result
}

func (e *Engine) applyUpdate(ctx context.Context, u AgreementUpdate, today time.Time, result *IngestResult) error {
	if u.Terminated() {
		if _, err := e.repo.Cancel(ctx, u.KID, e.now()); err != nil {
			return err
		}
		result.Terminated++
		return nil
	}

	existing, err := e.repo.FindByKID(ctx, u.KID)
	if err != nil {
		return err
	}
	if existing == nil {
		// Agreements set up from the donor's own bank reach us here first.
		latest, err := e.ledger.LatestDonation(ctx, u.KID)
		if err != nil {
			return err
		}
		if latest == nil {
			return fmt.Errorf("no agreement or earlier donation for KID %s", u.KID)
		}
		existing = &models.ProviderAAgreement{
			KID:         u.KID,
			Amount:      latest.Amount.Shift(2).Round(0).IntPart(),
			PaymentDate: today.Day(),
			Notice:      u.Notice,
			Status:      enums.ProviderAStatusProposed,
			StartDate:   today,
		}
		if err := e.repo.Create(ctx, existing); err != nil {
			return err
		}
		result.Added++
	} else {
		if err := e.repo.UpdateNotice(ctx, u.KID, u.Notice); err != nil {
			return err
		}
		result.Updated++
	}

	if !existing.Active || existing.Status != enums.ProviderAStatusActive {
		if err := e.repo.SetActive(ctx, u.KID); err != nil {
			return err
		}
		result.Activated++
		e.emitAgreementStatus(ctx, existing, enums.EventAgreementActivated)
	}
	return nil
}

func (e *Engine) emitAgreementStatus(ctx context.Context, a *models.ProviderAAgreement, event enums.OutboxEventType) {
	if e.outbox == nil {
		return
	}
	id := strconv.FormatInt(a.ID, 10)
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     event,
			AggregateType: enums.AggregateAgreement,
			AggregateID:   id,
			Data: payloads.AgreementStatusEvent{
				AgreementID:   id,
				AgreementType: enums.AgreementTypeProviderA,
				KID:           a.KID,
				Status:        string(enums.ProviderAStatusActive),
			},
		})
	})
	if err != nil {
		e.logg.Error(e.logg.WithKID(ctx, a.KID), "queue agreement event failed", err)
	}
}

// NotifyResult counts reminder mails.
type NotifyResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// NotifyAgreements mails donors who asked to be told before a claim.
func (e *Engine) NotifyAgreements(ctx context.Context, agreements []models.ProviderAAgreement, claimDate time.Time) NotifyResult {
	var result NotifyResult
	for _, a := range agreements {
		donor, err := e.ledger.DonorByKID(ctx, a.KID)
		if err == nil {
			err = e.notifier.SendAgreementReminder(ctx, notifications.Reminder{
				Email:       donor.Email,
				Name:        donor.FullName,
				KID:         a.KID,
				AmountMinor: a.Amount,
				ClaimDate:   claimDate,
			})
		}
		if err != nil {
			result.Failed++
			e.logg.Warn(e.logg.WithKID(ctx, a.KID), "claim reminder failed: "+err.Error())
			continue
		}
		result.Success++
	}
	return result
}

// ImportResult summarises an OCR import.
type ImportResult struct {
	Imported int                      `json:"imported"`
	Skipped  int                      `json:"skipped"`
	Failed   []reconcile.FailedRecord `json:"failed"`
}

// ImportOCR records one donation per direct-debit payment in the file.
// Manual giro payments and payments already recorded count as skipped.
func (e *Engine) ImportOCR(ctx context.Context, content []byte) (ImportResult, error) {
	var result ImportResult
	payments, err := ParseOCR(content)
	if err != nil {
		return result, err
	}
	for _, p := range payments {
		if !p.AvtaleGiro() {
			result.Skipped++
			continue
		}
		donor, err := e.ledger.DonorByKID(ctx, p.KID)
		if err != nil {
			result.Failed = append(result.Failed, reconcile.FailedRecord{Identifier: p.TransactionID, Reason: err.Error()})
			continue
		}
		_, err = e.ledger.RecordDonation(ctx, ledger.RecordDonationInput{
			DonorID:           donor.ID,
			KID:               p.KID,
			PaymentMethod:     enums.PaymentMethodProviderA,
			Amount:            p.Amount,
			ExternalPaymentID: p.TransactionID,
			RegisteredAt:      p.Date,
		})
		switch {
		case err == nil:
			result.Imported++
		case pkgerrors.IsDuplicate(err):
			result.Skipped++
		default:
			result.Failed = append(result.Failed, reconcile.FailedRecord{Identifier: p.TransactionID, Reason: err.Error()})
		}
	}
	e.metrics.Record(provider, "payment", metrics.OutcomeOK, result.Imported)
	e.metrics.Record(provider, "payment", metrics.OutcomeSkipped, result.Skipped)
	e.metrics.Record(provider, "payment", metrics.OutcomeFailed, len(result.Failed))
	return result, nil
}

// ClaimsResult describes one claim run.
type ClaimsResult struct {
	DueDates  []time.Time      `json:"due_dates"`
	Shipments []ShipmentResult `json:"shipments"`
}

type ShipmentResult struct {
	ShipmentID int64        `json:"shipment_id"`
	DueDate    time.Time    `json:"due_date"`
	Filename   string       `json:"filename"`
	Claims     int          `json:"claims"`
	TotalMinor int64        `json:"total_minor"`
	Notified   NotifyResult `json:"notified"`
}

// RunClaims sends one claim file per due date reachable today.
func (e *Engine) RunClaims(ctx context.Context) (ClaimsResult, error) {
	today := calendar.StartOfDay(e.now())
	result := ClaimsResult{DueDates: dueDates(e.cal, today)}
	ctx = e.logg.WithProvider(ctx, provider)

	var errs error
	for _, due := range result.DueDates {
		due = calendar.StartOfDay(due)
		rows, err := e.repo.ListDue(ctx, due, calendar.IsLastDayOfMonth(due))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("list agreements due %s: %w", due.Format(time.DateOnly), err))
			continue
		}
		if len(rows) == 0 {
			continue
		}
		shipment, err := e.ship(ctx, rows, due)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		result.Shipments = append(result.Shipments, shipment)
	}
	return result, errs
}

func (e *Engine) ship(ctx context.Context, rows []models.ProviderAAgreement, due time.Time) (ShipmentResult, error) {
	var (
		shipmentID int64
		file       ClaimFile
	)
	// The callback may run more than once; only database work happens here.
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		var err error
		if shipmentID, err = repo.CreateShipment(ctx, len(rows)); err != nil {
			return fmt.Errorf("create shipment: %w", err)
		}
		claims := make([]models.ProviderAClaim, 0, len(rows))
		for _, a := range rows {
			claims = append(claims, models.ProviderAClaim{AgreementID: a.ID, ShipmentID: shipmentID, DueDate: due, Amount: a.Amount})
		}
		if err := repo.CreateClaims(ctx, claims); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "agreements already claimed for "+due.Format(time.DateOnly))
			}
			return fmt.Errorf("record claims: %w", err)
		}
		if file, err = e.GenerateClaimFile(ctx, shipmentID, rows, due); err != nil {
			return fmt.Errorf("generate claim file: %w", err)
		}
		return repo.CreateClaimLog(ctx, &models.ProviderAClaimLog{
			ShipmentID: shipmentID,
			Filename:   file.Name,
			ClaimDate:  file.DueDate,
			Content:    string(file.Content),
		})
	})
	if err != nil {
		return ShipmentResult{}, err
	}
	ctx = e.logg.WithShipment(ctx, shipmentID)

	var noticed []models.ProviderAAgreement
	for _, a := range rows {
		if a.Notice {
			noticed = append(noticed, a)
		}
	}
	notified := e.NotifyAgreements(ctx, noticed, due)

	if err := e.archive.Put(ctx, provider, file.Name, file.Content); err != nil {
		e.logg.Warn(ctx, "archive claim file failed: "+err.Error())
	}
	// An upload failure leaves the claim log unaccepted for RetryUnacknowledged.
	if err := e.transfer.Write(ctx, sftp.Join(e.cfg.InboundDir, file.Name), file.Content); err != nil {
		return ShipmentResult{}, fmt.Errorf("upload %s: %w", file.Name, err)
	}

	e.metrics.File(provider, "sent")
	e.metrics.Claimed(provider, file.TotalMinor)
	e.metrics.Record(provider, "claim", metrics.OutcomeOK, file.Claims)
	e.emitShipment(ctx, shipmentID, file)
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{"file": file.Name, "claims": file.Claims}), "claim file sent")

	return ShipmentResult{
		ShipmentID: shipmentID,
		DueDate:    file.DueDate,
		Filename:   file.Name,
		Claims:     file.Claims,
		TotalMinor: file.TotalMinor,
		Notified:   notified,
	}, nil
}

func (e *Engine) emitShipment(ctx context.Context, shipmentID int64, file ClaimFile) {
	if e.outbox == nil {
		return
	}
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventShipmentSent,
			AggregateType: enums.AggregateShipment,
			AggregateID:   provider + "-" + strconv.FormatInt(shipmentID, 10),
			Data: payloads.ShipmentSentEvent{
				ShipmentID: shipmentID,
				Provider:   enums.AgreementTypeProviderA,
				Filename:   file.Name,
				Claims:     file.Claims,
				ClaimDate:  file.DueDate,
			},
		})
	})
	if err != nil {
		e.logg.Error(ctx, "queue shipment event failed", err)
	}
}

// RetryResult describes a receipt check.
type RetryResult struct {
	Accepted int                      `json:"accepted"`
	Retried  int                      `json:"retried"`
	Failed   []reconcile.FailedRecord `json:"failed"`
}

// RetryUnacknowledged checks each pending claim file for an acceptance
// receipt and uploads it again when none has arrived.
func (e *Engine) RetryUnacknowledged(ctx context.Context) (RetryResult, error) {
	var result RetryResult
	today := calendar.StartOfDay(e.now())
	logs, err := e.repo.ListUnaccepted(ctx, today)
	if err != nil {
		return result, fmt.Errorf("list unaccepted claim files: %w", err)
	}
	if len(logs) == 0 {
		return result, nil
	}
	files, err := e.transfer.List(ctx, e.cfg.InboundDir)
	if err != nil {
		return result, fmt.Errorf("list %s: %w", e.cfg.InboundDir, err)
	}

	var errs error
	for _, l := range logs {
		if hasReceipt(files, l.Filename) {
			if err := e.repo.MarkAccepted(ctx, l.ID, e.now()); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			result.Accepted++
			continue
		}
		if err := e.transfer.Write(ctx, sftp.Join(e.cfg.InboundDir, l.Filename), []byte(l.Content)); err != nil {
			result.Failed = append(result.Failed, reconcile.FailedRecord{Identifier: l.Filename, Reason: err.Error()})
			errs = multierr.Append(errs, err)
			continue
		}
		result.Retried++
		e.metrics.File(provider, "sent")
		e.logg.Warn(e.logg.WithShipment(ctx, l.ShipmentID), "claim file had no receipt, uploaded again")
	}
	return result, errs
}

// hasReceipt matches KV.GODKJENT receipts carrying the claim file's
// creation and due dates, as in DIRREM{created}.{due}.{shipment}.
func hasReceipt(files []sftp.File, claimFile string) bool {
	dates := strings.TrimPrefix(claimFile, "DIRREM")
	if i := strings.LastIndex(dates, "."); i > 0 {
		dates = dates[:i]
	}
	for _, f := range files {
		if strings.HasPrefix(f.Name, receiptPrefix) && strings.Contains(f.Name, "D"+dates) {
			return true
		}
	}
	return false
}

// InboundResult is the outcome of one inbound sync.
type InboundResult struct {
	Files      reconcile.SyncResult `json:"files"`
	Payments   ImportResult         `json:"payments"`
	Agreements IngestResult         `json:"agreements"`
}

// SyncInbound imports every new clearing file: payments first, then the
// agreement records carried in the same file.
func (e *Engine) SyncInbound(ctx context.Context) (InboundResult, error) {
	if e.guard == nil {
		return InboundResult{}, pkgerrors.New(pkgerrors.CodeInternal, "inbound guard not configured")
	}
	var result InboundResult
	inbox := reconcile.Inbox{
		Provider: provider,
		Dir:      e.cfg.OutboundDir,
		Transfer: e.transfer,
		Guard:    e.guard,
		Archive:  e.archive,
		Logger:   e.logg,
		Metrics:  e.metrics,
		Handle: func(ctx context.Context, name string, content []byte) error {
			payments, err := e.ImportOCR(ctx, content)
			if err != nil {
				return err
			}
			updates, err := ParseAgreementUpdates(content)
			if err != nil {
				return err
			}
			agreements := e.IngestAgreementUpdates(ctx, updates)
			mergeImport(&result.Payments, payments)
			mergeIngest(&result.Agreements, agreements)
			return nil
		},
	}
	files, err := inbox.Sync(e.logg.WithProvider(ctx, provider))
	result.Files = files
	return result, err
}

func mergeImport(dst *ImportResult, src ImportResult) {
	dst.Imported += src.Imported
	dst.Skipped += src.Skipped
	dst.Failed = append(dst.Failed, src.Failed...)
}

func mergeIngest(dst *IngestResult, src IngestResult) {
	dst.Activated += src.Activated
	dst.Updated += src.Updated
	dst.Added += src.Added
	dst.Terminated += src.Terminated
	dst.Failed = append(dst.Failed, src.Failed...)
}
