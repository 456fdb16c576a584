// Package inflation proposes inflation-adjusted amounts for long-running
// agreements and applies them when the donor accepts.
package inflation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mathrand "math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/giroflow-backend/internal/agreements"
	"github.com/angelmondragon/giroflow-backend/internal/ledger"
	"github.com/angelmondragon/giroflow-backend/internal/notifications"
	"github.com/angelmondragon/giroflow-backend/internal/reconcile"
	"github.com/angelmondragon/giroflow-backend/pkg/config"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
	"github.com/angelmondragon/giroflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
	"github.com/angelmondragon/giroflow-backend/pkg/outbox"
	"github.com/angelmondragon/giroflow-backend/pkg/outbox/payloads"
)

const (
	minMonthsSinceUpdate = 12
	defaultBatchSize     = 10
	defaultProposalTTL   = 30 * 24 * time.Hour
	tokenBytes           = 32
)

var (
	minInflation   = decimal.RequireFromString("0.05")
	minIncreaseNOK = decimal.NewFromInt(10)
	ten            = decimal.NewFromInt(10)
)

// PricePatcher changes a wallet agreement's price on the platform.
type PricePatcher interface {
	PatchPrice(ctx context.Context, agreementID string, priceMinor int64) error
}

type EngineParams struct {
	Repository Repository
	Agreements agreements.Repository
	Index      PriceIndex
	Ledger     ledger.Service
	Notifier   notifications.Service
	Wallet     PricePatcher
	Tx         ledger.TxRunner
	Outbox     outbox.Emitter
	Logger     *logger.Logger
	Config     config.InflationConfig
	PublicURL  string
	Now        func() time.Time
	// Shuffle orders the new proposals before a send batch is cut.
	Shuffle func(n int, swap func(i, j int))
}

type Engine struct {
	repo       Repository
	agreements agreements.Repository
	index      PriceIndex
	ledger     ledger.Service
	notifier   notifications.Service
	wallet     PricePatcher
	tx         ledger.TxRunner
	outbox     outbox.Emitter
	logg       *logger.Logger
	batchSize  int
	ttl        time.Duration
	publicURL  string
	now        func() time.Time
	shuffle    func(n int, swap func(i, j int))
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("inflation repository required")
	}
	if params.Agreements == nil {
		return nil, fmt.Errorf("agreements repository required")
	}
	if params.Index == nil {
		return nil, fmt.Errorf("price index required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	e := &Engine{
		repo:       params.Repository,
		agreements: params.Agreements,
		index:      params.Index,
		ledger:     params.Ledger,
		notifier:   params.Notifier,
		wallet:     params.Wallet,
		tx:         params.Tx,
		outbox:     params.Outbox,
		logg:       params.Logger,
		batchSize:  params.Config.BatchSize,
		ttl:        params.Config.ProposalTTL,
		publicURL:  strings.TrimRight(params.PublicURL, "/"),
		now:        params.Now,
		shuffle:    params.Shuffle,
	}
	if e.batchSize <= 0 {
		e.batchSize = defaultBatchSize
	}
	if e.ttl <= 0 {
		e.ttl = defaultProposalTTL
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.shuffle == nil {
		e.shuffle = mathrand.Shuffle
	}
	return e, nil
}

type ScanResult struct {
	Scanned  int                      `json:"scanned"`
	Proposed int                      `json:"proposed"`
	Skipped  int                      `json:"skipped"`
	Failed   []reconcile.FailedRecord `json:"failed,omitempty"`
}

// Scan creates a new proposal for every active agreement that has gone a year
// without a price change while prices rose at least five percent, provided
// the rounded increase is at least 10 NOK.
func (e *Engine) Scan(ctx context.Context) (ScanResult, error) {
	ctx = e.logg.WithJob(ctx, "inflation_scan")
	now := e.now()

	active, err := e.agreements.ListActive(ctx)
	if err != nil {
		return ScanResult{}, err
	}
	open, err := e.repo.OpenAgreementKeys(ctx)
	if err != nil {
		return ScanResult{}, err
	}

	var result ScanResult
	for _, a := range active {
		if _, busy := open[agreementKey(a.Kind(), a.ID())]; busy {
			continue
		}
		result.Scanned++
		proposal, err := e.evaluate(ctx, a, now)
		if err != nil {
			result.Failed = append(result.Failed, reconcile.FailedRecord{
				Identifier: agreementKey(a.Kind(), a.ID()),
				Reason:     err.Error(),
			})
			continue
		}
		if proposal == nil {
			result.Skipped++
			continue
		}
		if err := e.repo.Create(ctx, proposal); err != nil {
			result.Failed = append(result.Failed, reconcile.FailedRecord{
				Identifier: agreementKey(a.Kind(), a.ID()),
				Reason:     err.Error(),
			})
			continue
		}
		result.Proposed++
	}

	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"scanned":  result.Scanned,
		"proposed": result.Proposed,
		"skipped":  result.Skipped,
		"failed":   len(result.Failed),
	}), "inflation scan finished")
	return result, nil
}

// evaluate returns nil when a is not eligible.
func (e *Engine) evaluate(ctx context.Context, a agreements.Agreement, now time.Time) (*models.InflationAdjustment, error) {
	since := a.LastUpdated()
	if monthsBetween(since, now) < minMonthsSinceUpdate {
		return nil, nil
	}
	inflation, err := e.index.Inflation(ctx, since, now)
	if err != nil {
		return nil, err
	}
	if inflation.LessThan(minInflation) {
		return nil, nil
	}
	proposedMinor, ok := proposeAmount(a.AmountMinor(), inflation)
	if !ok {
		return nil, nil
	}
	donor, err := e.ledger.DonorByKID(ctx, a.KID())
	if err != nil {
		return nil, err
	}
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	expires := now.Add(e.ttl)
	return &models.InflationAdjustment{
		AgreementID:         a.ID(),
		AgreementType:       a.Kind(),
		DonorEmail:          donor.Email,
		CurrentAmount:       a.AmountMinor(),
		ProposedAmount:      proposedMinor,
		InflationPercentage: inflation,
		Token:               token,
		Status:              enums.InflationAdjustmentStatusNew,
		ExpiresAt:           &expires,
	}, nil
}

// proposeAmount rounds the inflated amount to whole tens of kroner and
// reports false when that adds less than the minimum increase.
func proposeAmount(currentMinor int64, inflation decimal.Decimal) (int64, bool) {
	current := decimal.New(currentMinor, -2)
	raised := current.Mul(decimal.NewFromInt(1).Add(inflation))
	rounded := raised.Div(ten).Round(0).Mul(ten)
	if rounded.Sub(current).LessThan(minIncreaseNOK) {
		return 0, false
	}
	return rounded.Shift(2).IntPart(), true
}

// monthsBetween counts whole calendar months from a to b.
func monthsBetween(a, b time.Time) int {
	months := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	if b.Day() < a.Day() {
		months--
	}
	return months
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate proposal token")
	}
	return hex.EncodeToString(buf), nil
}

type SendResult struct {
	Sent   int                      `json:"sent"`
	Failed []reconcile.FailedRecord `json:"failed,omitempty"`
}

// SendPending mails a random batch of new proposals. A proposal becomes
// pending, with a fresh expiry, only once its mail went out.
func (e *Engine) SendPending(ctx context.Context) (SendResult, error) {
	ctx = e.logg.WithJob(ctx, "inflation_send")
	if e.notifier == nil {
		return SendResult{}, pkgerrors.New(pkgerrors.CodeInternal, "notifier required to send proposals")
	}
	rows, err := e.repo.ListNew(ctx)
	if err != nil {
		return SendResult{}, err
	}
	e.shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
	if len(rows) > e.batchSize {
		rows = rows[:e.batchSize]
	}

	var result SendResult
	for _, row := range rows {
		expires := e.now().Add(e.ttl)
		err := e.notifier.SendInflationProposal(ctx, notifications.Proposal{
			Email:         row.DonorEmail,
			CurrentMinor:  row.CurrentAmount,
			ProposedMinor: row.ProposedAmount,
			Percentage:    row.InflationPercentage,
			AcceptURL:     e.publicURL + "/api/v1/inflation/" + row.Token + "/accept",
			RejectURL:     e.publicURL + "/api/v1/inflation/" + row.Token + "/reject",
			ExpiresAt:     expires,
		})
		if err == nil {
			err = e.repo.MarkPending(ctx, row.ID, expires)
		}
		if err != nil {
			e.logg.Error(e.logg.WithField(ctx, "adjustment_id", row.ID), "send inflation proposal failed", err)
			result.Failed = append(result.Failed, reconcile.FailedRecord{
				Identifier: strconv.FormatInt(row.ID, 10),
				Reason:     err.Error(),
			})
			continue
		}
		result.Sent++
	}
	e.logg.Info(e.logg.WithField(ctx, "sent", result.Sent), "inflation proposals sent")
	return result, nil
}

// Lookup returns the proposal behind token.
func (e *Engine) Lookup(ctx context.Context, token string) (*models.InflationAdjustment, error) {
	row, err := e.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "inflation adjustment not found")
	}
	return row, nil
}

// Accept applies the proposed amount to the agreement. Accepting twice is a
// no-op. Wallet prices are changed on the platform before the local write.
func (e *Engine) Accept(ctx context.Context, token string) (*models.InflationAdjustment, error) {
	row, err := e.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	ctx = e.logg.WithFields(ctx, map[string]any{
		"adjustment_id":  row.ID,
		"agreement_id":   row.AgreementID,
		"agreement_type": row.AgreementType,
	})
	if row.Status == enums.InflationAdjustmentStatusAccepted {
		return row, nil
	}
	now := e.now()
	if err := checkOpen(row, now); err != nil {
		return nil, err
	}

	if row.AgreementType == enums.AgreementTypeWallet {
		if e.wallet == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "wallet price updates are not configured")
		}
		if err := e.wallet.PatchPrice(ctx, row.AgreementID, row.ProposedAmount); err != nil {
			return nil, err
		}
	}

	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.agreements.WithTx(tx).UpdateAmount(ctx, row.AgreementType, row.AgreementID, row.ProposedAmount, now); err != nil {
			return err
		}
		ok, err := e.repo.WithTx(tx).MarkAccepted(ctx, row.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "inflation adjustment is no longer pending")
		}
		if e.outbox == nil {
			return nil
		}
		return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInflationAccepted,
			AggregateType: enums.AggregateInflationAdjustment,
			AggregateID:   strconv.FormatInt(row.ID, 10),
			Data: payloads.InflationAcceptedEvent{
				AdjustmentID:   row.ID,
				AgreementID:    row.AgreementID,
				AgreementType:  row.AgreementType,
				ProposedAmount: row.ProposedAmount,
				AcceptedAt:     now,
			},
		})
	})
	if err != nil {
		if row.AgreementType == enums.AgreementTypeWallet {
			e.logg.Error(ctx, "wallet price changed remotely but not stored", err)
		}
		return nil, err
	}
	row.Status = enums.InflationAdjustmentStatusAccepted
	row.AcceptedAt = &now
	e.logg.Info(ctx, "inflation adjustment accepted")
	return row, nil
}

// Reject closes a pending, unexpired proposal.
func (e *Engine) Reject(ctx context.Context, token string) error {
	ok, err := e.repo.MarkRejected(ctx, token, e.now())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	row, err := e.Lookup(ctx, token)
	if err != nil {
		return err
	}
	if err := checkOpen(row, e.now()); err != nil {
		return err
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "inflation adjustment could not be rejected")
}

// CleanupExpired marks pending proposals past their expiry as expired.
func (e *Engine) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := e.repo.ExpirePending(ctx, e.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logg.Info(e.logg.WithField(ctx, "expired", n), "inflation proposals expired")
	}
	return n, nil
}

func checkOpen(row *models.InflationAdjustment, now time.Time) error {
	if row.Status != enums.InflationAdjustmentStatusPending {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("inflation adjustment is %s", row.Status))
	}
	if row.ExpiresAt != nil && !now.Before(*row.ExpiresAt) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "inflation adjustment has expired")
	}
	return nil
}
