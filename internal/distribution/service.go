package distribution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/giroflow-backend/internal/identifier"
	"github.com/angelmondragon/giroflow-backend/internal/ledger"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
	"github.com/angelmondragon/giroflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
	"github.com/angelmondragon/giroflow-backend/pkg/outbox"
	"github.com/angelmondragon/giroflow-backend/pkg/outbox/payloads"
)

const maxKIDAttempts = 10

// ServiceParams wires the ledger-backed distribution service.
type ServiceParams struct {
	Repository Repository
	Donations  ledger.Repository
	Tx         ledger.TxRunner
	Generator  *identifier.Generator
	Outbox     outbox.Emitter
	Logger     *logger.Logger
}

type Service struct {
	repo      Repository
	donations ledger.Repository
	tx        ledger.TxRunner
	ids       *identifier.Generator
	outbox    outbox.Emitter
	logg      *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("distribution repository required")
	}
	if params.Donations == nil {
		return nil, fmt.Errorf("donation repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	ids := params.Generator
	if ids == nil {
		ids = identifier.NewGenerator(nil)
	}
	return &Service{
		repo:      params.Repository,
		donations: params.Donations,
		tx:        params.Tx,
		ids:       ids,
		outbox:    params.Outbox,
		logg:      params.Logger,
	}, nil
}

// NewKID issues an unused donor-linked KID.
func (s *Service) NewKID(ctx context.Context, donorID int64) (string, error) {
	return s.newKID(ctx, s.repo, donorID)
}

func (s *Service) newKID(ctx context.Context, repo Repository, donorID int64) (string, error) {
	for attempt := 0; attempt < maxKIDAttempts; attempt++ {
		kid, err := s.ids.Generate(identifier.DonorLinkedLength, &donorID)
		if err != nil {
			return "", err
		}
		exists, err := repo.KIDExists(ctx, kid)
		if err != nil {
			return "", err
		}
		if !exists {
			return kid, nil
		}
	}
	return "", pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("no free KID after %d attempts", maxKIDAttempts))
}

// FindBySplit returns the KID of a stored distribution with an identical split.
func (s *Service) FindBySplit(ctx context.Context, candidate Distribution, minKIDLength int) (string, bool, error) {
	rows, err := s.repo.ListCandidates(ctx, candidate.DonorID, candidate.TaxUnitID, candidate.Standard(), minKIDLength)
	if err != nil {
		return "", false, err
	}
	want := splitKey(candidate)
	for _, row := range rows {
		if splitKey(fromModel(row)) == want {
			return row.KID, true, nil
		}
	}
	return "", false, nil
}

// Create validates input and stores it under a fresh KID.
func (s *Service) Create(ctx context.Context, input any) (Distribution, error) {
	dist, err := Validate(input)
	if err != nil {
		return Distribution{}, err
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		kid, err := s.newKID(ctx, repo, dist.DonorID)
		if err != nil {
			return err
		}
		dist.KID = kid
		return repo.Create(ctx, toModel(dist))
	})
	if err != nil {
		return Distribution{}, err
	}
	return dist, nil
}

// FindOrCreate reuses the KID of an identical split when one exists.
func (s *Service) FindOrCreate(ctx context.Context, input any) (Distribution, bool, error) {
	dist, err := Validate(input)
	if err != nil {
		return Distribution{}, false, err
	}
	kid, found, err := s.FindBySplit(ctx, dist, identifier.DonorLinkedLength)
	if err != nil {
		return Distribution{}, false, err
	}
	if found {
		dist.KID = kid
		return dist, false, nil
	}
	created, err := s.Create(ctx, dist.input())
	if err != nil {
		return Distribution{}, false, err
	}
	return created, true, nil
}

// Get loads a stored distribution.
func (s *Service) Get(ctx context.Context, kid string) (Distribution, error) {
	row, err := s.repo.GetByKID(ctx, kid)
	if err != nil {
		return Distribution{}, err
	}
	if row == nil {
		return Distribution{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("distribution %s not found", kid))
	}
	return fromModel(*row), nil
}

// ReplaceInput moves the history of OriginalKID to ReplacementKID and gives
// OriginalKID the new Split. An empty ReplacementKID is generated.
type ReplaceInput struct {
	OriginalKID    string
	ReplacementKID string
	Split          Input
}

// ReplaceWithHistory changes the split behind a bank-held KID without
// rewriting the donations already booked under it. All steps share one transaction.
func (s *Service) ReplaceWithHistory(ctx context.Context, in ReplaceInput) (string, error) {
	if len(in.OriginalKID) != identifier.DonorLinkedLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "original KID must have 15 digits")
	}
	if in.ReplacementKID != "" && len(in.ReplacementKID) != identifier.DonorLinkedLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "replacement KID must have 15 digits")
	}

	var replacement string
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		original, err := repo.LockByKID(ctx, in.OriginalKID)
		if err != nil {
			return err
		}
		if original == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("distribution %s not found", in.OriginalKID))
		}

		split := in.Split
		split.DonorID = &original.DonorID
		split.TaxUnitID = original.TaxUnitID
		next, err := Validate(split)
		if err != nil {
			return err
		}

		replacement = in.ReplacementKID
		if replacement == "" {
			replacement, err = s.newKID(ctx, repo, original.DonorID)
			if err != nil {
				return err
			}
		} else if exists, err := repo.KIDExists(ctx, replacement); err != nil {
			return err
		} else if exists {
			return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("KID %s already in use", replacement))
		}

		if err := repo.UpdateKID(ctx, in.OriginalKID, replacement); err != nil {
			return fmt.Errorf("repoint distribution: %w", err)
		}
		if _, err := s.donations.WithTx(tx).MoveDonations(ctx, in.OriginalKID, replacement); err != nil {
			return fmt.Errorf("repoint donations: %w", err)
		}
		next.KID = in.OriginalKID
		if err := repo.Create(ctx, toModel(next)); err != nil {
			return fmt.Errorf("insert replacement split: %w", err)
		}
		now := time.Now().UTC()
		link := &models.ReplacedDistribution{ReplacementKID: replacement, OriginalKID: in.OriginalKID, ReplacedAt: now}
		if err := repo.CreateReplacement(ctx, link); err != nil {
			return fmt.Errorf("link replacement: %w", err)
		}
		if _, err := repo.ResetAgreementKIDs(ctx, replacement, in.OriginalKID); err != nil {
			return fmt.Errorf("reset agreement KID: %w", err)
		}
		if s.outbox != nil {
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventDistributionReplaced,
				AggregateType: enums.AggregateDistribution,
				AggregateID:   in.OriginalKID,
				Data: payloads.DistributionReplacedEvent{
					OriginalKID:    in.OriginalKID,
					ReplacementKID: replacement,
					ReplacedAt:     now,
				},
			})
		}
		return nil
	})
	if err != nil {
		if s.logg != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(s.logg.WithKID(ctx, in.OriginalKID), "replace distribution rolled back", err)
		}
		return "", err
	}
	return replacement, nil
}

func (d Distribution) input() Input {
	donorID := d.DonorID
	in := Input{DonorID: &donorID, TaxUnitID: d.TaxUnitID}
	for _, ca := range d.CauseAreas {
		area := CauseAreaInput{ID: ca.ID, PercentageShare: ca.PercentageShare, StandardSplit: ca.StandardSplit}
		for _, org := range ca.Organizations {
			area.Organizations = append(area.Organizations, OrganizationInput{ID: org.ID, PercentageShare: org.PercentageShare})
		}
		in.CauseAreas = append(in.CauseAreas, area)
	}
	return in
}

func toModel(d Distribution) *models.Distribution {
	row := &models.Distribution{
		KID:                  d.KID,
		DonorID:              d.DonorID,
		TaxUnitID:            d.TaxUnitID,
		StandardDistribution: d.Standard(),
	}
	for _, ca := range d.CauseAreas {
		area := models.DistributionCauseArea{
			CauseAreaID:     ca.ID,
			PercentageShare: ca.PercentageShare,
			StandardSplit:   ca.StandardSplit,
		}
		for _, org := range ca.Organizations {
			area.Organizations = append(area.Organizations, models.DistributionOrganization{
				OrgID:           org.ID,
				PercentageShare: org.PercentageShare,
			})
		}
		row.CauseAreas = append(row.CauseAreas, area)
	}
	return row
}

func fromModel(row models.Distribution) Distribution {
	d := Distribution{KID: row.KID, DonorID: row.DonorID, TaxUnitID: row.TaxUnitID}
	for _, ca := range row.CauseAreas {
		area := CauseArea{ID: ca.CauseAreaID, PercentageShare: ca.PercentageShare, StandardSplit: ca.StandardSplit}
		for _, org := range ca.Organizations {
			area.Organizations = append(area.Organizations, Organization{ID: org.OrgID, PercentageShare: org.PercentageShare})
		}
		d.CauseAreas = append(d.CauseAreas, area)
	}
	return d
}

// splitKey renders a split order-independently so identical splits compare equal.
func splitKey(d Distribution) string {
	areas := make([]string, 0, len(d.CauseAreas))
	for _, ca := range d.CauseAreas {
		orgs := make([]string, 0, len(ca.Organizations))
		for _, org := range ca.Organizations {
			orgs = append(orgs, fmt.Sprintf("%d=%s", org.ID, org.PercentageShare.String()))
		}
		sort.Strings(orgs)
		areas = append(areas, fmt.Sprintf("%d=%s/%t%v", ca.ID, ca.PercentageShare.String(), ca.StandardSplit, orgs))
	}
	sort.Strings(areas)
	return fmt.Sprint(areas)
}
