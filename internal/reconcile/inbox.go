// Package reconcile holds the pieces shared by the bank-file engines: failure
// records and the guarded inbound-file sync.
package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/giroflow-backend/pkg/archive"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
	"github.com/angelmondragon/giroflow-backend/pkg/metrics"
	"github.com/angelmondragon/giroflow-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/giroflow-backend/pkg/sftp"
)

// FailedRecord is a record that could not be reconciled. Batches never abort
// on one; they collect these instead.
type FailedRecord struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

// Guard remembers which inbound files were already handled.
type Guard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, id string) (bool, error)
	Delete(ctx context.Context, consumer, id string) error
}

// Inbox pulls files from a remote directory and hands each new one to Handle.
type Inbox struct {
	Provider string
	Dir      string
	Transfer sftp.Transfer
	Guard    Guard
	Archive  archive.Archiver
	Accept   func(name string) bool
	Handle   func(ctx context.Context, name string, content []byte) error
	Logger   *logger.Logger
	Metrics  *metrics.ReconciliationMetrics
}

type SyncResult struct {
	Processed int            `json:"processed"`
	Skipped   int            `json:"skipped"`
	Failed    []FailedRecord `json:"failed"`
}

// Sync handles every accepted file once. A file whose handler fails is
// released from the guard so the next sync retries it.
func (in Inbox) Sync(ctx context.Context) (SyncResult, error) {
	var result SyncResult
	files, err := in.Transfer.List(ctx, in.Dir)
	if err != nil {
		return result, fmt.Errorf("list %s: %w", in.Dir, err)
	}

	consumer := in.Provider + "-inbound"
	var errs error
	for _, f := range files {
		if in.Accept != nil && !in.Accept(f.Name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, multierr.Append(errs, err)
		}
		content, err := in.Transfer.Read(ctx, sftp.Join(in.Dir, f.Name))
		if err != nil {
			result.Failed = append(result.Failed, FailedRecord{Identifier: f.Name, Reason: err.Error()})
			errs = multierr.Append(errs, err)
			continue
		}

		sum := idempotency.Checksum(content)
		seen, err := in.Guard.CheckAndMarkProcessed(ctx, consumer, sum)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("guard %s: %w", f.Name, err))
			continue
		}
		if seen {
			result.Skipped++
			continue
		}

		if in.Archive != nil {
			if err := in.Archive.Put(ctx, in.Provider, "inbound/"+f.Name, content); err != nil && in.Logger != nil {
				in.Logger.Warn(in.Logger.WithField(ctx, "file", f.Name), "archive inbound file failed: "+err.Error())
			}
		}

		if err := in.Handle(ctx, f.Name, content); err != nil {
			result.Failed = append(result.Failed, FailedRecord{Identifier: f.Name, Reason: err.Error()})
			errs = multierr.Append(errs, fmt.Errorf("handle %s: %w", f.Name, err))
			if delErr := in.Guard.Delete(ctx, consumer, sum); delErr != nil {
				errs = multierr.Append(errs, delErr)
			}
			continue
		}
		result.Processed++
		in.Metrics.File(in.Provider, "received")
		if in.Logger != nil {
			in.Logger.Info(in.Logger.WithField(ctx, "file", f.Name), "inbound file processed")
		}
	}
	return result, errs
}
