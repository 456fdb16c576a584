package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/giroflow-backend/api/middleware"
	"github.com/angelmondragon/giroflow-backend/api/responses"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
)

type JobRunner interface {
	RunNow(ctx context.Context, name string) error
}

// AdminRunJob runs a registered job synchronously under its distributed lock.
func AdminRunJob(runner JobRunner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runner == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "job runner unavailable"))
			return
		}
		name := strings.TrimSpace(chi.URLParam(r, "name"))
		if name == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "job name required"))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithJob(ctx, name)
			logg.Info(logg.WithField(ctx, "actor", middleware.SubjectFromContext(ctx)), "manual job run requested")
		}

		started := time.Now()
		if err := runner.RunNow(ctx, name); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"job":         name,
			"status":      "completed",
			"duration_ms": time.Since(started).Milliseconds(),
		})
	}
}
