package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/giroflow-backend/pkg/logger"
)

// Step runs one engine operation and returns its summary for the job log.
type Step func(ctx context.Context) (any, error)

// NewStepJob wraps an engine operation as a named job. A step may return a
// partial summary alongside its error; both are logged.
func NewStepJob(name string, logg *logger.Logger, step Step) (Job, error) {
	if name == "" {
		return nil, fmt.Errorf("job name required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if step == nil {
		return nil, fmt.Errorf("step required for %s", name)
	}
	return &stepJob{name: name, logg: logg, step: step}, nil
}

type stepJob struct {
	name string
	logg *logger.Logger
	step Step
}

func (j *stepJob) Name() string { return j.name }

func (j *stepJob) Run(ctx context.Context) error {
	summary, err := j.step(ctx)
	if summary != nil {
		j.logg.Info(j.logg.WithField(ctx, "summary", summary), "step summary")
	}
	return err
}

// Steps adapts a typed engine call to a Step.
func Steps[T any](fn func(ctx context.Context) (T, error)) Step {
	return func(ctx context.Context) (any, error) {
		return fn(ctx)
	}
}
