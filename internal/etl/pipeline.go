// Package etl runs the report-generation pipelines that turn transcripts into
// stored reports.
package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/aegis/internal/logger"
	"github.com/dvloznov/aegis/internal/metrics"
)

// Step is a single step of a pipeline over state S.
type Step[S any] interface {
	Name() string
	Execute(ctx context.Context, state *S) error
}

// Pipeline executes a sequence of steps in order.
type Pipeline[S any] struct {
	name  string
	steps []Step[S]
}

// NewPipeline creates a pipeline with the given steps.
func NewPipeline[S any](name string, steps ...Step[S]) *Pipeline[S] {
	return &Pipeline[S]{name: name, steps: steps}
}

// Execute runs all steps sequentially, stopping at the first error.
func (p *Pipeline[S]) Execute(ctx context.Context, state *S) error {
	log := logger.FromContext(ctx)
	for i, step := range p.steps {
		start := time.Now()
		err := step.Execute(ctx, state)
		metrics.ObserveStage(p.name+"_"+step.Name(), start)
		if err != nil {
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
		log.Debug().Str("step", step.Name()).Dur("elapsed", time.Since(start)).Msg("Step complete")
	}
	return nil
}

// Steps returns the step names in order.
func (p *Pipeline[S]) Steps() []string {
	out := make([]string, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.Name()
	}
	return out
}
