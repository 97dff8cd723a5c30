package pipeline

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/leadscout/internal/database"
	"github.com/edgard/leadscout/internal/telegram"
)

// RunOutcome pairs one program with its run result.
type RunOutcome struct {
	Program *database.Program
	Stats   *RunStats
	Err     error
}

// RunAll executes the programs one at a time; the shared Telegram session
// cannot sustain parallel scans without tripping flood control. A signed-out
// session cancels everything still queued, since no later program can
// succeed either. All other failures are recorded per program.
func (r *Runner) RunAll(ctx context.Context, programs []*database.Program, onLead LeadHandler) ([]RunOutcome, error) {
	outcomes := make([]RunOutcome, len(programs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(1)
	for i, program := range programs {
		g.Go(func() error {
			stats, err := r.Run(ctx, program, onLead)
			outcomes[i] = RunOutcome{Program: program, Stats: stats, Err: err}
			if errors.Is(err, telegram.ErrUnauthorized) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}
