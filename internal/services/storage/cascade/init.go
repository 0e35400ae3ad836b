package cascade

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Initializer builds a remote tier, for example by signing in.
type Initializer struct {
	Name string
	Init func(ctx context.Context) (Tier, error)
}

// Initialize runs every initializer concurrently, each bounded by the init
// timeout, and attaches the tiers that come up in time. A failed or slow
// initializer is logged and its tier stays absent; Initialize itself never
// fails. It returns the names of the tiers it attached.
func (s *Storage) Initialize(ctx context.Context, inits ...Initializer) []string {
	attached := make([]string, len(inits))
	var g errgroup.Group
	for i, initializer := range inits {
		g.Go(func() error {
			t, err := s.runInit(ctx, initializer)
			if err != nil {
				s.logf("storage: %s tier unavailable, continuing without it: %v", initializer.Name, err)
				return nil
			}
			s.Attach(t)
			attached[i] = t.Name()
			return nil
		})
	}
	_ = g.Wait()

	names := make([]string, 0, len(inits))
	for _, name := range attached {
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

type initResult struct {
	tier Tier
	err  error
}

// runInit returns when the initializer does or when the timeout passes, whichever comes
// first. A late result is dropped.
func (s *Storage) runInit(ctx context.Context, initializer Initializer) (Tier, error) {
	if initializer.Init == nil {
		return nil, fmt.Errorf("initializer is not configured")
	}
	initCtx, cancel := context.WithTimeout(ctx, s.initTimeout)
	defer cancel()

	done := make(chan initResult, 1)
	go func() {
		t, err := initializer.Init(initCtx)
		done <- initResult{tier: t, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil {
			return nil, result.err
		}
		if result.tier == nil {
			return nil, fmt.Errorf("initializer returned no tier")
		}
		return result.tier, nil
	case <-initCtx.Done():
		return nil, fmt.Errorf("initialize within %s: %w", s.initTimeout, initCtx.Err())
	}
}
