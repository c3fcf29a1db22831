package stream

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Group is a caller-owned collection of handles that can be stopped together.
// The zero value is ready to use.
type Group struct {
	mu      sync.Mutex
	handles []*Handle
}

func (g *Group) Add(handles ...*Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handles = append(g.handles, handles...)
}

// Handles returns a copy of the collected handles.
func (g *Group) Handles() []*Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Handle(nil), g.handles...)
}

// Stop stops every handle concurrently and joins their errors.
func (g *Group) Stop() error {
	handles := g.Handles()
	errs := make([]error, len(handles))

	var eg errgroup.Group
	for i, h := range handles {
		eg.Go(func() error {
			if err := h.Stop(); err != nil {
				errs[i] = fmt.Errorf("subscription %s: %w", h.ID(), err)
			}
			return nil
		})
	}
	_ = eg.Wait()

	return errors.Join(errs...)
}
