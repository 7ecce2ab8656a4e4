package runtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

// releaseTimeout bounds each destroy call made while unwinding
const releaseTimeout = 10 * time.Second

// HandleGuard tracks handles acquired during one request and releases
// each of them exactly once. Use it as:
//
//	guard := runtime.NewHandleGuard(session)
//	defer guard.Release(ctx)
//	h, err := guard.Track(session.LoadDataset(ctx, name))
type HandleGuard struct {
	mu       sync.Mutex
	session  Destroyer
	handles  []Handle
	released map[string]bool
}

// NewHandleGuard creates a guard releasing through session
func NewHandleGuard(session Destroyer) *HandleGuard {
	return &HandleGuard{session: session, released: make(map[string]bool)}
}

// Track registers h and passes through err, so calls can be wrapped
// directly. A zero handle is not tracked.
func (g *HandleGuard) Track(h Handle, err error) (Handle, error) {
	if err != nil || h.IsZero() {
		return h, err
	}
	g.mu.Lock()
	g.handles = append(g.handles, h)
	g.mu.Unlock()
	return h, nil
}

// ReleaseOne destroys h now instead of at Release time
func (g *HandleGuard) ReleaseOne(ctx context.Context, h Handle) error {
	g.mu.Lock()
	if g.released[h.ID] {
		g.mu.Unlock()
		return nil
	}
	g.released[h.ID] = true
	g.mu.Unlock()
	return g.destroy(ctx, h)
}

// Release destroys every tracked handle not yet released, newest first.
// It runs even if ctx is already done.
func (g *HandleGuard) Release(ctx context.Context) error {
	g.mu.Lock()
	pending := make([]Handle, 0, len(g.handles))
	for i := len(g.handles) - 1; i >= 0; i-- {
		h := g.handles[i]
		if !g.released[h.ID] {
			g.released[h.ID] = true
			pending = append(pending, h)
		}
	}
	g.mu.Unlock()

	var errs []error
	for _, h := range pending {
		if err := g.destroy(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Live returns the handles not yet released
func (g *HandleGuard) Live() []Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	var live []Handle
	for _, h := range g.handles {
		if !g.released[h.ID] {
			live = append(live, h)
		}
	}
	return live
}

func (g *HandleGuard) destroy(ctx context.Context, h Handle) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	return g.session.Destroy(ctx, h)
}
