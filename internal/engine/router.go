package engine

import (
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xloop"
)

// Router keeps handler registrations in registration order and dispatches
// events to every matching one. Registrations are copy-on-write so dispatch
// never takes a lock.
type Router struct {
	mu   sync.Mutex
	regs atomic.Pointer[[]*registration]
	max  int
}

type registration struct {
	cat     xloop.Category
	id      xloop.EventID
	fn      func(*xloop.Event)
	removed atomic.Bool
}

// NewRouter creates a router. max <= 0 means unlimited registrations.
func NewRouter(max int) *Router {
	r := &Router{max: max}
	empty := make([]*registration, 0)
	r.regs.Store(&empty)
	return r
}

// Add appends a registration for (cat, id).
func (r *Router) Add(cat xloop.Category, id xloop.EventID, fn func(*xloop.Event)) (xloop.Subscription, error) {
	if err := xloop.ValidKey(cat, id); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, xloop.ErrInvalidHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.regs.Load()
	if r.max > 0 && len(cur) >= r.max {
		return nil, xloop.ErrHandlerTableFull
	}
	reg := &registration{cat: cat, id: id, fn: fn}
	next := make([]*registration, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, reg)
	r.regs.Store(&next)

	return &handle{router: r, reg: reg}, nil
}

// remove drops reg. It reports false when reg was not registered.
func (r *Router) remove(reg *registration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.regs.Load()
	for i, x := range cur {
		if x != reg {
			continue
		}
		reg.removed.Store(true)
		next := make([]*registration, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		r.regs.Store(&next)
		return true
	}
	return false
}

// Dispatch delivers ev to every matching handler and returns how many ran.
func (r *Router) Dispatch(ev *xloop.Event) int {
	n := 0
	for _, reg := range *r.regs.Load() {
		// A handler may unregister another one during this dispatch.
		if reg.removed.Load() || !ev.Matches(reg.cat, reg.id) {
			continue
		}
		reg.fn(ev)
		n++
	}
	return n
}

// Len returns the number of live registrations.
func (r *Router) Len() int { return len(*r.regs.Load()) }

type handle struct {
	router *Router
	reg    *registration
	once   sync.Once
}

// Close unregisters the handler. Closing twice is a no-op.
func (h *handle) Close() error {
	h.once.Do(func() { h.router.remove(h.reg) })
	return nil
}
