package browser

import (
	"context"
	"sync"

	"github.com/layer-3/walletlink/core"
)

// TabRegistry implements ports.Tabs for pages connected over the bridge.
type TabRegistry struct {
	mu   sync.RWMutex
	next int
	tabs map[int]core.Tab
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{tabs: make(map[int]core.Tab)}
}

// Open registers a tab and returns its id.
func (r *TabRegistry) Open(url, favicon string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.tabs[r.next] = core.Tab{ID: r.next, URL: url, FavIconURL: favicon}
	return r.next
}

func (r *TabRegistry) Remove(id int) {
	r.mu.Lock()
	delete(r.tabs, id)
	r.mu.Unlock()
}

func (r *TabRegistry) Get(_ context.Context, id int) (core.Tab, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tab, ok := r.tabs[id]
	if !ok {
		return core.Tab{}, core.ErrNotFound
	}
	return tab, nil
}

func (r *TabRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}
