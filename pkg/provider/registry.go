package provider

import (
	"fmt"
	"sync"
)

// Info describes an announced provider, mirroring the metadata wallets
// attach to in-page discovery announcements.
type Info struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
	RDNS string `json:"rdns"`
}

// Detail pairs provider metadata with the live handle.
type Detail struct {
	Info     Info
	Provider *Provider
}

// Registry is the discovery rendezvous between wallets and apps. Wallets
// announce themselves; apps request providers and hear every announcement,
// past and future. Multiple wallets coexist, each keyed by reverse-DNS
// identifier.
type Registry struct {
	mu           sync.Mutex
	order        []string
	byRDNS       map[string]Detail
	nextListener int64
	listeners    map[int64]func(Detail)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byRDNS:    make(map[string]Detail),
		listeners: make(map[int64]func(Detail)),
	}
}

// Announce registers a provider. Announcing the same rdns again replaces
// the previous handle instead of adding a duplicate, so repeated injection
// is harmless. Listeners hear every announcement, replacements included.
func (r *Registry) Announce(detail Detail) error {
	return r.register(detail, true)
}

// Install registers a provider only if nothing is announced under its rdns
// yet. A second install is a no-op: an already-running page keeps the
// handle it has been given, listeners hear nothing.
func (r *Registry) Install(detail Detail) error {
	return r.register(detail, false)
}

func (r *Registry) register(detail Detail, replace bool) error {
	if detail.Provider == nil {
		return fmt.Errorf("provider: announcing a nil provider")
	}
	if detail.Info.RDNS == "" || detail.Info.UUID == "" {
		return fmt.Errorf("provider: announcement requires uuid and rdns")
	}

	r.mu.Lock()
	if _, exists := r.byRDNS[detail.Info.RDNS]; exists {
		if !replace {
			r.mu.Unlock()
			return nil
		}
	} else {
		r.order = append(r.order, detail.Info.RDNS)
	}
	r.byRDNS[detail.Info.RDNS] = detail
	listeners := make([]func(Detail), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(detail)
	}
	return nil
}

// Request subscribes to announcements. Already-announced providers are
// replayed synchronously in announcement order before the call returns; the
// returned function unsubscribes.
func (r *Registry) Request(listener func(Detail)) func() {
	r.mu.Lock()
	existing := make([]Detail, 0, len(r.order))
	for _, rdns := range r.order {
		existing = append(existing, r.byRDNS[rdns])
	}
	r.nextListener++
	id := r.nextListener
	r.listeners[id] = listener
	r.mu.Unlock()

	for _, detail := range existing {
		listener(detail)
	}

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

// Default returns the first announced provider, the slot legacy apps that
// know nothing about discovery fall back to.
func (r *Registry) Default() (*Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return nil, false
	}
	return r.byRDNS[r.order[0]].Provider, true
}

// Lookup returns the provider announced under the given rdns.
func (r *Registry) Lookup(rdns string) (*Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	detail, ok := r.byRDNS[rdns]
	if !ok {
		return nil, false
	}
	return detail.Provider, true
}
