// Package registry holds the known-bad and known-good address sets.
package registry

import (
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Registry is the admin-mutable blacklist/whitelist. Reads are
// lock-free snapshots consistent with the read-mostly, write-rarely
// access pattern: scoring against a microsecond-stale set is accepted.
// An address may appear in both sets; the scorer resolves that by
// halving the blacklist penalty, never erasing it.
type Registry struct {
	mu        sync.RWMutex
	blacklist map[string]struct{}
	whitelist map[string]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		blacklist: make(map[string]struct{}),
		whitelist: make(map[string]struct{}),
	}
}

// IsBlacklisted reports blacklist membership.
func (r *Registry) IsBlacklisted(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.blacklist[address]
	return ok
}

// IsWhitelisted reports whitelist membership.
func (r *Registry) IsWhitelisted(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.whitelist[address]
	return ok
}

// Add inserts addresses into the given list. Normalization is the
// caller's concern; the registry stores identifiers verbatim.
func (r *Registry) Add(list domain.RegistryList, addresses []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.set(list)
	for _, a := range addresses {
		set[a] = struct{}{}
	}
}

// Remove deletes addresses from the given list. Unknown addresses are
// ignored.
func (r *Registry) Remove(list domain.RegistryList, addresses []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.set(list)
	for _, a := range addresses {
		delete(set, a)
	}
}

// Members returns a copy of the given list's membership.
func (r *Registry) Members(list domain.RegistryList) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.set(list)
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	return out
}

// Len returns the sizes of both lists.
func (r *Registry) Len() (blacklisted, whitelisted int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blacklist), len(r.whitelist)
}

func (r *Registry) set(list domain.RegistryList) map[string]struct{} {
	if list == domain.ListWhitelist {
		return r.whitelist
	}
	return r.blacklist
}
