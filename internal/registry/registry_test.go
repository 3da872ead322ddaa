package registry

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestAddRemove(t *testing.T) {
	r := New()

	r.Add(domain.ListBlacklist, []string{"addr-1", "addr-2"})
	r.Add(domain.ListWhitelist, []string{"addr-2"})

	if !r.IsBlacklisted("addr-1") {
		t.Error("expected addr-1 to be blacklisted")
	}
	if r.IsWhitelisted("addr-1") {
		t.Error("did not expect addr-1 to be whitelisted")
	}

	// Membership in both lists is permitted by the data model.
	if !r.IsBlacklisted("addr-2") || !r.IsWhitelisted("addr-2") {
		t.Error("expected addr-2 in both lists")
	}

	r.Remove(domain.ListBlacklist, []string{"addr-1", "addr-unknown"})
	if r.IsBlacklisted("addr-1") {
		t.Error("expected addr-1 removed from blacklist")
	}

	b, w := r.Len()
	if b != 1 || w != 1 {
		t.Errorf("expected sizes (1,1), got (%d,%d)", b, w)
	}
}

func TestUnknownAddressIsClean(t *testing.T) {
	r := New()
	if r.IsBlacklisted("never-seen") || r.IsWhitelisted("never-seen") {
		t.Error("unknown address must not be a member of either list")
	}
}

func TestMembersReturnsCopy(t *testing.T) {
	r := New()
	r.Add(domain.ListWhitelist, []string{"a", "b"})

	members := r.Members(domain.ListWhitelist)
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}

	members[0] = "mutated"
	if r.IsWhitelisted("mutated") {
		t.Error("mutating the returned slice must not affect the registry")
	}
}
