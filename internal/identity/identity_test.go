package identity

import (
	"regexp"
	"testing"
)

var hexID = regexp.MustCompile(`^[0-9a-f]{24}$`)

func TestProductionIDIsStablePerIP(t *testing.T) {
	svc := NewService("production", "salt-one", "salt-two")

	a := svc.ClientID("203.0.113.7")
	b := svc.ClientID("203.0.113.7")
	if a != b {
		t.Fatalf("ClientID() not stable: %q != %q", a, b)
	}
	if !hexID.MatchString(a) {
		t.Fatalf("ClientID() = %q, want 24 lowercase hex chars", a)
	}
}

func TestProductionIDDiffersAcrossIPs(t *testing.T) {
	svc := NewService("prod", "salt-one", "salt-two")
	if svc.ClientID("203.0.113.7") == svc.ClientID("203.0.113.8") {
		t.Fatal("different IPs produced the same client id")
	}
}

func TestProductionIDDependsOnSalts(t *testing.T) {
	a := NewService("production", "salt-one", "salt-two").ClientID("203.0.113.7")
	b := NewService("production", "other", "salt-two").ClientID("203.0.113.7")
	c := NewService("production", "salt-one", "other").ClientID("203.0.113.7")
	if a == b || a == c {
		t.Fatalf("changing a salt did not change the id: %q %q %q", a, b, c)
	}
}

func TestEnvironmentMatchingIsCaseInsensitive(t *testing.T) {
	svc := NewService("PRODUCTION", "s1", "s2")
	if svc.ClientID("10.0.0.1") != svc.ClientID("10.0.0.1") {
		t.Fatal("PRODUCTION environment did not select stable ids")
	}
}

func TestDevelopmentIDIsRandomPerCall(t *testing.T) {
	svc := NewService("development", "", "")
	a := svc.ClientID("203.0.113.7")
	b := svc.ClientID("203.0.113.7")
	if a == b {
		t.Fatalf("development ids should differ per call, both %q", a)
	}
	if !hexID.MatchString(a) || !hexID.MatchString(b) {
		t.Fatalf("development ids not 24 hex chars: %q %q", a, b)
	}
}

func TestRandomIDFormat(t *testing.T) {
	id := RandomID()
	if !hexID.MatchString(id) {
		t.Fatalf("RandomID() = %q, want 24 lowercase hex chars", id)
	}
}
