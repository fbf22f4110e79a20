package scope

import (
	"errors"
	"testing"
)

func TestScopeUnscopeRoundTrip(t *testing.T) {
	cases := []struct {
		tenant  string
		session string
	}{
		{"acme", "s1"},
		{"acme-corp", "session-123"},
		{"t", "a:b:c"},
		{"beta", "shared"},
	}
	for _, tc := range cases {
		composite, err := Scope(tc.tenant, tc.session)
		if err != nil {
			t.Fatalf("Scope(%q, %q) error = %v", tc.tenant, tc.session, err)
		}
		tenant, session, err := Unscope(composite)
		if err != nil {
			t.Fatalf("Unscope(%q) error = %v", composite, err)
		}
		if tenant != tc.tenant || session != tc.session {
			t.Fatalf("Unscope(%q) = (%q, %q), want (%q, %q)", composite, tenant, session, tc.tenant, tc.session)
		}
	}
}

func TestScopeEncoding(t *testing.T) {
	got, err := Scope("acme", "s1")
	if err != nil {
		t.Fatalf("Scope() error = %v", err)
	}
	if got != "acme:s1" {
		t.Fatalf("Scope() = %q, want %q", got, "acme:s1")
	}
}

func TestScopeRejectsEmptyComponents(t *testing.T) {
	if _, err := Scope("", "s1"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Scope(empty tenant) error = %v, want ErrInvalidArgument", err)
	}
	if _, err := Scope("acme", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Scope(empty session) error = %v, want ErrInvalidArgument", err)
	}
}

func TestScopeRejectsTenantWithSeparator(t *testing.T) {
	for _, tenant := range []string{"a:b", ":", "acme:"} {
		if _, err := Scope(tenant, "c"); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("Scope(%q, %q) error = %v, want ErrInvalidArgument", tenant, "c", err)
		}
	}
}

func TestUnscopeRejectsMalformed(t *testing.T) {
	for _, composite := range []string{"", "no-separator", ":s1", "acme:"} {
		if _, _, err := Unscope(composite); !errors.Is(err, ErrFormat) {
			t.Fatalf("Unscope(%q) error = %v, want ErrFormat", composite, err)
		}
	}
}

func TestStorageKeys(t *testing.T) {
	key := StorageKey("acme", "a:b")
	if key != "session:acme:a:b" {
		t.Fatalf("StorageKey() = %q", key)
	}
	if got := TenantPattern("acme"); got != "session:acme:*" {
		t.Fatalf("TenantPattern() = %q", got)
	}
	session, ok := SessionFromStorageKey("acme", key)
	if !ok || session != "a:b" {
		t.Fatalf("SessionFromStorageKey() = (%q, %v), want (%q, true)", session, ok, "a:b")
	}
	if _, ok := SessionFromStorageKey("beta", key); ok {
		t.Fatalf("SessionFromStorageKey() matched a foreign tenant")
	}
}

func TestMemoryScope(t *testing.T) {
	if got := MemoryScope("acme", "helper"); got != "acme:helper" {
		t.Fatalf("MemoryScope() = %q", got)
	}
}
