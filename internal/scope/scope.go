// Package scope builds and parses the tenant-scoped identifiers used across
// agentgate. A single logical session id is only ever handed to storage or
// to the execution engine in its scoped form.
package scope

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins the tenant and session components of a scoped id.
const Separator = ":"

const storagePrefix = "session" + Separator

var (
	// ErrInvalidArgument is returned when a component needed to build a
	// scoped id is empty, or the tenant contains the separator.
	ErrInvalidArgument = errors.New("invalid scope argument")
	// ErrFormat is returned when a composite id cannot be decoded.
	ErrFormat = errors.New("malformed scoped session id")
)

// Scope combines a tenant and a session id into "{tenant}:{session}".
// Unscope splits on the first separator, so a tenant id must not contain it.
func Scope(tenantID, sessionID string) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("%w: tenant id is empty", ErrInvalidArgument)
	}
	if strings.Contains(tenantID, Separator) {
		return "", fmt.Errorf("%w: tenant id %q contains %q", ErrInvalidArgument, tenantID, Separator)
	}
	if sessionID == "" {
		return "", fmt.Errorf("%w: session id is empty", ErrInvalidArgument)
	}
	return tenantID + Separator + sessionID, nil
}

// Unscope splits a composite id on the first separator. The session part may
// itself contain the separator.
func Unscope(composite string) (tenantID, sessionID string, err error) {
	tenantID, sessionID, ok := strings.Cut(composite, Separator)
	if !ok {
		return "", "", fmt.Errorf("%w: expected 'tenant_id%ssession_id', got %q", ErrFormat, Separator, composite)
	}
	if tenantID == "" || sessionID == "" {
		return "", "", fmt.Errorf("%w: empty component in %q", ErrFormat, composite)
	}
	return tenantID, sessionID, nil
}

// StorageKey is the namespaced key a durable store persists a session under.
func StorageKey(tenantID, sessionID string) string {
	return storagePrefix + tenantID + Separator + sessionID
}

// TenantPattern matches every storage key of one tenant (glob syntax).
func TenantPattern(tenantID string) string {
	return storagePrefix + tenantID + Separator + "*"
}

// SessionFromStorageKey recovers the session id from a storage key belonging
// to tenantID.
func SessionFromStorageKey(tenantID, key string) (string, bool) {
	sessionID, ok := strings.CutPrefix(key, storagePrefix+tenantID+Separator)
	if !ok || sessionID == "" {
		return "", false
	}
	return sessionID, true
}

// MemoryScope is the partition long-term memories of one agent app live in
// for a tenant.
func MemoryScope(tenantID, appName string) string {
	return tenantID + Separator + appName
}
