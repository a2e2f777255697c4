// Package auth - scopes.go defines the GitLab scope vocabulary the bridge
// understands and provides HasScope / satisfaction helpers for permission
// checking. Scope sets are unordered and deduplicated; the broad "api" scope
// implies every narrower API scope, and write scopes imply their read
// counterparts, mirroring how the upstream instance grants access.
package auth

import (
	"errors"
	"fmt"
)

// Scope represents a permission/scope type
type Scope string

const (
	// Full API access (read and write)
	ScopeAPI Scope = "api"

	// Read-only API access
	ScopeReadAPI Scope = "read_api"

	// User profile access
	ScopeReadUser Scope = "read_user"

	// Repository scopes
	ScopeReadRepository  Scope = "read_repository"
	ScopeWriteRepository Scope = "write_repository"

	// Container registry scopes
	ScopeReadRegistry  Scope = "read_registry"
	ScopeWriteRegistry Scope = "write_registry"

	// High-risk scopes, flagged by the dangerous-scope denylist by default
	ScopeSudo      Scope = "sudo"
	ScopeAdminMode Scope = "admin_mode"
)

// AllScopes returns all valid scopes
func AllScopes() []Scope {
	return []Scope{
		ScopeAPI,
		ScopeReadAPI,
		ScopeReadUser,
		ScopeReadRepository,
		ScopeWriteRepository,
		ScopeReadRegistry,
		ScopeWriteRegistry,
		ScopeSudo,
		ScopeAdminMode,
	}
}

// ValidScopes returns a map of valid scope strings
func ValidScopes() map[string]bool {
	validScopes := make(map[string]bool)
	for _, scope := range AllScopes() {
		validScopes[string(scope)] = true
	}
	return validScopes
}

// ValidateScopes checks if all provided scopes are valid
func ValidateScopes(scopes []string) error {
	validScopes := ValidScopes()

	for _, scope := range scopes {
		if !validScopes[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}

	return nil
}

// HasScope checks if a granted scope set satisfies a required scope.
// "api" implies every non-administrative scope; write scopes imply their
// read counterparts.
func HasScope(granted []string, required Scope) bool {
	requiredStr := string(required)

	for _, scope := range granted {
		if scope == requiredStr {
			return true
		}

		// api covers the whole non-administrative API surface
		if scope == string(ScopeAPI) && required != ScopeSudo && required != ScopeAdminMode {
			return true
		}

		// Write implies read
		if required == ScopeReadRepository && scope == string(ScopeWriteRepository) {
			return true
		}
		if required == ScopeReadRegistry && scope == string(ScopeWriteRegistry) {
			return true
		}
	}

	return false
}

// HasAllScopes checks if a granted set satisfies all of the required scopes
func HasAllScopes(granted []string, required []Scope) bool {
	for _, r := range required {
		if !HasScope(granted, r) {
			return false
		}
	}
	return true
}

// HasAnyScope checks if a granted set satisfies at least one required scope
func HasAnyScope(granted []string, required []Scope) bool {
	for _, r := range required {
		if HasScope(granted, r) {
			return true
		}
	}
	return false
}

// CheckScopeSatisfaction reports whether every required scope is satisfied by
// the granted set. An empty required set is always satisfied.
func CheckScopeSatisfaction(granted []string, required []Scope) bool {
	return HasAllScopes(granted, required)
}

// MissingScopes returns the required scopes the granted set does not satisfy,
// in required order.
func MissingScopes(granted []string, required []Scope) []Scope {
	var missing []Scope
	for _, r := range required {
		if !HasScope(granted, r) {
			missing = append(missing, r)
		}
	}
	return missing
}

// ValidateScopeString validates a single scope string
func ValidateScopeString(scope string) error {
	validScopes := ValidScopes()
	if !validScopes[scope] {
		return errors.New("invalid scope")
	}
	return nil
}
