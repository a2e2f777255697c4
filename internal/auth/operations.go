// operations.go maps bridge operations to the scope sets they require and
// implements the permission decisions used at enforcement points. The table
// is static: every operation the bridge exposes has a non-empty entry, and a
// lookup miss is a configuration defect, not a user error.
package auth

import (
	"github.com/gitlab-bridge/gitlab-bridge/internal/gateerr"
	"github.com/gitlab-bridge/gitlab-bridge/internal/token"
)

// Operation names an action a route can declare (e.g. "issues.create").
type Operation string

const (
	OpIssuesList          Operation = "issues.list"
	OpIssuesCreate        Operation = "issues.create"
	OpIssuesUpdate        Operation = "issues.update"
	OpMergeRequestsList   Operation = "merge_requests.list"
	OpMergeRequestsCreate Operation = "merge_requests.create"
	OpPipelineTrigger     Operation = "pipeline.trigger"
	OpPipelineRetry       Operation = "pipeline.retry"
	OpRepositoryRead      Operation = "repository.read"
	OpRepositoryWrite     Operation = "repository.write"
)

// operationScopes is the static operation → required-scopes table. Every
// exposed operation must have a non-empty entry.
var operationScopes = map[Operation][]Scope{
	OpIssuesList:          {ScopeReadAPI},
	OpIssuesCreate:        {ScopeAPI},
	OpIssuesUpdate:        {ScopeAPI},
	OpMergeRequestsList:   {ScopeReadAPI},
	OpMergeRequestsCreate: {ScopeAPI},
	OpPipelineTrigger:     {ScopeAPI},
	OpPipelineRetry:       {ScopeAPI},
	OpRepositoryRead:      {ScopeReadRepository},
	OpRepositoryWrite:     {ScopeWriteRepository},
}

// mutatingOperations marks the operation classes for which dangerous granted
// scopes are independently rejected.
var mutatingOperations = map[Operation]bool{
	OpIssuesCreate:        true,
	OpIssuesUpdate:        true,
	OpMergeRequestsCreate: true,
	OpPipelineTrigger:     true,
	OpPipelineRetry:       true,
	OpRepositoryWrite:     true,
}

// KnownOperation reports whether op has a permission-table entry. Used at
// router construction so misconfigured routes fail at startup, not at
// request time.
func KnownOperation(op Operation) bool {
	_, ok := operationScopes[op]
	return ok
}

// IsMutating reports whether op belongs to the mutating operation class.
func IsMutating(op Operation) bool {
	return mutatingOperations[op]
}

// RequiredScopesForOperations returns the deduplicated union of each
// operation's required scopes. Any unknown operation fails the whole lookup.
func RequiredScopesForOperations(ops []Operation) ([]Scope, error) {
	seen := make(map[Scope]struct{})
	var union []Scope
	for _, op := range ops {
		required, ok := operationScopes[op]
		if !ok {
			return nil, gateerr.UnknownOperation(string(op))
		}
		for _, s := range required {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			union = append(union, s)
		}
	}
	return union, nil
}

// Decision is the outcome of a permission check. MissingScopes and
// DangerousScopes are populated only on denial.
type Decision struct {
	Allowed         bool
	MissingScopes   []Scope
	DangerousScopes []string
}

// CheckOperationPermission evaluates whether the token may perform op.
// Two independent checks apply: the granted scopes must satisfy the
// operation's required set, and — for mutating operations — none of the
// granted scopes may appear on the dangerous-scope denylist.
func CheckOperationPermission(info *token.Info, op Operation, denylist []string) (Decision, error) {
	required, ok := operationScopes[op]
	if !ok {
		return Decision{}, gateerr.UnknownOperation(string(op))
	}

	if missing := MissingScopes(info.Scopes, required); len(missing) > 0 {
		return Decision{Allowed: false, MissingScopes: missing}, nil
	}

	if IsMutating(op) {
		if flagged := token.DangerousScopes(info.Scopes, denylist); len(flagged) > 0 {
			return Decision{Allowed: false, DangerousScopes: flagged}, nil
		}
	}

	return Decision{Allowed: true}, nil
}

// RequirePermission is the enforcement-point wrapper: it returns a gateerr
// denial instead of a Decision, for callers that want to fail fast.
func RequirePermission(info *token.Info, op Operation, denylist []string) error {
	decision, err := CheckOperationPermission(info, op, denylist)
	if err != nil {
		return err
	}
	if decision.Allowed {
		return nil
	}
	if len(decision.DangerousScopes) > 0 {
		return gateerr.DangerousScope(decision.DangerousScopes)
	}
	return gateerr.InsufficientScope(scopesToStrings(decision.MissingScopes))
}

// BridgeBaselineScopes is the minimum scope set every caller needs before any
// per-operation check, regardless of the route.
func BridgeBaselineScopes() []Scope {
	return []Scope{ScopeReadAPI}
}

// CheckBridgeScopes validates the token carries the bridge's baseline scopes.
func CheckBridgeScopes(info *token.Info, baseline []Scope) error {
	if missing := MissingScopes(info.Scopes, baseline); len(missing) > 0 {
		return gateerr.InsufficientScope(scopesToStrings(missing))
	}
	return nil
}

// CheckMultipleOperations evaluates each operation independently and never
// short-circuits: a caller needing "all must pass" aggregates the map itself.
// Unknown operations surface as an error for the whole call since the input
// itself is misconfigured.
func CheckMultipleOperations(info *token.Info, ops []Operation, denylist []string) (map[Operation]Decision, error) {
	results := make(map[Operation]Decision, len(ops))
	for _, op := range ops {
		decision, err := CheckOperationPermission(info, op, denylist)
		if err != nil {
			return nil, err
		}
		results[op] = decision
	}
	return results, nil
}

func scopesToStrings(scopes []Scope) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		out = append(out, string(s))
	}
	return out
}
