// Package llm defines the capability contracts for language-model and
// search assistance, plus the budget gate and circuit-broken failover
// router wrapped around concrete providers. The pipeline must fully
// degrade when every provider is down: callers treat ErrDegraded as
// "continue without assistance".
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Role names the purpose of a model call. Cost policy and prompt shape
// differ per role.
type Role string

// Call roles.
const (
	RolePlan     Role = "plan"
	RoleExtract  Role = "extract"
	RoleValidate Role = "validate"
	RoleWrite    Role = "write"
)

// Request is one model invocation.
type Request struct {
	Role   Role
	System string
	User   string
	// Schema constrains the response shape when the provider supports it.
	Schema json.RawMessage
	// Context carries structured call inputs serialized into the prompt.
	Context map[string]any

	// ProductID scopes per-product budget accounting.
	ProductID string
	// EstimatedCostUSD is checked against the budget before dispatch.
	EstimatedCostUSD float64
	// Essential calls (identity, validation) abort the round when the
	// budget blocks them; non-essential calls are silently droppable.
	Essential bool
}

// Router dispatches model calls.
type Router interface {
	Call(ctx context.Context, req Request) (json.RawMessage, error)
}

// Provider is one concrete model backend behind the router.
type Provider interface {
	Name() string
	Call(ctx context.Context, req Request) (json.RawMessage, error)
}

// SearchResult is one SERP entry.
type SearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Host    string `json:"host"`
	Rank    int    `json:"rank"`
}

// SearchProvider issues web searches for the planner.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// Sentinel errors for degradation handling.
var (
	// ErrDegraded means every provider failed or is circuit-open; the
	// pipeline continues without assistance.
	ErrDegraded = errors.New("llm: all providers unavailable")
	// ErrBudgetExceeded means the budget gate blocked the call.
	ErrBudgetExceeded = errors.New("llm: budget exceeded")
)
