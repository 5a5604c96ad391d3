// Package toolsurface defines the request/response shapes for the
// module's external tool-call surface (getStandards, searchStandards,
// validateCode, addStandard, removeStandard, getRegistryStats) and a
// thin Service that wires the Tiered Cache, FTS Search Engine and
// Analytics Recorder together to answer them. The dispatcher that would
// route actual tool calls to this surface is out of scope — this package
// only needs to give each call shape a concrete Go type and a correct
// implementation to call.
package toolsurface

import (
	"time"

	"github.com/menoncello/standards-cache/internal/search"
	"github.com/menoncello/standards-cache/internal/standards"
)

// GetStandardsRequest lists standards by facet; an empty field is a
// wildcard.
type GetStandardsRequest struct {
	Technology string
	Category   string
}

// GetStandardsResponse is the result of GetStandards.
type GetStandardsResponse struct {
	Standards    []standards.Standard
	TotalCount   int
	ResponseTime time.Duration
}

// GetStandardRequest fetches a single standard by its full key triple.
type GetStandardRequest struct {
	Technology string
	Category   string
	ID         string
}

// SearchStandardsRequest is searchStandards' input.
type SearchStandardsRequest struct {
	Query      string
	Technology string
	Category   string
	Fuzzy      bool
	Limit      int
	Offset     int
	OrderBy    string
}

// SearchStandardsResponse is searchStandards' output.
type SearchStandardsResponse struct {
	Results      []search.Result
	TotalCount   int
	ResponseTime time.Duration
	Cached       bool
}

// ValidationIssue is one rule violation found in submitted code.
type ValidationIssue struct {
	RuleID   string
	Severity standards.Severity
	Message  string
	Line     int
}

// ValidationResult is the cacheable outcome of validating one code
// snippet against a rule set — the payload behind the Key Schema's
// "validation result" key. Computing it is outside this module's scope;
// this type only names the shape the cache stores and returns.
type ValidationResult struct {
	Passed bool
	Issues []ValidationIssue
}

// ValidateCodeRequest identifies the code snippet (by its precomputed
// hash — hashing the snippet itself is a caller concern), language and
// rule set to check a cached result against.
type ValidateCodeRequest struct {
	CodeHash string
	Language string
	Rules    []string
}

// AddStandardRequest carries a new or replacement Standard.
type AddStandardRequest struct {
	Standard standards.Standard
}

// AddStandardResponse confirms the indexed ID.
type AddStandardResponse struct {
	ID string
}

// RemoveStandardRequest identifies a standard to remove by its full key
// triple.
type RemoveStandardRequest struct {
	Technology string
	Category   string
	ID         string
}

// RemoveStandardResponse reports whether anything was actually removed.
type RemoveStandardResponse struct {
	Removed bool
}

// GetRegistryStatsResponse wraps standards.RegistryStats for the tool-call
// surface.
type GetRegistryStatsResponse struct {
	Stats standards.RegistryStats
}
