package policy

import (
	"time"

	"github.com/techblog/sasscfg/pkg/config"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should fail a lint run.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether the severity makes a result disallowed.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Key is the setting the violation is about.
	Key string `json:"key,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Details contains additional violation details.
	Details map[string]interface{} `json:"details,omitempty"`

	// Remediation provides suggested fixes.
	Remediation string `json:"remediation,omitempty"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// PolicyResult represents the result of policy evaluation.
type PolicyResult struct {
	// Allowed is false when any violation is error or critical.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations, ordered by policy name.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`

	// Context contains evaluation context information.
	Context *PolicyContext `json:"context,omitempty"`
}

// PolicyInput is the document policies see as `input`.
type PolicyInput struct {
	// Project is the settings record keyed by setting name.
	Project map[string]interface{} `json:"project"`

	// Explicit lists the keys present in the settings file.
	Explicit []string `json:"explicit,omitempty"`

	// Context provides additional evaluation context.
	Context *PolicyContext `json:"context"`
}

// NewPolicyInput builds the input document for a record.
func NewPolicyInput(p *config.Project, explicit []string, pctx *PolicyContext) *PolicyInput {
	project := p.ToMap()
	if _, ok := project["requires"]; !ok {
		project["requires"] = []interface{}{}
	}
	if pctx == nil {
		pctx = &PolicyContext{}
	}
	if pctx.Timestamp.IsZero() {
		pctx.Timestamp = time.Now()
	}
	return &PolicyInput{
		Project:  project,
		Explicit: explicit,
		Context:  pctx,
	}
}

// PolicyContext provides context information for policy evaluation.
type PolicyContext struct {
	// Source is the settings file being linted.
	Source string `json:"source,omitempty"`

	// Format is the syntax of the settings file.
	Format string `json:"format,omitempty"`

	// Environment is the build environment (e.g., "production").
	Environment string `json:"environment,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the command being run (e.g., "lint", "watch").
	Operation string `json:"operation,omitempty"`

	// Metadata contains additional context metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PolicyBundle represents a collection of related policies.
type PolicyBundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"created_at"`
}

// PolicySummary provides aggregate statistics for policy evaluation.
type PolicySummary struct {
	// TotalPolicies is the total number of policies evaluated.
	TotalPolicies int `json:"total_policies"`

	// TotalViolations is the total number of violations.
	TotalViolations int `json:"total_violations"`

	// ViolationsBySeverity breaks down violations by severity.
	ViolationsBySeverity map[Severity]int `json:"violations_by_severity"`

	// TotalWarnings is the number of policies that failed to evaluate.
	TotalWarnings int `json:"total_warnings"`

	// Allowed mirrors PolicyResult.Allowed.
	Allowed bool `json:"allowed"`

	// EvaluationDuration is the total evaluation time.
	EvaluationDuration time.Duration `json:"evaluation_duration"`
}

// Summary aggregates the result.
func (r *PolicyResult) Summary() *PolicySummary {
	s := &PolicySummary{
		TotalPolicies:        len(r.EvaluatedPolicies),
		TotalViolations:      len(r.Violations),
		ViolationsBySeverity: make(map[Severity]int),
		TotalWarnings:        len(r.Warnings),
		Allowed:              r.Allowed,
		EvaluationDuration:   r.Duration,
	}
	for _, v := range r.Violations {
		s.ViolationsBySeverity[v.Severity]++
	}
	return s
}
