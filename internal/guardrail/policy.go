// Package guardrail implements the bounded-autonomy policy: which operations
// may run unattended, which are destructive and need human approval, and how
// large a batch may be before it needs approval too.
//
// A Policy is a pure evaluation over an operation name and its parameters.
// It performs no I/O and never mutates its inputs.
package guardrail

import (
	"fmt"
	"reflect"

	"github.com/gobwas/glob"

	"github.com/harrison/autopilot/internal/models"
)

// DefaultBatchLimit is the largest identifier array allowed without approval.
const DefaultBatchLimit = 100

// DefaultBatchParam is the parameter conventionally holding element identifiers.
const DefaultBatchParam = "element_ids"

// ReasonDestructive is reported when a destructive operation needs approval.
const ReasonDestructive = "Destructive operation requires approval"

// Class classifies an operation for guardrail purposes.
type Class int

const (
	// ClassStandard operations are allowed unless they exceed the batch limit.
	ClassStandard Class = iota
	// ClassSafe operations are read-only and always allowed.
	ClassSafe
	// ClassDestructive operations need approval when approval gating is on.
	ClassDestructive
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassSafe:
		return "safe"
	case ClassDestructive:
		return "destructive"
	default:
		return "standard"
	}
}

// Profile declares how the guardrail treats operations matching Pattern.
// Pattern is a glob ("get_*") or an exact operation name.
type Profile struct {
	Pattern     string
	Class       Class
	BatchParams []string // Array-valued params counted against the batch limit
}

// Config holds guardrail settings.
type Config struct {
	RequireApprovalForDestructive bool
	BatchLimit                    int                 // 0 means DefaultBatchLimit
	Profiles                      []Profile           // Evaluated before the builtin profiles
	BatchParams                   map[string][]string // Exact operation name -> batch params override
}

// CheckResult is the verdict for a single operation.
type CheckResult struct {
	Allowed          bool
	RequiresApproval bool
	Reason           string
}

type compiledProfile struct {
	Profile
	matcher glob.Glob
}

// Policy evaluates operations and plans against the configured profiles.
type Policy struct {
	cfg      Config
	profiles []compiledProfile
}

// NewPolicy compiles the configured profiles followed by the builtin ones.
func NewPolicy(cfg Config) (*Policy, error) {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}

	all := append(append([]Profile{}, cfg.Profiles...), BuiltinProfiles()...)
	compiled := make([]compiledProfile, 0, len(all))
	for _, p := range all {
		g, err := glob.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid operation pattern '%s': %w", p.Pattern, err)
		}
		compiled = append(compiled, compiledProfile{Profile: p, matcher: g})
	}

	return &Policy{cfg: cfg, profiles: compiled}, nil
}

// MustPolicy is NewPolicy for configurations known to be valid.
func MustPolicy(cfg Config) *Policy {
	p, err := NewPolicy(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

// Config returns the policy configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// WithRequireApproval returns a copy of the policy with approval gating toggled.
func (p *Policy) WithRequireApproval(require bool) *Policy {
	cp := *p
	cp.cfg.RequireApprovalForDestructive = require
	return &cp
}

// Profile returns the first profile matching the operation.
// Unmatched operations get a standard profile with the conventional batch param.
func (p *Policy) Profile(operation string) Profile {
	for _, cp := range p.profiles {
		if cp.matcher.Match(operation) {
			return cp.Profile
		}
	}
	return Profile{Pattern: operation, Class: ClassStandard}
}

// CheckOperation classifies a single operation invocation.
func (p *Policy) CheckOperation(operation string, params map[string]any) CheckResult {
	profile := p.Profile(operation)

	if profile.Class == ClassSafe {
		return CheckResult{Allowed: true}
	}

	if p.cfg.RequireApprovalForDestructive && profile.Class == ClassDestructive {
		return CheckResult{
			Allowed:          false,
			RequiresApproval: true,
			Reason:           ReasonDestructive,
		}
	}

	return p.checkBatch(operation, profile, params)
}

// CheckBatch applies only the batch limit, skipping the destructive gate.
// Safe operations are never batches.
func (p *Policy) CheckBatch(operation string, params map[string]any) CheckResult {
	profile := p.Profile(operation)
	if profile.Class == ClassSafe {
		return CheckResult{Allowed: true}
	}
	return p.checkBatch(operation, profile, params)
}

func (p *Policy) checkBatch(operation string, profile Profile, params map[string]any) CheckResult {
	for _, name := range p.batchParams(operation, profile) {
		size, ok := arrayLen(params[name])
		if !ok {
			continue
		}
		if size > p.cfg.BatchLimit {
			return CheckResult{
				Allowed:          false,
				RequiresApproval: true,
				Reason:           fmt.Sprintf("Batch size %d exceeds limit of %d", size, p.cfg.BatchLimit),
			}
		}
	}
	return CheckResult{Allowed: true}
}

// ValidatePlan checks every step in order and returns the first failure.
func (p *Policy) ValidatePlan(plan *models.ExecutionPlan) models.ValidationResult {
	if plan == nil {
		return models.ValidationResult{Valid: true}
	}
	for _, step := range plan.Steps {
		check := p.CheckOperation(step.Operation, step.Params)
		if !check.Allowed {
			return models.ValidationResult{
				Valid:            false,
				RequiresApproval: check.RequiresApproval,
				Reason:           check.Reason,
				FailedStep:       step.Number,
			}
		}
	}
	return models.ValidationResult{Valid: true}
}

func (p *Policy) batchParams(operation string, profile Profile) []string {
	if override, ok := p.cfg.BatchParams[operation]; ok && len(override) > 0 {
		return override
	}
	if len(profile.BatchParams) > 0 {
		return profile.BatchParams
	}
	return []string{DefaultBatchParam}
}

// arrayLen returns the length of slice or array values.
// Placeholder strings and scalars are not batches.
func arrayLen(v any) (int, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len(), true
	default:
		return 0, false
	}
}
