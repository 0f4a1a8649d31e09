package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// StageName identifies a pipeline stage.
type StageName string

const (
	StageMarket     StageName = "market"
	StageOutline    StageName = "outline"
	StageChapter    StageName = "chapter"
	StageManuscript StageName = "manuscript"
	StageListing    StageName = "listing"
	StageCover      StageName = "cover"
	StageAudiobook  StageName = "audiobook"
	StageExport     StageName = "export"
)

// Policy decides what a stage failure does to the job.
type Policy string

const (
	// PolicyAbort fails the job.
	PolicyAbort Policy = "abort"
	// PolicyDegrade drops the stage output, records a note and continues.
	PolicyDegrade Policy = "degrade"
)

// Policies maps every stage to its failure policy.
type Policies map[StageName]Policy

// mandatory stages produce the book itself and always abort.
var mandatory = map[StageName]bool{
	StageMarket:  true,
	StageOutline: true,
	StageChapter: true,
}

// DefaultPolicies aborts on the text stages and degrades on the rest.
func DefaultPolicies() Policies {
	return Policies{
		StageMarket:     PolicyAbort,
		StageOutline:    PolicyAbort,
		StageChapter:    PolicyAbort,
		StageManuscript: PolicyAbort,
		StageListing:    PolicyDegrade,
		StageCover:      PolicyDegrade,
		StageAudiobook:  PolicyDegrade,
		StageExport:     PolicyDegrade,
	}
}

// ParsePolicies applies overrides such as "listing=abort,manuscript=degrade"
// on top of DefaultPolicies.
func ParsePolicies(raw string) (Policies, error) {
	policies := DefaultPolicies()
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("stage policy %q: want stage=policy", part)
		}
		stage := StageName(strings.ToLower(strings.TrimSpace(name)))
		policy := Policy(strings.ToLower(strings.TrimSpace(value)))
		if _, known := policies[stage]; !known {
			return nil, fmt.Errorf("stage policy %q: unknown stage %q", part, stage)
		}
		if policy != PolicyAbort && policy != PolicyDegrade {
			return nil, fmt.Errorf("stage policy %q: unknown policy %q", part, policy)
		}
		if mandatory[stage] && policy == PolicyDegrade {
			return nil, fmt.Errorf("stage policy %q: %s is mandatory and cannot degrade", part, stage)
		}
		policies[stage] = policy
	}
	return policies, nil
}

// For returns the policy of stage, aborting for unknown stages.
func (p Policies) For(stage StageName) Policy {
	if mandatory[stage] {
		return PolicyAbort
	}
	if policy, ok := p[stage]; ok {
		return policy
	}
	return PolicyAbort
}

// String renders the policies in ParsePolicies syntax, sorted by stage.
func (p Policies) String() string {
	parts := make([]string, 0, len(p))
	for stage, policy := range p {
		parts = append(parts, string(stage)+"="+string(policy))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
