package models

import (
	"fmt"
)

// Stage is the batch inference round a phase belongs to.
type Stage string

const (
	StageDraft    Stage = "draft"
	StageGenerate Stage = "generate"
)

// Phase is a step of the per-item pipeline. The zero value is not a valid
// phase, so a cursor without a phase cannot be mistaken for phase one.
type Phase int

const (
	PhaseCollectDraftContext Phase = iota + 1
	PhaseBuildDraftRequest
	PhaseRateGateDraft
	PhaseSubmitPollDraft
	PhaseMaterializeDraft
	PhaseCollectGenerateContext
	PhaseBuildGenerateRequest
	PhaseRateGateGenerate
	PhaseSubmitPollGenerate
	PhaseMaterializeGenerate
	PhaseDone
)

var phaseNames = map[Phase]string{
	PhaseCollectDraftContext:    "collect_draft_context",
	PhaseBuildDraftRequest:      "build_draft_request",
	PhaseRateGateDraft:          "rate_gate_draft",
	PhaseSubmitPollDraft:        "submit_poll_draft",
	PhaseMaterializeDraft:       "materialize_draft",
	PhaseCollectGenerateContext: "collect_generate_context",
	PhaseBuildGenerateRequest:   "build_generate_request",
	PhaseRateGateGenerate:       "rate_gate_generate",
	PhaseSubmitPollGenerate:     "submit_poll_generate",
	PhaseMaterializeGenerate:    "materialize_generate",
	PhaseDone:                   "done",
}

// transitions is the only source of forward moves between phases.
var transitions = map[Phase]Phase{
	PhaseCollectDraftContext:    PhaseBuildDraftRequest,
	PhaseBuildDraftRequest:      PhaseRateGateDraft,
	PhaseRateGateDraft:          PhaseSubmitPollDraft,
	PhaseSubmitPollDraft:        PhaseMaterializeDraft,
	PhaseMaterializeDraft:       PhaseCollectGenerateContext,
	PhaseCollectGenerateContext: PhaseBuildGenerateRequest,
	PhaseBuildGenerateRequest:   PhaseRateGateGenerate,
	PhaseRateGateGenerate:       PhaseSubmitPollGenerate,
	PhaseSubmitPollGenerate:     PhaseMaterializeGenerate,
	PhaseMaterializeGenerate:    PhaseDone,
}

// ParsePhase maps a persisted phase name back to a Phase.
func ParsePhase(s string) (Phase, error) {
	for p, name := range phaseNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Valid reports whether p is one of the declared phases.
func (p Phase) Valid() bool {
	_, ok := phaseNames[p]
	return ok
}

// Next returns the phase that follows p. Done has no successor.
func (p Phase) Next() (Phase, bool) {
	next, ok := transitions[p]
	return next, ok
}

// Stage reports which batch round p belongs to. Done belongs to neither.
func (p Phase) Stage() Stage {
	switch {
	case p >= PhaseCollectDraftContext && p <= PhaseMaterializeDraft:
		return StageDraft
	case p >= PhaseCollectGenerateContext && p <= PhaseMaterializeGenerate:
		return StageGenerate
	}
	return ""
}

// IsRateGate reports whether p is an admission-control phase.
func (p Phase) IsRateGate() bool {
	return p == PhaseRateGateDraft || p == PhaseRateGateGenerate
}

// IsSubmitPoll reports whether p submits or polls a batch job.
func (p Phase) IsSubmitPoll() bool {
	return p == PhaseSubmitPollDraft || p == PhaseSubmitPollGenerate
}

// IsMaterialize reports whether p turns batch results into artifacts.
func (p Phase) IsMaterialize() bool {
	return p == PhaseMaterializeDraft || p == PhaseMaterializeGenerate
}

func (p Phase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid phase %d", int(p))
	}
	return []byte(phaseNames[p]), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
