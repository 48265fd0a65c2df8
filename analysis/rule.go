package analysis

import (
	"context"
)

// ruleAnalyzer suggests morphs from a fixed table keyed by the current space type.
// It serves single node deployments without an analysis service, and dev/analysis.
type ruleAnalyzer struct {
	rules map[string][]string
}

var defaultRules = map[string][]string{
	"meeting":       {"whiteboard", "document"},
	"whiteboard":    {"brainstorm", "document"},
	"brainstorm":    {"whiteboard", "meeting"},
	"document":      {"meeting"},
	"voice_channel": {"meeting", "brainstorm"},
}

func NewRuleAnalyzer() *ruleAnalyzer {
	return &ruleAnalyzer{rules: defaultRules}
}

func (a *ruleAnalyzer) QueryAI(ctx context.Context, spaceID, prompt string, hints map[string]string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	suggested := a.rules[hints["current_type"]]
	if len(suggested) == 0 {
		return &Result{}, nil
	}
	return &Result{SuggestedMorphs: append([]string(nil), suggested...)}, nil
}

// Query implements `AnalysisServer`.
func (a *ruleAnalyzer) Query(ctx context.Context, req *Request) (*Result, error) {
	return a.QueryAI(ctx, req.SpaceID, req.Prompt, req.Context)
}
