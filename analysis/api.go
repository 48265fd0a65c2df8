package analysis

//go:generate mockgen -destination=mock/mock_analysis.go -package=analysis_mock github.com/mqy/minispace/analysis IAnalyzer

import "context"

// Request is the query sent to the analysis service.
type Request struct {
	SpaceID string            `json:"space_id"`
	Prompt  string            `json:"prompt"`
	Context map[string]string `json:"context,omitempty"`
}

// Result is best effort, nil or empty `SuggestedMorphs` means no suggestion.
type Result struct {
	SuggestedMorphs []string `json:"suggested_morphs,omitempty"`
}

// IAnalyzer is the analysis collaborator.
type IAnalyzer interface {
	QueryAI(ctx context.Context, spaceID, prompt string, hints map[string]string) (*Result, error)
}
