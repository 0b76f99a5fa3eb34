// Package intent labels a natural-language question by the kind of
// action it asks for, so the pipeline can bail out early on requests it
// cannot serve.
package intent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/queryhub/queryhub/internal/completion"
)

type Kind string

const (
	// KindTabular asks for rows or values computable from a single table.
	KindTabular Kind = "tabular"
	// KindAggregation asks for grouped or summarized figures, possibly
	// intended for charting. Served by the same SQL path as tabular.
	KindAggregation Kind = "aggregation"
	// KindUnsupported covers greetings, meta questions, and anything
	// not answerable from tabular data.
	KindUnsupported Kind = "unsupported"
)

// Supported reports whether the pipeline can serve this kind of request.
func (k Kind) Supported() bool {
	return k == KindTabular || k == KindAggregation
}

type Classifier interface {
	Classify(ctx context.Context, question string) (Kind, error)
}

var (
	aggregationPattern = regexp.MustCompile(`(?i)\b(total|sum|average|avg|mean|count|min(imum)?|max(imum)?|median|per|by|group|top|breakdown|distribution|trend|chart|plot|graph)\b`)
	tabularPattern     = regexp.MustCompile(`(?i)\b(show|list|find|which|what|how many|where|when|who|rows?|records?|entries|values?|filter|between|greater|less|than|first|last)\b`)
	greetingPattern    = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank you|good (morning|afternoon|evening)|how are you)\b`)
)

// RuleClassifier labels questions by keyword patterns alone. It is used
// as the fast path and as the final fallback when no model is
// reachable.
type RuleClassifier struct{}

func (RuleClassifier) Classify(_ context.Context, question string) (Kind, error) {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return KindUnsupported, nil
	}
	if greetingPattern.MatchString(trimmed) {
		return KindUnsupported, nil
	}
	if aggregationPattern.MatchString(trimmed) {
		return KindAggregation, nil
	}
	if tabularPattern.MatchString(trimmed) {
		return KindTabular, nil
	}
	return KindUnsupported, nil
}

// ModelClassifier asks the completion capability to label questions the
// rule patterns could not place, and falls back to the rule verdict when
// the model call fails or answers off-vocabulary.
type ModelClassifier struct {
	client completion.Client
	rules  RuleClassifier
}

func NewModelClassifier(client completion.Client) (*ModelClassifier, error) {
	if client == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	return &ModelClassifier{client: client}, nil
}

func (c *ModelClassifier) Classify(ctx context.Context, question string) (Kind, error) {
	kind, err := c.rules.Classify(ctx, question)
	if err != nil {
		return KindUnsupported, err
	}
	if kind.Supported() {
		return kind, nil
	}
	if greetingPattern.MatchString(strings.TrimSpace(question)) {
		return KindUnsupported, nil
	}

	content, err := c.client.Complete(ctx, []completion.Message{
		{Role: "system", Content: "Classify the user question as exactly one word: tabular, aggregation, or unsupported. tabular = asks for rows or values from a data table. aggregation = asks for grouped or summarized figures. unsupported = anything else."},
		{Role: "user", Content: strings.TrimSpace(question)},
	})
	if err != nil {
		return kind, nil
	}
	switch Kind(strings.ToLower(strings.TrimSpace(content))) {
	case KindTabular:
		return KindTabular, nil
	case KindAggregation:
		return KindAggregation, nil
	default:
		return KindUnsupported, nil
	}
}
