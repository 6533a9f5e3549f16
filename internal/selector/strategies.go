package selector

import (
	"fmt"
	"strings"

	"InboxRPA/internal/domain"
)

// ActionWords are button captions that usually confirm the action a mail asks for.
var ActionWords = []string{"Click", "Submit", "Login", "Sign in", "Continue", "Next", "Accept", "OK"}

// DefaultStrategies returns the built-in priority order, most specific first.
func DefaultStrategies() []domain.SelectorSpec {
	words := actionWordPredicate()
	return []domain.SelectorSpec{
		{Kind: domain.LocatorXPath, Value: fmt.Sprintf("//button[%s]", words), Description: "action-word button"},
		{Kind: domain.LocatorXPath, Value: fmt.Sprintf("//a[%s]", words), Description: "action-word link"},
		{Kind: domain.LocatorXPath, Value: "//button", Description: "generic button"},
		{Kind: domain.LocatorXPath, Value: "//a[contains(@href, '#') or contains(@href, 'javascript')]", Description: "hash or javascript anchor"},
		{Kind: domain.LocatorCSS, Value: "input[type=submit], input[type=button], input[type=image]", Description: "generic form control"},
	}
}

// Chain builds the ordered strategy list: base (or the defaults when empty), then the override.
func Chain(base []domain.SelectorSpec, override *domain.SelectorSpec) []domain.SelectorSpec {
	if len(base) == 0 {
		base = DefaultStrategies()
	}
	chain := make([]domain.SelectorSpec, 0, len(base)+1)
	chain = append(chain, base...)
	if override != nil && strings.TrimSpace(override.Value) != "" {
		spec := *override
		if spec.Description == "" {
			spec.Description = fmt.Sprintf("configured selector %s", spec.Value)
		}
		chain = append(chain, spec)
	}
	return chain
}

func actionWordPredicate() string {
	parts := make([]string, 0, len(ActionWords))
	for _, word := range ActionWords {
		parts = append(parts, fmt.Sprintf("contains(text(), '%s')", word))
	}
	return strings.Join(parts, " or ")
}
