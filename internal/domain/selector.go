package domain

import "fmt"

// LocatorKind names the strategy a driver uses to find an element.
type LocatorKind string

const (
	LocatorXPath LocatorKind = "xpath"
	LocatorCSS   LocatorKind = "css"
	LocatorID    LocatorKind = "id"
	LocatorClass LocatorKind = "class"
	LocatorTag   LocatorKind = "tag"
)

// ParseLocatorKind validates a locator kind read from configuration.
func ParseLocatorKind(value string) (LocatorKind, error) {
	switch kind := LocatorKind(value); kind {
	case LocatorXPath, LocatorCSS, LocatorID, LocatorClass, LocatorTag:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown locator kind %q", value)
	}
}

// SelectorSpec is one strategy for locating an actionable element.
type SelectorSpec struct {
	Kind        LocatorKind
	Value       string
	Description string
}

func (s SelectorSpec) String() string {
	if s.Description != "" {
		return s.Description
	}
	return fmt.Sprintf("%s %s", s.Kind, s.Value)
}
