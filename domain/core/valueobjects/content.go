package valueobjects

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/teesha-ghevariya/to-do/domain/config"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
)

// NodeContent is a value object for the text of a node
type NodeContent struct {
	text string
}

// NewNodeContent creates content with validation using default configuration
func NewNodeContent(text string) (NodeContent, error) {
	return NewNodeContentWithConfig(text, config.DefaultDomainConfig())
}

// NewNodeContentWithConfig creates content with validation and configuration
func NewNodeContentWithConfig(text string, cfg *config.DomainConfig) (NodeContent, error) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return NodeContent{}, pkgerrors.NewValidationError("content cannot be empty")
	}

	if utf8.RuneCountInString(text) > cfg.MaxContentLength {
		return NodeContent{}, pkgerrors.NewValidationError(
			fmt.Sprintf("content exceeds maximum length of %d characters", cfg.MaxContentLength))
	}

	return NodeContent{text: text}, nil
}

// String returns the content text
func (c NodeContent) String() string {
	return c.text
}

// IsEmpty checks if content is empty
func (c NodeContent) IsEmpty() bool {
	return c.text == ""
}

// Contains reports a case-insensitive substring match.
func (c NodeContent) Contains(query string) bool {
	return strings.Contains(strings.ToLower(c.text), strings.ToLower(query))
}

// Equals checks if two contents are equal
func (c NodeContent) Equals(other NodeContent) bool {
	return c.text == other.text
}

// RestoreNodeContent rebuilds content read back from storage without
// re-applying length limits, which may have changed since it was written.
func RestoreNodeContent(text string) NodeContent {
	return NodeContent{text: text}
}
