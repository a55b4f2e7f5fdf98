package valueobjects

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/teesha-ghevariya/to-do/domain/config"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
)

// NormalizeTag trims a tag and strips a leading '#'. Case is preserved.
func NormalizeTag(tag string, cfg *config.DomainConfig) (string, error) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}

	tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", pkgerrors.NewValidationError("tag cannot be empty")
	}
	if utf8.RuneCountInString(tag) > cfg.MaxTagLength {
		return "", pkgerrors.NewValidationError(
			fmt.Sprintf("tag exceeds maximum length of %d characters", cfg.MaxTagLength))
	}
	return tag, nil
}

// NormalizeTags normalizes every tag of a list, keeping order and duplicates.
func NormalizeTags(tags []string, cfg *config.DomainConfig) ([]string, error) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if len(tags) > cfg.MaxTagsPerNode {
		return nil, pkgerrors.NewValidationError(
			fmt.Sprintf("a node can carry at most %d tags", cfg.MaxTagsPerNode))
	}

	out := make([]string, 0, len(tags))
	for _, t := range tags {
		normalized, err := NormalizeTag(t, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, normalized)
	}
	return out, nil
}
