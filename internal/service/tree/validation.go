package tree

import (
	"fmt"
	"regexp"
	"strings"

	"studydesk/internal/config"
	"studydesk/internal/domain"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var noSlash = regexp.MustCompile(`^[^/]*$`)

// normalizeName trims name and checks it against the naming rules.
// Every failure wraps domain.ErrInvalidName.
func normalizeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	err := validation.Validate(trimmed,
		validation.Required.Error("name cannot be empty"),
		validation.RuneLength(1, config.MaxNameLength).Error(
			fmt.Sprintf("name cannot exceed %d characters", config.MaxNameLength)),
		validation.Match(noSlash).Error("name cannot contain '/'"),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidName, err)
	}
	return trimmed, nil
}

// normalizeParent treats an empty parent id as the root
func normalizeParent(parentID *string) *string {
	if parentID == nil || *parentID == "" {
		return nil
	}
	v := *parentID
	return &v
}
