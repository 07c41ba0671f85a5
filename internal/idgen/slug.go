package idgen

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	slugPattern   = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
	whitespaceRun = regexp.MustCompile(`\s+`)
)

// Slug derives an agent identifier from a display name: lower-cased, with
// every run of whitespace collapsed to a single hyphen. "CEO Agent" and
// "CEO  Agent" both map to "ceo-agent"; uniqueness is the record store's job.
func Slug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	return whitespaceRun.ReplaceAllString(slug, "-")
}

// ValidateSlug checks that id is usable as an agent ID.
// Rules: lowercase letters, digits, and dashes; must start and end with a
// letter or digit; max 64 characters.
func ValidateSlug(id string) error {
	if len(id) > 64 {
		return fmt.Errorf("slug too long (max 64 characters)")
	}
	if !slugPattern.MatchString(id) {
		return fmt.Errorf("slug %q is invalid: must match %s", id, slugPattern.String())
	}
	return nil
}
