package service

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

const maxSlugLen = 60

// slugify turns an organization name into a lower-case, dash separated slug
func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		slug = "org"
	}
	return slug
}

// withSuffix disambiguates a slug that is already taken
func withSuffix(slug string) string {
	return slug + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}
