package i18n

import (
	"strings"

	"golang.org/x/text/language"
)

// Matcher resolves a requested locale to the closest supported one.
// Notification payloads carry the resolved locale so downstream templates
// never see an unsupported tag.
type Matcher struct {
	matcher  language.Matcher
	tags     []language.Tag
	fallback string
}

// NewMatcher builds a Matcher from the supported locale tags. The first
// entry is the fallback. Invalid tags are skipped; an empty or fully invalid
// list falls back to English.
func NewMatcher(supported []string) *Matcher {
	tags := make([]language.Tag, 0, len(supported))
	for _, raw := range supported {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		tag, err := language.Parse(raw)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		tags = []language.Tag{language.English}
	}
	return &Matcher{
		matcher:  language.NewMatcher(tags),
		tags:     tags,
		fallback: tags[0].String(),
	}
}

// Match returns the supported locale closest to the requested one, or the
// fallback when the request is empty or unparseable.
func (m *Matcher) Match(requested string) string {
	if m == nil || m.matcher == nil {
		return "en"
	}
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return m.fallback
	}
	desired, err := language.Parse(requested)
	if err != nil {
		return m.fallback
	}
	_, index, _ := m.matcher.Match(desired)
	if index < 0 || index >= len(m.tags) {
		return m.fallback
	}
	return m.tags[index].String()
}
