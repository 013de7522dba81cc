package graph

import (
	"strings"
	"unicode"

	"github.com/indexforge/docproc/pkg/types"
)

// SanitizeRelations validates and normalizes LLM-extracted triples.
// Items missing required fields are dropped silently; node types outside
// the allowed label set fall back to ENTITY; the relation name is coerced
// to an upper-case alphanumeric+underscore token. The graph query inlines
// labels and relation types, so nothing unsanitized may pass through here.
func SanitizeRelations(raw []map[string]any) []types.Relation {
	required := []string{"subject", "subject_type", "relation", "object", "object_type"}

	var out []types.Relation
	for _, item := range raw {
		complete := true
		for _, key := range required {
			if _, ok := item[key]; !ok {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}

		subject := stringField(item, "subject")
		object := stringField(item, "object")
		if subject == "" || object == "" {
			continue
		}

		out = append(out, types.Relation{
			Subject:     subject,
			SubjectType: sanitizeLabel(stringField(item, "subject_type")),
			Relation:    sanitizeRelationName(stringField(item, "relation")),
			Object:      object,
			ObjectType:  sanitizeLabel(stringField(item, "object_type")),
		})
	}
	return out
}

func stringField(item map[string]any, key string) string {
	v, ok := item[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

func sanitizeLabel(label string) string {
	label = strings.ToUpper(strings.TrimSpace(label))
	if types.AllowedNodeLabels[label] {
		return label
	}
	return "ENTITY"
}

func sanitizeRelationName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")

	var b strings.Builder
	for _, r := range name {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	// the fallback applies after stripping: a name made only of stripped
	// characters must not produce an empty relation type in the query
	if b.Len() == 0 {
		return "RELATED_TO"
	}
	return b.String()
}
