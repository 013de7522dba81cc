package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeRelations(t *testing.T) {
	raw := []map[string]any{
		{
			"subject": "Иванов И.И.", "subject_type": "person",
			"relation": "works at",
			"object":   "ООО Ромашка", "object_type": "organization",
		},
		{
			"subject": "Проект X", "subject_type": "spaceship",
			"relation": "started-on!",
			"object":   "2024", "object_type": "DATE",
		},
	}

	out := SanitizeRelations(raw)
	require.Len(t, out, 2)

	assert.Equal(t, "PERSON", out[0].SubjectType)
	assert.Equal(t, "ORGANIZATION", out[0].ObjectType)
	assert.Equal(t, "WORKS_AT", out[0].Relation)
	assert.Equal(t, "Иванов И.И.", out[0].Subject)

	// Unknown node type falls back to ENTITY; punctuation is stripped from
	// the relation name.
	assert.Equal(t, "ENTITY", out[1].SubjectType)
	assert.Equal(t, "DATE", out[1].ObjectType)
	assert.Equal(t, "STARTEDON", out[1].Relation)
}

func TestSanitizeRelationsDropsMalformed(t *testing.T) {
	raw := []map[string]any{
		// Missing keys.
		{"subject": "a", "relation": "R", "object": "x"},
		{"relation": "R", "object": "x", "subject_type": "PERSON", "object_type": "PERSON"},
		// Present but empty or non-string endpoints.
		{"subject": "", "subject_type": "PERSON", "relation": "R", "object": "x", "object_type": "PERSON"},
		{"subject": 42, "subject_type": "PERSON", "relation": "R", "object": "x", "object_type": "PERSON"},
		// Valid.
		{"subject": "ok", "subject_type": "CONCEPT", "relation": "HAS", "object": "value", "object_type": "CONCEPT"},
	}

	out := SanitizeRelations(raw)
	require.Len(t, out, 1)
	assert.Equal(t, "ok", out[0].Subject)
	assert.Equal(t, "HAS", out[0].Relation)
}

func TestSanitizeRelationsDefaultsRelationName(t *testing.T) {
	out := SanitizeRelations([]map[string]any{
		{"subject": "a", "subject_type": "x", "relation": "", "object": "b", "object_type": "y"},
		// A name made only of stripped characters must also fall back: the
		// relation type is inlined into the query and may never be empty.
		{"subject": "a", "subject_type": "x", "relation": "***", "object": "b", "object_type": "y"},
		{"subject": "a", "subject_type": "x", "relation": "--!?--", "object": "b", "object_type": "y"},
	})
	require.Len(t, out, 3)
	for _, rel := range out {
		assert.Equal(t, "RELATED_TO", rel.Relation)
	}
	assert.Equal(t, "ENTITY", out[0].SubjectType)
	assert.Equal(t, "ENTITY", out[0].ObjectType)
}

func TestSanitizeRelationsEmpty(t *testing.T) {
	assert.Empty(t, SanitizeRelations(nil))
	assert.Empty(t, SanitizeRelations([]map[string]any{}))
}
