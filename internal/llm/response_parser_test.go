package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelJSON(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
		check   func(t *testing.T, v any)
	}{
		{
			name: "tagged object",
			text: "<thinking>рассуждение</thinking><json_output>{\"summary\": \"кратко\", \"keywords\": [\"a\"]}</json_output>",
			check: func(t *testing.T, v any) {
				m := v.(map[string]any)
				assert.Equal(t, "кратко", m["summary"])
			},
		},
		{
			name: "tagged array",
			text: "<json_output>[{\"subject\": \"a\"}]</json_output>",
			check: func(t *testing.T, v any) {
				arr := v.([]any)
				require.Len(t, arr, 1)
			},
		},
		{
			name: "tagged with surrounding whitespace",
			text: "<json_output>\n  {\"k\": 1}\n</json_output>",
			check: func(t *testing.T, v any) {
				m := v.(map[string]any)
				assert.Equal(t, float64(1), m["k"])
			},
		},
		{
			name:    "invalid json inside tags",
			text:    "<json_output>{broken</json_output>",
			wantErr: true,
		},
		{
			name: "fallback object without tags",
			text: "Вот результат: {\"keywords\": [\"тест\"]} — готово.",
			check: func(t *testing.T, v any) {
				m := v.(map[string]any)
				assert.NotNil(t, m["keywords"])
			},
		},
		{
			name: "fallback array without tags",
			text: "ответ [1, 2, 3] конец",
			check: func(t *testing.T, v any) {
				arr := v.([]any)
				assert.Len(t, arr, 3)
			},
		},
		{
			name:    "no json at all",
			text:    "модель отказалась отвечать",
			wantErr: true,
		},
		{
			name:    "empty string",
			text:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ParseModelJSON(tt.text)
			if tt.wantErr {
				assert.True(t, IsErrorResult(v), "expected error result, got %#v", v)
				return
			}
			assert.False(t, IsErrorResult(v), "unexpected error result: %#v", v)
			tt.check(t, v)
		})
	}
}

func TestIsErrorResult(t *testing.T) {
	assert.True(t, IsErrorResult(map[string]any{"error": "x"}))
	assert.False(t, IsErrorResult(map[string]any{"summary": "x"}))
	assert.False(t, IsErrorResult([]any{1}))
	assert.False(t, IsErrorResult(nil))
	assert.False(t, IsErrorResult("error"))
}

func TestPromptsEmbedTextBlock(t *testing.T) {
	system, user := MetadataPrompt("ФРАГМЕНТ-МАРКЕР")
	assert.Contains(t, system, "JSON")
	assert.Contains(t, user, "ФРАГМЕНТ-МАРКЕР")
	assert.Contains(t, user, "<json_output>")

	system, user = RelationsPrompt("ТЕКСТ-МАРКЕР")
	assert.Contains(t, system, "JSON")
	assert.Contains(t, user, "ТЕКСТ-МАРКЕР")
	assert.Contains(t, user, "subject_type")
}
