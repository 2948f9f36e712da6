package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntities(t *testing.T) {
	text := `{"entities": [
		{"name": "Acme Robotics", "description": "Warehouse automation", "industryTags": ["robotics"], "context": "Acme raised a Series B.", "confidence": 0.9},
		{"name": "Globex", "confidence": 0.7}
	]}`

	entities, err := ParseEntities(text)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "Acme Robotics", entities[0].Name)
	assert.Equal(t, TagList{"robotics"}, entities[0].IndustryTags)
	assert.InDelta(t, 0.9, entities[0].Confidence, 0.001)
	assert.Equal(t, "Globex", entities[1].Name)
}

func TestParseEntitiesStripsCodeFences(t *testing.T) {
	text := "```json\n{\"entities\": [{\"name\": \"Acme\"}]}\n```"

	entities, err := ParseEntities(text)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Acme", entities[0].Name)
}

func TestParseEntitiesIgnoresSurroundingProse(t *testing.T) {
	text := `Here are the companies I found:
{"entities": [{"name": "Acme"}]}
Let me know if you need more detail.`

	entities, err := ParseEntities(text)
	require.NoError(t, err)
	require.Len(t, entities, 1)
}

func TestParseEntitiesDropsEmptyNames(t *testing.T) {
	text := `{"entities": [{"name": "  "}, {"name": "Acme"}, {"name": ""}]}`

	entities, err := ParseEntities(text)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Acme", entities[0].Name)
}

func TestParseEntitiesEmptyList(t *testing.T) {
	entities, err := ParseEntities(`{"entities": []}`)
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestParseEntitiesMalformed(t *testing.T) {
	_, err := ParseEntities("I could not process this email.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse response")
}

func TestTagListCoercion(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		var e Entity
		require.NoError(t, json.Unmarshal([]byte(`{"name":"A","industryTags":["saas","ai"]}`), &e))
		assert.Equal(t, TagList{"saas", "ai"}, e.IndustryTags)
	})

	t.Run("single string", func(t *testing.T) {
		var e Entity
		require.NoError(t, json.Unmarshal([]byte(`{"name":"A","industryTags":"fintech"}`), &e))
		assert.Equal(t, TagList{"fintech"}, e.IndustryTags)
	})

	t.Run("empty string", func(t *testing.T) {
		var e Entity
		require.NoError(t, json.Unmarshal([]byte(`{"name":"A","industryTags":""}`), &e))
		assert.Nil(t, e.IndustryTags)
	})

	t.Run("invalid", func(t *testing.T) {
		var e Entity
		err := json.Unmarshal([]byte(`{"name":"A","industryTags":42}`), &e)
		require.Error(t, err)
	})
}
