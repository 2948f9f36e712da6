package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/newsletter-worker/internal/model"
)

func TestSelectContentPrefersPlainText(t *testing.T) {
	e := &model.Email{
		Content:    "Acme raised a round.",
		RawContent: "<p>Something else entirely</p>",
	}
	assert.Equal(t, "Acme raised a round.", selectContent(e))
}

func TestSelectContentFallsBackToStrippedHTML(t *testing.T) {
	e := &model.Email{
		RawContent: `<html><head><style>p{color:red}</style></head>
			<body><p>Acme   raised a <b>Series B</b>.</p><script>track()</script></body></html>`,
	}
	assert.Equal(t, "Acme raised a Series B.", selectContent(e))
}

func TestSelectContentWhitespaceOnlyPlainText(t *testing.T) {
	e := &model.Email{
		Content:    "   \n\t ",
		RawContent: "<p>Real body here</p>",
	}
	assert.Equal(t, "Real body here", selectContent(e))
}

func TestSelectContentEmpty(t *testing.T) {
	assert.Equal(t, "", selectContent(&model.Email{}))
}

func TestStripHTMLPlainInput(t *testing.T) {
	// Non-HTML input passes through with whitespace normalized.
	assert.Equal(t, "just plain text", stripHTML("just   plain\ntext"))
}
