package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_Render(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render("# Reset\n\nClick **Forgot Password**.\n\n- one\n- two")
	require.NoError(t, err)
	assert.Contains(t, out, `<h1 id="reset">Reset</h1>`)
	assert.Contains(t, out, "<strong>Forgot Password</strong>")
	assert.Contains(t, out, "<li>one</li>")
}

func TestRenderer_StripsScripts(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render("hello <script>alert(1)</script> [x](javascript:alert(1))")
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
	assert.NotContains(t, out, "javascript:")
	assert.Contains(t, out, "hello")
}
