package textextract

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMarkdownFrontmatter(t *testing.T) {
	src := "---\ntitle: Building a Blog\nsummary: How it works\ntags: [go, rag]\n---\n# Heading\n\nSome **bold** text and a [link](https://example.com).\n"

	got, err := Extract(bytes.NewReader([]byte(src)), int64(len(src)), ".md")
	require.NoError(t, err)
	assert.Equal(t, "Building a Blog", got.Metadata["title"])
	assert.Equal(t, "How it works", got.Metadata["summary"])
	assert.Equal(t, "Heading\n\nSome bold text and a link.", got.Content)
}

func TestExtractMarkdownHeadingTitle(t *testing.T) {
	got, err := ExtractMarkdown([]byte("# First Post\n\nbody"))
	require.NoError(t, err)
	assert.Equal(t, "First Post", got.Metadata["title"])
}

func TestSplitFrontmatterAbsent(t *testing.T) {
	fm, body, err := SplitFrontmatter([]byte("plain body"))
	require.NoError(t, err)
	assert.Empty(t, fm.Title)
	assert.Equal(t, "plain body", body)
}

func TestSplitFrontmatterInvalid(t *testing.T) {
	_, _, err := SplitFrontmatter([]byte("---\ntitle: [unclosed\n---\nbody"))
	assert.Error(t, err)
}

func TestStripMarkdown(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"code fence keeps code", "```go\nfmt.Println(1)\n```", "fmt.Println(1)"},
		{"image removed", "see ![alt](a.png) here", "see  here"},
		{"list markers", "- one\n- two", "one\ntwo"},
		{"blockquote", "> quoted", "quoted"},
		{"mdx import", "import X from './x'\n\nText <Callout>hi</Callout>", "Text hi"},
		{"inline code", "use `go test`", "use go test"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StripMarkdown(tc.in))
		})
	}
}

func TestExtractTXT(t *testing.T) {
	got, err := Extract(bytes.NewReader([]byte("  hello \n")), 9, "txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
}

func TestExtractUnsupported(t *testing.T) {
	_, err := Extract(bytes.NewReader(nil), 0, ".exe")
	assert.Error(t, err)
	assert.True(t, Supported("post.MDX"))
	assert.False(t, Supported("image.png"))
}
