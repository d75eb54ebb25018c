package textextract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter holds the YAML header fields used for citations.
type Frontmatter struct {
	Title   string   `yaml:"title"`
	Summary string   `yaml:"summary"`
	Date    string   `yaml:"date"`
	Tags    []string `yaml:"tags"`
}

var (
	fenceRe       = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe  = regexp.MustCompile("`([^`]+)`")
	imageRe       = regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`)
	linkRe        = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	headingRe     = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	blockquoteRe  = regexp.MustCompile(`(?m)^>\s?`)
	hrRe          = regexp.MustCompile(`(?m)^[-*_]{3,}\s*$`)
	listRe        = regexp.MustCompile(`(?m)^(\s*)[-*+]\s+`)
	emphasisRe    = regexp.MustCompile(`(\*\*|__|\*|_)([^*_\n]+)(\*\*|__|\*|_)`)
	jsxRe         = regexp.MustCompile(`(?m)^\s*(import|export)\s.*$|</?[A-Z][A-Za-z0-9]*[^>]*>`)
	htmlCommentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	blankRunsRe   = regexp.MustCompile(`\n{3,}`)
)

// ExtractMarkdown strips frontmatter and markdown/MDX syntax. Frontmatter
// title and summary are returned in Metadata.
func ExtractMarkdown(raw []byte) (*ExtractedText, error) {
	fm, body, err := SplitFrontmatter(raw)
	if err != nil {
		return nil, err
	}

	meta := map[string]string{"type": "markdown"}
	if fm.Title != "" {
		meta["title"] = fm.Title
	}
	if fm.Summary != "" {
		meta["summary"] = fm.Summary
	}
	if fm.Date != "" {
		meta["date"] = fm.Date
	}
	if fm.Title == "" {
		if h := firstHeading(body); h != "" {
			meta["title"] = h
		}
	}

	return &ExtractedText{
		Content:  StripMarkdown(body),
		Pages:    1,
		Metadata: meta,
	}, nil
}

// SplitFrontmatter separates a leading "---" YAML block from the body.
func SplitFrontmatter(raw []byte) (Frontmatter, string, error) {
	var fm Frontmatter
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return fm, text, nil
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return fm, text, nil
	}
	header := rest[:end]
	body := strings.TrimPrefix(rest[end+len("\n---"):], "\n")

	if err := yaml.NewDecoder(bytes.NewReader([]byte(header))).Decode(&fm); err != nil && strings.TrimSpace(header) != "" {
		return fm, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	return fm, body, nil
}

// StripMarkdown reduces markdown to readable plain text. Fenced code keeps
// its content, since code often answers questions about a post.
func StripMarkdown(content string) string {
	content = fenceRe.ReplaceAllStringFunc(content, func(block string) string {
		block = strings.TrimPrefix(block, "```")
		block = strings.TrimSuffix(block, "```")
		if i := strings.IndexByte(block, '\n'); i >= 0 {
			block = block[i+1:]
		}
		return strings.TrimRight(block, "\n")
	})
	content = htmlCommentRe.ReplaceAllString(content, "")
	content = jsxRe.ReplaceAllString(content, "")
	content = imageRe.ReplaceAllString(content, "")
	content = linkRe.ReplaceAllString(content, "$1")
	content = inlineCodeRe.ReplaceAllString(content, "$1")
	content = headingRe.ReplaceAllString(content, "")
	content = blockquoteRe.ReplaceAllString(content, "")
	content = hrRe.ReplaceAllString(content, "")
	content = listRe.ReplaceAllString(content, "$1")
	content = emphasisRe.ReplaceAllString(content, "$2")
	content = blankRunsRe.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}
