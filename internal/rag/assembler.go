package rag

import (
	"fmt"
	"strings"

	"github.com/nikhilbhutani/ragconverse/internal/llm"
	"github.com/nikhilbhutani/ragconverse/internal/models"
	"github.com/nikhilbhutani/ragconverse/internal/prompt"
)

const (
	DefaultSystemPrompt = `You are the assistant of a personal technical blog. Answer the reader's question using the reference material from the blog's articles and the previous conversation.
Rules:
- Base the answer on the reference material. If it does not cover the question, say so plainly and answer from general knowledge only when that is clearly marked.
- When you use an article, mention its title and link.
- Keep answers concise and well structured. Use markdown for code.`

	DefaultUserTemplate = `Previous conversation:
{{history}}

Reference material:
{{context}}

Current question: {{query}}`

	noHistory = "(no previous conversation)"
	noContext = "(no reference material found)"
)

// PromptInput is the assembled generation input.
type PromptInput struct {
	System string
	User   string
}

func (p PromptInput) Messages() []llm.Message {
	return []llm.Message{
		{Role: "system", Content: p.System},
		{Role: "user", Content: p.User},
	}
}

type Assembler struct {
	system       string
	userTemplate *prompt.Template
}

// NewAssembler falls back to the default prompts for empty arguments. The
// user template may reference {{history}}, {{context}} and {{query}}.
func NewAssembler(system, userTemplate string) *Assembler {
	if system == "" {
		system = DefaultSystemPrompt
	}
	if userTemplate == "" {
		userTemplate = DefaultUserTemplate
	}
	return &Assembler{system: system, userTemplate: prompt.Parse(userTemplate)}
}

// Assemble renders the prompt. It never fails on empty history or chunks.
func (a *Assembler) Assemble(query string, history []models.Message, chunks []RetrievedChunk) (PromptInput, error) {
	user, err := a.userTemplate.Render(map[string]string{
		"history": FormatHistory(history),
		"context": FormatContext(chunks),
		"query":   query,
	})
	if err != nil {
		return PromptInput{}, fmt.Errorf("render prompt: %w", err)
	}
	return PromptInput{System: a.system, User: user}, nil
}

// FormatHistory renders one "role: content" line per message, in order.
func FormatHistory(history []models.Message) string {
	if len(history) == 0 {
		return noHistory
	}
	lines := make([]string, len(history))
	for i, m := range history {
		lines[i] = string(m.Role) + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}

// FormatContext renders one block per chunk, in retrieval order.
func FormatContext(chunks []RetrievedChunk) string {
	if len(chunks) == 0 {
		return noContext
	}
	blocks := make([]string, len(chunks))
	for i, c := range chunks {
		blocks[i] = fmt.Sprintf("Source: %s\nSimilarity: %.3f\nContent: %s\nLink: %s",
			c.SourceTitle, c.Score, c.Text, SourceLink(c.SourceID))
	}
	return strings.Join(blocks, "\n\n")
}

func SourceLink(sourceID string) string {
	return "/posts/" + sourceID
}
