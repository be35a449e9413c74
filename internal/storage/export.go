package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/michaelbrown/toolgraph/internal/llm"
)

// ExportMarkdown renders a thread and its messages as a markdown document.
func ExportMarkdown(t *Thread, messages []llm.Message) string {
	var b strings.Builder

	title := t.Title
	if title == "" {
		title = "Untitled thread"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- **Thread:** %s\n", t.ID)
	fmt.Fprintf(&b, "- **Agent:** %s\n", t.AgentID)
	if t.Model != "" {
		fmt.Fprintf(&b, "- **Model:** %s\n", t.Model)
	}
	fmt.Fprintf(&b, "- **Created:** %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- **Status:** %s\n", t.Status)
	b.WriteString("\n---\n\n")

	for _, m := range messages {
		switch m.Role {
		case llm.RoleUser:
			fmt.Fprintf(&b, "## You\n\n%s\n\n", m.Content)
		case llm.RoleAssistant:
			if m.Content != "" {
				fmt.Fprintf(&b, "## Assistant\n\n%s\n\n", m.Content)
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				fmt.Fprintf(&b, "**Tool call:** `%s`\n```json\n%s\n```\n\n", tc.Name, args)
			}
		case llm.RoleTool:
			fmt.Fprintf(&b, "<details>\n<summary>Tool result</summary>\n\n```\n%s\n```\n</details>\n\n", m.Content)
		case llm.RoleSystem:
			// Compaction summaries only.
			fmt.Fprintf(&b, "> %s\n\n", strings.ReplaceAll(m.Content, "\n", "\n> "))
		}
	}

	return b.String()
}

// ExportJSON renders a thread and its messages as indented JSON.
func ExportJSON(t *Thread, messages []llm.Message) ([]byte, error) {
	if messages == nil {
		messages = []llm.Message{}
	}
	return json.MarshalIndent(struct {
		Thread   *Thread       `json:"thread"`
		Messages []llm.Message `json:"messages"`
	}{t, messages}, "", "  ")
}
