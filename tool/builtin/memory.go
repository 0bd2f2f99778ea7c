package builtin

import (
	"fmt"
	"strings"
	"time"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/memory"
	"github.com/alexbeletsky/transcribe-talk/tool"
)

const recentMemories = 5

// NewSaveMemory returns the save_memory tool.
func NewSaveMemory(store memory.Store) tool.Tool {
	def := tool.Definition{
		Name:        "save_memory",
		Description: "Save important information to long-term memory (CONTEXT.md)",
		Parameters: []tool.Parameter{
			{Name: "content", Type: tool.String, Description: "The information to save to memory", Required: true},
			{Name: "category", Type: tool.String, Description: "Category for the memory (e.g., 'user_preference', 'learned_fact', 'context')", Default: memory.DefaultCategory},
			{Name: "tags", Type: tool.String, Description: "Comma-separated tags for easier retrieval"},
			{Name: "mode", Type: tool.String, Description: "How to add the memory", Enum: []string{"append", "replace"}, Default: "append"},
		},
		Timeout:     10 * time.Second,
		Destructive: true,
		Category:    CategoryMemory,
	}

	return tool.NewFunctionTool(def, func(tc *core.ToolContext, args map[string]any) (any, error) {
		e := memory.Entry{
			Content:  stringArg(args, "content", ""),
			Category: stringArg(args, "category", memory.DefaultCategory),
			Tags:     memory.ParseTags(stringArg(args, "tags", "")),
		}

		save, action := store.Append, "Added to"
		if stringArg(args, "mode", "append") == "replace" {
			save, action = store.Replace, "Replaced"
		}
		if err := save(tc.Context(), e); err != nil {
			return nil, err
		}

		all, err := store.Entries(tc.Context(), memory.Query{})
		if err != nil {
			return nil, err
		}

		tags := "none"
		if len(e.Tags) > 0 {
			tags = strings.Join(e.Tags, ", ")
		}
		return fmt.Sprintf("%s long-term memory\nCategory: %s\nTags: %s\nTotal memories: %d", action, e.Category, tags, len(all)), nil
	})
}

// NewReadMemory returns the read_memory tool.
func NewReadMemory(store memory.Store) tool.Tool {
	def := tool.Definition{
		Name:        "read_memory",
		Description: "Read the current long-term memory from CONTEXT.md",
		Parameters: []tool.Parameter{
			{Name: "category_filter", Type: tool.String, Description: "Optional category to filter memories"},
			{Name: "recent_only", Type: tool.Boolean, Description: "If true, only show the 5 most recent memories", Default: false},
		},
		Timeout:  10 * time.Second,
		Category: CategoryMemory,
	}

	return tool.NewFunctionTool(def, func(tc *core.ToolContext, args map[string]any) (any, error) {
		category := stringArg(args, "category_filter", "")
		recent := boolArg(args, "recent_only", false)

		if category == "" && !recent {
			doc, err := store.ReadAll(tc.Context())
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(doc) == "" {
				return "No long-term memory found. Use 'save_memory' to create one.", nil
			}
			return doc, nil
		}

		q := memory.Query{Category: category}
		var filters []string
		if category != "" {
			filters = append(filters, fmt.Sprintf("category='%s'", category))
		}
		if recent {
			q.Recent = recentMemories
			filters = append(filters, "recent only")
		}

		entries, err := store.Entries(tc.Context(), q)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return "No memories found matching the filter.", nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "# Long-term Memory (%s)\n", strings.Join(filters, ", "))
		for _, e := range entries {
			sb.WriteString(memory.Render(e))
		}
		return sb.String(), nil
	})
}
