package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aishah914/smolpc-gimp/internal/diff"
	"github.com/aishah914/smolpc-gimp/internal/mcp"
)

const diffContext = 2

// Lister is satisfied by the worker manager.
type Lister interface {
	ListTools(ctx context.Context) (json.RawMessage, error)
}

// Change is the outcome of a Refresh.
type Change struct {
	Tools   []mcp.Tool  `json:"tools"`
	Hunks   []diff.Hunk `json:"hunks"`
	Stats   diff.Stats  `json:"stats"`
	Changed bool        `json:"changed"`
	// First is true when no earlier catalog existed to compare against.
	First bool `json:"first"`
}

// Catalog remembers the last tool list and reports how it changed.
type Catalog struct {
	lister Lister

	mu       sync.Mutex
	tools    []mcp.Tool
	rendered string
	loaded   bool
	stale    bool
}

func New(lister Lister) *Catalog {
	return &Catalog{lister: lister}
}

// Tools returns the cached list, fetching it on first use or after MarkStale.
func (c *Catalog) Tools(ctx context.Context) ([]mcp.Tool, error) {
	c.mu.Lock()
	if c.loaded && !c.stale {
		tools := append([]mcp.Tool(nil), c.tools...)
		c.mu.Unlock()
		return tools, nil
	}
	c.mu.Unlock()
	change, err := c.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return change.Tools, nil
}

// Refresh lists the tools again and diffs the rendering against the previous one.
func (c *Catalog) Refresh(ctx context.Context) (Change, error) {
	raw, err := c.lister.ListTools(ctx)
	if err != nil {
		return Change{}, err
	}
	var result mcp.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return Change{}, fmt.Errorf("decode tools/list result: %w", err)
	}
	tools := result.Tools
	if tools == nil {
		tools = []mcp.Tool{}
	}
	rendered := Render(tools)

	c.mu.Lock()
	defer c.mu.Unlock()
	change := Change{Tools: append([]mcp.Tool(nil), tools...), First: !c.loaded}
	change.Hunks = diff.TextDiff(c.rendered, rendered, diffContext)
	if change.Hunks == nil {
		change.Hunks = []diff.Hunk{}
	}
	change.Stats = diff.Count(change.Hunks)
	change.Changed = change.Stats.Added+change.Stats.Removed > 0
	c.tools = tools
	c.rendered = rendered
	c.loaded = true
	c.stale = false
	return change, nil
}

// MarkStale makes the next Tools call re-list.
func (c *Catalog) MarkStale() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

func (c *Catalog) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale || !c.loaded
}

// Render prints one line per tool, sorted by name.
func Render(tools []mcp.Tool) string {
	sorted := append([]mcp.Tool(nil), tools...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	var b strings.Builder
	for _, tool := range sorted {
		desc := strings.Join(strings.Fields(tool.Description), " ")
		if desc == "" {
			fmt.Fprintf(&b, "%s\n", tool.Name)
			continue
		}
		fmt.Fprintf(&b, "%s - %s\n", tool.Name, desc)
	}
	return b.String()
}
