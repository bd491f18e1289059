// Package model defines shared data structures for the toolwatch pipeline.
package model

// Tool identifies which sales engagement platform a posting mentions.
type Tool string

const (
	ToolOutreach  Tool = "outreach"
	ToolSalesLoft Tool = "salesloft"
	ToolBoth      Tool = "both"

	// ToolNone is a classification outcome only; it is never persisted to
	// the company registry.
	ToolNone Tool = "none"
)

// AllTools lists the tool values that may be persisted.
func AllTools() []Tool {
	return []Tool{ToolOutreach, ToolSalesLoft, ToolBoth}
}

// Valid reports whether t is a persistable tool value.
func (t Tool) Valid() bool {
	switch t {
	case ToolOutreach, ToolSalesLoft, ToolBoth:
		return true
	}
	return false
}

// SignalType describes how a tool mention appeared in a posting.
type SignalType string

const (
	SignalExplicitMention SignalType = "explicit_mention"
	SignalRequiredSkill   SignalType = "required_skill"
	SignalPreferredSkill  SignalType = "preferred_skill"
	SignalToolMigration   SignalType = "tool_migration"
)
