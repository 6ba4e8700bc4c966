// Package hookchain executes ordered pre/post/error hooks around tool
// calls, aggregates their decisions, and enforces concurrent execution of
// same-priority hooks. It is the core's Hook Chain (component B).
package hookchain

import "context"

// EventType identifies the lifecycle point a hook is registered against.
type EventType string

const (
	EventPreToolUse       EventType = "pre_tool_use"
	EventPostToolUse      EventType = "post_tool_use"
	EventSessionStart     EventType = "session_start"
	EventUserPromptSubmit EventType = "user_prompt_submit"
	EventToolError        EventType = "tool_error"
)

// ResultKind enumerates the HookResult variants from spec §3.
type ResultKind int

const (
	ResultContinue ResultKind = iota
	ResultAllow
	ResultAllowWithModifiedInput
	ResultAddContext
	ResultBlock
	ResultDeny
	ResultAsk
	ResultStop
	ResultReplaceOutput
	ResultSuppressOutput
	ResultContinueWithModifiedPrompt
)

// Result is one handler's verdict for a single hook invocation. Only the
// field(s) relevant to Kind are populated.
type Result struct {
	Kind          ResultKind
	ModifiedInput string // allow_with_modified_input, continue_with_modified_prompt
	Context       string // add_context
	Reason        string // block, deny, stop
	Output        string // stop's optional output, replace_output
}

// AllowsExecution reports whether this result, taken alone, would let the
// tool call proceed.
func (r Result) AllowsExecution() bool {
	switch r.Kind {
	case ResultBlock, ResultDeny, ResultStop, ResultAsk:
		return false
	default:
		return true
	}
}

// ModifiesData reports whether this result carries a data modification.
func (r Result) ModifiesData() bool {
	switch r.Kind {
	case ResultAllowWithModifiedInput, ResultContinueWithModifiedPrompt, ResultReplaceOutput, ResultAddContext:
		return true
	default:
		return false
	}
}

// StopsAgent reports whether this result should end the turn.
func (r Result) StopsAgent() bool {
	return r.Kind == ResultStop
}

// Continue is the zero-value, minimal-handler default result.
func Continue() Result { return Result{Kind: ResultContinue} }

// AggregateDecision is the dominant outcome of one priority tier, per the
// fixed precedence stop > block/deny > ask > allow_with_modified_input >
// allow > continue.
type AggregateDecision int

const (
	DecisionContinue AggregateDecision = iota
	DecisionAllow
	DecisionAllowModified
	DecisionAsk
	DecisionBlock
	DecisionStop
)

// AggregatedResult is the combined verdict of every handler in a tier.
type AggregatedResult struct {
	Decision       AggregateDecision
	ModifiedInput  string
	ContextMessages []string
	Reasons        []string
	SuppressOutput bool
	StopOutput     string
}

// Priority orders hook tiers; a higher value runs strictly before a lower
// one, and all handlers sharing a value form one concurrently-executed
// tier.
type Priority int

const (
	PriorityLowest  Priority = 0
	PriorityLow     Priority = 25
	PriorityNormal  Priority = 50
	PriorityHigh    Priority = 75
	PriorityHighest Priority = 100
)

// Matcher filters which tool invocations a hook applies to. ToolPattern is
// compared with the tool name for exact equality; an empty pattern or "*"
// matches every tool, and the permission rules' wildcard and alternation
// syntax is not recognized. ArgumentPattern is stored with the registration
// but the chain does not evaluate it.
type Matcher struct {
	ToolPattern     string
	ArgumentPattern string
}

// Context is passed to a Handler. ToolInput reflects any modification made
// by a higher-priority tier in the same dispatch.
type Context struct {
	SessionID string
	ToolName  string
	ToolInput string
	Extra     map[string]any
}

// Handler processes one hook event and returns its verdict.
type Handler func(ctx context.Context, hctx Context) (Result, error)

// Registration records one registered handler.
type Registration struct {
	ID       string
	Event    EventType
	Handler  Handler
	Priority Priority
	Matcher  *Matcher
	Name     string
	Source   string
}
