package permission

import "sync"

// Engine evaluates tool invocations against a compiled Configuration, a
// tool-ceiling registry, an operating Mode, and an optional Delegate,
// following the nine-step evaluation order fixed by the specification.
type Engine struct {
	mu       sync.RWMutex
	compiled compiledConfiguration
	ceilings map[string]ToolLevel
	mode     Mode
	delegate Delegate
	memory   *sessionMemory
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithMode sets the engine's operating mode (step 7).
func WithMode(m Mode) Option {
	return func(e *Engine) { e.mode = m }
}

// WithDelegate installs a delegate consulted at step 8.
func WithDelegate(d Delegate) Option {
	return func(e *Engine) { e.delegate = d }
}

// WithToolCeiling registers a tool's permission ceiling (step 6).
// Unregistered tools default to LevelStandard.
func WithToolCeiling(tool string, level ToolLevel) Option {
	return func(e *Engine) { e.ceilings[tool] = level }
}

// NewEngine compiles cfg and returns a ready Engine. Pattern compilation
// errors surface here, never from Check.
func NewEngine(cfg Configuration, opts ...Option) (*Engine, error) {
	compiled, err := compileConfiguration(cfg)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		compiled: compiled,
		ceilings: make(map[string]ToolLevel),
		memory:   newSessionMemory(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ceilingFor returns the configured ceiling for tool, defaulting to
// LevelStandard when unregistered.
func (e *Engine) ceilingFor(tool string) ToolLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if lvl, ok := e.ceilings[tool]; ok {
		return lvl
	}
	return LevelStandard
}

// ResetSessionMemory clears all stamped always-allow/always-block
// verdicts. Idempotent.
func (e *Engine) ResetSessionMemory() {
	e.memory.reset()
}

// RememberAlways stamps a (tool, arguments) pair in session memory so
// future Check calls for the identical pair short-circuit at step 2.
func (e *Engine) RememberAlways(tool string, argumentsJSON []byte, allow bool) {
	if allow {
		e.memory.remember(tool, argumentsJSON, memoryAllow)
	} else {
		e.memory.remember(tool, argumentsJSON, memoryBlock)
	}
}

func firstMatch(rules []compiledRule, tool string, fields map[string]string, fieldsOK bool, raw []byte) (compiledRule, bool) {
	for _, cr := range rules {
		if !cr.toolRe.MatchString(tool) {
			continue
		}
		if matchArgumentPattern(cr.rule.ArgumentPattern, fields, fieldsOK, raw) {
			return cr, true
		}
	}
	return compiledRule{}, false
}

// Check evaluates one (tool_name, arguments_json) invocation against the
// compiled configuration, session memory, tool ceiling, mode, and delegate
// in the fixed nine-step order. level is the tool's declared permission
// level, consulted at step 6.
//
// A matching final_deny rule raises a *DeniedAndInterruptError instead of
// returning a Denied Decision, per spec §4.A.
func (e *Engine) Check(tool string, level ToolLevel, argumentsJSON []byte) (Decision, error) {
	fields, fieldsOK := decodeArguments(argumentsJSON)

	// Step 1: final_deny is absolute and raises immediately.
	if rule, ok := firstMatch(e.compiled.finalDeny, tool, fields, fieldsOK, argumentsJSON); ok {
		reason := rule.rule.ArgumentPattern
		if reason == "" {
			reason = "final_deny rule matched"
		}
		return Decision{}, &DeniedAndInterruptError{Tool: tool, Reason: reason}
	}

	// Step 2: session memory short-circuits if stamped.
	if e.compiled.sessionMemory {
		if verdict, ok := e.memory.lookup(tool, argumentsJSON); ok {
			if verdict == memoryAllow {
				return allowedDecision(), nil
			}
			return deniedDecision("session memory: previously denied"), nil
		}
	}

	// Step 3: override bypasses deny (but not final_deny, already checked).
	if _, ok := firstMatch(e.compiled.overrides, tool, fields, fieldsOK, argumentsJSON); ok {
		return allowedDecision(), nil
	}

	// Step 4: deny.
	if _, ok := firstMatch(e.compiled.deny, tool, fields, fieldsOK, argumentsJSON); ok {
		return deniedDecision("deny rule matched"), nil
	}

	// Step 5: allow.
	if _, ok := firstMatch(e.compiled.allow, tool, fields, fieldsOK, argumentsJSON); ok {
		return allowedDecision(), nil
	}

	// Step 6: tool-level permission ceiling.
	if level > e.ceilingFor(tool) {
		return deniedDecision("tool level exceeds configured ceiling"), nil
	}

	// Step 7: mode.
	switch e.mode {
	case ModeBypassPermissions:
		return allowedDecision(), nil
	case ModePlan:
		if level == LevelReadOnly {
			return allowedDecision(), nil
		}
		return deniedDecision("plan mode permits read-only tools only"), nil
	case ModeAcceptEdits:
		if isFileMutating(tool) {
			return allowedDecision(), nil
		}
		// falls through to delegate/default
	}

	// Step 8: delegate.
	if e.delegate != nil {
		return e.delegate.Check(tool, argumentsJSON)
	}

	// Step 9: default action.
	switch e.compiled.defaultAction {
	case DefaultAllow:
		return allowedDecision(), nil
	case DefaultDeny:
		return deniedDecision("default_action is deny"), nil
	default:
		return askDecision(), nil
	}
}

// isFileMutating names the tools accept_edits mode treats as file mutating.
// The concrete tool catalog is out of scope (spec §1); this recognizes the
// conventional names a file-editing tool set uses.
func isFileMutating(tool string) bool {
	switch tool {
	case "write", "edit", "apply_patch":
		return true
	default:
		return false
	}
}
