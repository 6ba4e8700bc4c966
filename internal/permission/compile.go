package permission

// compiledConfiguration is a Configuration with every tool pattern
// precompiled; building one is the only place pattern-syntax errors can
// surface (spec §4.A "pattern compilation errors at config build time, not
// at check time").
type compiledConfiguration struct {
	allow         []compiledRule
	deny          []compiledRule
	finalDeny     []compiledRule
	overrides     []compiledRule
	defaultAction DefaultAction
	sessionMemory bool
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := compileToolPattern(r.ToolPattern)
		if err != nil {
			return nil, &CompileError{Pattern: r.ToolPattern, Err: err}
		}
		out = append(out, compiledRule{rule: r, toolRe: re})
	}
	return out, nil
}

func compileConfiguration(cfg Configuration) (compiledConfiguration, error) {
	var cc compiledConfiguration
	var err error
	if cc.allow, err = compileRules(cfg.Allow); err != nil {
		return compiledConfiguration{}, err
	}
	if cc.deny, err = compileRules(cfg.Deny); err != nil {
		return compiledConfiguration{}, err
	}
	if cc.finalDeny, err = compileRules(cfg.FinalDeny); err != nil {
		return compiledConfiguration{}, err
	}
	if cc.overrides, err = compileRules(cfg.Overrides); err != nil {
		return compiledConfiguration{}, err
	}
	cc.defaultAction = cfg.DefaultAction
	cc.sessionMemory = cfg.EnableSessionMemory
	return cc, nil
}

// Merge combines an outer (less specific) configuration with an inner (more
// specific, e.g. a nested agent scope) one. Inner rules are prepended to
// outer lists so they are matched first; inner DefaultAction replaces outer
// when set; FinalDeny rules from both scopes accumulate and are never
// dropped. Merge is associative: merge(merge(a,b),c) and merge(a,
// merge(b,c)) produce the same effective rule set.
func Merge(outer, inner Configuration) Configuration {
	merged := Configuration{
		Allow:               append(append([]Rule{}, inner.Allow...), outer.Allow...),
		Deny:                append(append([]Rule{}, inner.Deny...), outer.Deny...),
		FinalDeny:           append(append([]Rule{}, inner.FinalDeny...), outer.FinalDeny...),
		Overrides:           append(append([]Rule{}, inner.Overrides...), outer.Overrides...),
		DefaultAction:       outer.DefaultAction,
		EnableSessionMemory: outer.EnableSessionMemory || inner.EnableSessionMemory,
	}
	if inner.DefaultAction != "" {
		merged.DefaultAction = inner.DefaultAction
	}
	return merged
}
