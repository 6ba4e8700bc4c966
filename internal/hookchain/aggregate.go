package hookchain

// rank orders each ResultKind by aggregation precedence: stop > block/deny
// > ask > allow_with_modified_input > allow > continue.
// continue_with_modified_prompt ranks with allow_with_modified_input.
// add_context, replace_output, and suppress_output ride along with whatever
// decision they accompany and never win precedence on their own.
func rank(k ResultKind) int {
	switch k {
	case ResultStop:
		return 5
	case ResultBlock, ResultDeny:
		return 4
	case ResultAsk:
		return 3
	case ResultAllowWithModifiedInput, ResultContinueWithModifiedPrompt:
		return 2
	case ResultAllow:
		return 1
	default:
		return 0
	}
}

func decisionFor(k ResultKind) AggregateDecision {
	switch k {
	case ResultStop:
		return DecisionStop
	case ResultBlock, ResultDeny:
		return DecisionBlock
	case ResultAsk:
		return DecisionAsk
	case ResultAllowWithModifiedInput, ResultContinueWithModifiedPrompt:
		return DecisionAllowModified
	case ResultAllow:
		return DecisionAllow
	default:
		return DecisionContinue
	}
}

// Aggregate combines every handler's Result within one priority tier into a
// single AggregatedResult, honoring the fixed precedence order. If every
// result is Continue, the aggregate is Continue (monotonicity); adding any
// Block result raises the aggregate to at least Block; adding a Stop result
// always dominates.
func Aggregate(results []Result) AggregatedResult {
	agg := AggregatedResult{Decision: DecisionContinue}
	best := -1
	for _, r := range results {
		if r.Context != "" {
			agg.ContextMessages = append(agg.ContextMessages, r.Context)
		}
		if r.Kind == ResultSuppressOutput {
			agg.SuppressOutput = true
		}
		switch r.Kind {
		case ResultBlock, ResultDeny, ResultStop:
			if r.Reason != "" {
				agg.Reasons = append(agg.Reasons, r.Reason)
			}
		}
		// ResultStop and ResultReplaceOutput share agg.StopOutput: whichever
		// of the two appears later in results for this tier wins, silently
		// overwriting an earlier one. A tier is expected to emit at most one
		// output-bearing result per handler, so this only matters across
		// distinct handlers within the same tier.
		if r.Kind == ResultStop && r.Output != "" {
			agg.StopOutput = r.Output
		}
		if r.Kind == ResultReplaceOutput {
			agg.StopOutput = r.Output
		}

		if rk := rank(r.Kind); rk > best {
			best = rk
			agg.Decision = decisionFor(r.Kind)
		}
		if r.ModifiedInput != "" {
			// Last modification wins, independent of which result's
			// decision ultimately dominates the tier.
			agg.ModifiedInput = r.ModifiedInput
		}
	}
	return agg
}
