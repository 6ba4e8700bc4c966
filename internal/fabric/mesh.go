package fabric

import "sort"

// MeshStatus carries the dynamic, fast-changing attributes mesh scoring
// needs but Member itself does not track: battery level, charging state,
// busy flag, and measured latency. Callers pair each Member with its
// MeshStatus (by member id) at scoring time.
type MeshStatus struct {
	Battery   float64 // 0.0-1.0
	Charging  bool
	Busy      bool
	LatencyMs float64
}

// MeshRequirements filters the candidate pool before scoring.
type MeshRequirements struct {
	RequiredCapabilities []string
	MinBattery           float64
	RequireCharging      bool
	AllowBusy            bool
	MaxLatencyMs         float64
}

// MeshWeights parameterizes the scoring formula.
type MeshWeights struct {
	Capability float64
	Battery    float64
	Charging   float64
	Busy       float64
	Latency    float64
}

// MeshScoreResult pairs a member with its computed score.
type MeshScoreResult struct {
	Member Member
	Score  float64
}

// ScoreMembers filters members against requirements, scores the survivors
// per spec §4.F's formula, and returns them sorted by descending score.
// A member with no entry in status is treated as battery=0, not charging,
// not busy, latency=0 (the most conservative reading absent telemetry).
func ScoreMembers(members []Member, status map[string]MeshStatus, requirements MeshRequirements, weights MeshWeights) []MeshScoreResult {
	var results []MeshScoreResult
	for _, m := range members {
		st := status[m.ID]
		if !meshEligible(m, st, requirements) {
			continue
		}
		results = append(results, MeshScoreResult{Member: m, Score: meshScore(st, weights)})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

// SelectBest scores members and returns the top n, each paired with its
// local Handle if one is registered (supplemented feature: spec §9's
// SelectBest convenience). A winner with no local handle still appears,
// with a nil Handle, so callers can route to it through Community.Send.
func SelectBest(registry *Registry, members []Member, status map[string]MeshStatus, requirements MeshRequirements, weights MeshWeights, n int) []SelectedMember {
	scored := ScoreMembers(members, status, requirements, weights)
	if n > 0 && n < len(scored) {
		scored = scored[:n]
	}
	out := make([]SelectedMember, 0, len(scored))
	for _, s := range scored {
		handle, _ := registry.ResolveMember(s.Member.ID)
		out = append(out, SelectedMember{MeshScoreResult: s, Handle: handle})
	}
	return out
}

// SelectedMember is one SelectBest result, with its local handle resolved
// when the winner happens to be a locally registered actor.
type SelectedMember struct {
	MeshScoreResult
	Handle Handle
}

func meshEligible(m Member, st MeshStatus, req MeshRequirements) bool {
	if !m.Available {
		return false
	}
	for _, cap := range req.RequiredCapabilities {
		if !m.ProvidesCapability(cap) {
			return false
		}
	}
	if st.Battery < req.MinBattery {
		return false
	}
	if req.RequireCharging && !st.Charging {
		return false
	}
	if st.Busy && !req.AllowBusy {
		return false
	}
	if req.MaxLatencyMs > 0 && st.LatencyMs > req.MaxLatencyMs {
		return false
	}
	return true
}

func meshScore(st MeshStatus, w MeshWeights) float64 {
	var score float64
	// Eligibility already guarantees every required capability matches,
	// so a scored candidate always earns the capability weight.
	score += w.Capability
	if st.Battery > 0.5 {
		score += w.Battery
	}
	if st.Charging {
		score += w.Charging
	}
	if st.Busy {
		score -= w.Busy
	}
	score -= (st.LatencyMs / 100) * w.Latency
	return score
}
