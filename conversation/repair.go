package conversation

import "strings"

// Report describes what Repair changed. A zero Report means the input was
// returned untouched.
type Report struct {
	// DroppedInvocations counts invocations removed because their results
	// were incomplete, misplaced or duplicated.
	DroppedInvocations int
	// OrphanedResults counts results removed because their invocation was dropped.
	OrphanedResults int
	// StrayResults counts results removed that had no matching invocation in
	// the required position.
	StrayResults int
	// DroppedTurns counts turns removed because nothing was left on them.
	DroppedTurns int
}

// Changed reports whether any repair was applied
func (r Report) Changed() bool {
	return r.DroppedInvocations+r.OrphanedResults+r.StrayResults+r.DroppedTurns > 0
}

type idSet map[string]struct{}

func (s idSet) has(id string) bool {
	_, ok := s[id]
	return ok
}

type scanMode uint8

const (
	modeCopying scanMode = iota
	modeSkippingOrphans
)

// scanState is threaded through the scan. While skipping, orphans holds the
// ids of the invocations dropped from the last failed group.
type scanState struct {
	mode    scanMode
	orphans idSet
}

func copying() scanState { return scanState{mode: modeCopying} }

func skipping(ids idSet) scanState { return scanState{mode: modeSkippingOrphans, orphans: ids} }

// Repair enforces the invocation/result pairing invariant on a conversation.
//
// Every assistant turn with invocations must be followed, before any
// unrelated turn, by carrier turns holding exactly one result per invocation.
// Groups that satisfy this are kept verbatim. Groups that don't lose their
// invocations (free text on the assistant turn is kept) and every result not
// consumed by a complete group is removed. A conversation that already
// satisfies the invariant is returned as is.
//
// Repair never fails and never mutates its input.
func Repair(turns []Turn) []Turn {
	out, _ := RepairWithReport(turns)
	return out
}

// RepairWithReport is Repair plus a summary of what was removed
func RepairWithReport(turns []Turn) ([]Turn, Report) {
	var report Report
	if !hasToolTraffic(turns) {
		return turns, report
	}

	out := make([]Turn, 0, len(turns))
	dropped := idSet{}
	state := copying()

	for i := 0; i < len(turns); {
		turn := turns[i]

		if turn.Role != RoleAssistant {
			if !turn.hasInvocations() && !turn.hasResults() {
				out = append(out, turn)
				state = copying()
				i++
				continue
			}

			if state.mode == modeSkippingOrphans && carriesOnly(turn, state.orphans) {
				report.OrphanedResults += len(turn.AllResults())
				report.DroppedTurns++
				i++
				continue
			}
			state = copying()

			// Any carrier reaching this point was not consumed by a
			// complete group, so none of its results may survive.
			for _, r := range turn.AllResults() {
				if dropped.has(r.InvocationID) {
					report.OrphanedResults++
				} else {
					report.StrayResults++
				}
			}
			report.DroppedInvocations += len(turn.AllInvocations())
			stripped := turn.
				filterInvocations(func(Invocation) bool { return false }).
				filterResults(func(Result) bool { return false })

			if stripped.isEmpty() {
				report.DroppedTurns++
			} else {
				out = append(out, stripped)
			}
			i++
			continue
		}

		assistant, ids := normalizeAssistant(turn, &report)
		if len(ids) == 0 {
			if assistant.isEmpty() && !turn.isEmpty() {
				report.DroppedTurns++
			} else {
				out = append(out, assistant)
			}
			state = copying()
			i++
			continue
		}

		g := lookAhead(turns, i+1, ids)
		if g.complete {
			out = append(out, assistant)
			out = append(out, g.carriers...)
			report.OrphanedResults += g.duplicates
			report.DroppedTurns += g.emptied
			state = copying()
			i = g.end
			continue
		}

		failed := idSet{}
		for _, id := range ids {
			failed[id] = struct{}{}
			dropped[id] = struct{}{}
		}
		report.DroppedInvocations += len(assistant.AllInvocations())
		if kept, ok := dropInvocations(assistant); ok {
			out = append(out, kept)
		} else {
			report.DroppedTurns++
		}
		state = skipping(failed)
		i++
	}

	if !report.Changed() {
		return turns, report
	}
	return out, report
}

// hasToolTraffic reports whether any turn carries an invocation or a result
func hasToolTraffic(turns []Turn) bool {
	for _, t := range turns {
		if t.hasInvocations() || t.hasResults() {
			return true
		}
	}
	return false
}

// normalizeAssistant removes results from an assistant turn and duplicate
// invocation ids (the first occurrence wins). It returns the distinct ids in
// order of appearance.
func normalizeAssistant(turn Turn, report *Report) (Turn, []string) {
	if turn.hasResults() {
		report.StrayResults += len(turn.AllResults())
		turn = turn.filterResults(func(Result) bool { return false })
	}

	invs := turn.AllInvocations()
	if len(invs) == 0 {
		return turn, nil
	}

	seen := make(idSet, len(invs))
	ids := make([]string, 0, len(invs))
	for _, inv := range invs {
		if seen.has(inv.ID) {
			continue
		}
		seen[inv.ID] = struct{}{}
		ids = append(ids, inv.ID)
	}
	if len(ids) == len(invs) {
		return turn, ids
	}

	report.DroppedInvocations += len(invs) - len(ids)
	first := make(idSet, len(ids))
	turn = turn.filterInvocations(func(inv Invocation) bool {
		if first.has(inv.ID) {
			return false
		}
		first[inv.ID] = struct{}{}
		return true
	})
	return turn, ids
}

// group is the outcome of looking ahead from an assistant turn
type group struct {
	complete   bool
	end        int
	carriers   []Turn
	duplicates int
	emptied    int
}

// lookAhead walks the carriers following an assistant turn, matching results
// to the pending ids at block granularity. It stops at the first turn that is
// not a pure carrier for this set, or once every id is matched. A carrier may
// hold other content only if it is the one completing the set.
func lookAhead(turns []Turn, start int, ids []string) group {
	pending := make(idSet, len(ids))
	for _, id := range ids {
		pending[id] = struct{}{}
	}
	matched := make(idSet, len(ids))

	g := group{end: start}
	for j := start; j < len(turns) && len(pending) > 0; j++ {
		t := turns[j]
		if !t.IsCarrier() || t.hasInvocations() {
			break
		}

		hits := idSet{}
		dups := idSet{}
		qualifies := true
		for _, r := range t.AllResults() {
			switch {
			case pending.has(r.InvocationID) && !hits.has(r.InvocationID):
				hits[r.InvocationID] = struct{}{}
			case matched.has(r.InvocationID) || hits.has(r.InvocationID):
				dups[r.InvocationID] = struct{}{}
			default:
				qualifies = false
			}
		}
		if !qualifies {
			break
		}
		if t.hasOtherContent() && len(hits) < len(pending) {
			break
		}

		if len(dups) > 0 {
			var removed int
			t, removed = dropDuplicateResults(t, matched)
			g.duplicates += removed
		}
		for id := range hits {
			delete(pending, id)
			matched[id] = struct{}{}
		}
		if t.isEmpty() {
			g.emptied++
		} else {
			g.carriers = append(g.carriers, t)
		}
		g.end = j + 1
	}

	g.complete = len(pending) == 0
	return g
}

// dropDuplicateResults keeps only the first result per invocation id on a
// consumed carrier. Results for ids already matched by an earlier carrier of
// the group are removed as well.
func dropDuplicateResults(t Turn, earlier idSet) (Turn, int) {
	removed := 0
	seen := idSet{}
	out := t.filterResults(func(r Result) bool {
		if earlier.has(r.InvocationID) || seen.has(r.InvocationID) {
			removed++
			return false
		}
		seen[r.InvocationID] = struct{}{}
		return true
	})
	return out, removed
}

// carriesOnly reports whether the turn holds nothing but results for ids
func carriesOnly(t Turn, ids idSet) bool {
	if t.hasInvocations() || t.hasOtherContent() {
		return false
	}
	for _, r := range t.AllResults() {
		if !ids.has(r.InvocationID) {
			return false
		}
	}
	return true
}

// dropInvocations strips every invocation from an assistant turn, keeping its
// free text. Block content reduces to scalar text unless uninterpreted blocks
// remain. It reports false when nothing is left worth keeping.
func dropInvocations(turn Turn) (Turn, bool) {
	out := turn.filterInvocations(func(Invocation) bool { return false })

	if out.Content.Kind == KindBlocks {
		hasRaw := false
		for _, b := range out.Content.Blocks {
			if b.Type == BlockRaw {
				hasRaw = true
				break
			}
		}
		if !hasRaw {
			var texts []string
			for _, b := range out.Content.Blocks {
				if b.Type == BlockText && strings.TrimSpace(b.Text) != "" {
					texts = append(texts, b.Text)
				}
			}
			out.Content = TextContent(strings.Join(texts, "\n"))
		}
	}

	if !out.hasOtherContent() {
		return Turn{}, false
	}
	return out, true
}
