package worker

import "wopa/internal/wire"

// RenormalizeStep redistributes a failed check's weight proportionally to
// its surviving siblings within the same step (§4.2). If every check in
// the step failed, weights are left untouched (there is nothing to
// redistribute to) and the caller's required-step failure semantics take
// over.
func RenormalizeStep(checks []wire.Check) []wire.Check {
	var survivingWeight float64
	var failedWeight float64
	for _, c := range checks {
		if c.Failed() {
			failedWeight += c.Weight
		} else {
			survivingWeight += c.Weight
		}
	}
	if failedWeight == 0 || survivingWeight == 0 {
		return checks
	}

	out := make([]wire.Check, len(checks))
	copy(out, checks)
	for i := range out {
		if out[i].Failed() {
			continue
		}
		share := out[i].Weight / survivingWeight
		out[i].Weight += share * failedWeight
	}
	return out
}

// NormalizeAcrossSteps applies NormalizeWeightsTo1 to the combined checks of
// every step in one worker result, so the sum-to-1.0 invariant holds over
// the worker's full output rather than per step. Workers with a single step
// can call NormalizeWeightsTo1 directly; multi-step workers like LinkWorker
// must go through this instead, or a per-step normalization reinflates each
// step's checks independently and the combined sum drifts past 1.0.
func NormalizeAcrossSteps(steps []wire.StepResult) []wire.StepResult {
	var all []wire.Check
	for _, s := range steps {
		all = append(all, s.Checks...)
	}
	all = NormalizeWeightsTo1(all)

	out := make([]wire.StepResult, len(steps))
	idx := 0
	for i, s := range steps {
		n := len(s.Checks)
		out[i] = wire.StepResult{Step: s.Step, Checks: all[idx : idx+n]}
		idx += n
	}
	return out
}

// NormalizeWeightsTo1 scales every surviving check's weight so the
// surviving checks sum to exactly 1.0 (within float precision); failed
// checks keep their weight unchanged. This follows §8's invariant that K
// successful checks' weights sum to 1.0 +/- 1e-6 after renormalization.
// Per §9's resolved open question, WOPA normalizes rather than preserving
// exact, possibly sub-1.0, source weights.
func NormalizeWeightsTo1(checks []wire.Check) []wire.Check {
	var sum float64
	for _, c := range checks {
		if !c.Failed() {
			sum += c.Weight
		}
	}
	if sum <= 0 {
		return checks
	}
	out := make([]wire.Check, len(checks))
	copy(out, checks)
	for i := range out {
		if out[i].Failed() {
			continue
		}
		out[i].Weight /= sum
	}
	return out
}
