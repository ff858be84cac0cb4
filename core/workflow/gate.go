package workflow

import "sort"

// Rejection reasons, in the order the gate checks them.
type Reason string

const (
	// ReasonForbidden: the caller's role may not edit this process.
	ReasonForbidden Reason = "forbidden"
	// ReasonAlreadyComplete: the step is already done; a silent no-op, not a
	// user-facing error.
	ReasonAlreadyComplete Reason = "already_complete"
	// ReasonOutOfOrder: a preceding step is still incomplete.
	ReasonOutOfOrder Reason = "out_of_order"
	// ReasonUnknownStep: the key does not belong to the process.
	ReasonUnknownStep Reason = "unknown_step"
)

type Rejection struct {
	Key    string `json:"key"`
	Label  string `json:"label,omitempty"`
	Reason Reason `json:"reason"`
}

type GateResult struct {
	Accepted []string    `json:"accepted"`
	Rejected []Rejection `json:"rejected"`
}

// AllForbidden reports whether the gate rejected every requested key for lack
// of permission.
func (r GateResult) AllForbidden() bool {
	if len(r.Accepted) > 0 || len(r.Rejected) == 0 {
		return false
	}
	for _, rej := range r.Rejected {
		if rej.Reason != ReasonForbidden {
			return false
		}
	}
	return true
}

// ValidateSubmission classifies a candidate batch of step completions without
// writing anything. Requested keys are processed in step order, and a key
// accepted earlier in the same call counts as done for the keys after it, so
// one submission may complete several consecutive steps.
//
// canEdit comes from the caller's resolved permissions for the process.
func ValidateSubmission(steps []Step, state State, pending *PendingSet, requested []string, canEdit bool) GateResult {
	var res GateResult

	// work in step order regardless of submission order
	ordered := make([]string, len(requested))
	copy(ordered, requested)
	sort.SliceStable(ordered, func(i, j int) bool {
		return StepIndex(steps, ordered[i]) < StepIndex(steps, ordered[j])
	})

	accepted := make(map[string]struct{}, len(ordered))
	seen := make(map[string]struct{}, len(ordered))

	done := func(key string) bool {
		if state[key] || pending.Has(key) {
			return true
		}
		_, ok := accepted[key]
		return ok
	}

	for _, key := range ordered {
		idx := StepIndex(steps, key)
		if idx < 0 {
			res.Rejected = append(res.Rejected, Rejection{Key: key, Reason: ReasonUnknownStep})
			continue
		}
		label := steps[idx].Label

		if !canEdit {
			res.Rejected = append(res.Rejected, Rejection{Key: key, Label: label, Reason: ReasonForbidden})
			continue
		}
		if _, dup := seen[key]; dup {
			res.Rejected = append(res.Rejected, Rejection{Key: key, Label: label, Reason: ReasonAlreadyComplete})
			continue
		}
		seen[key] = struct{}{}

		if state[key] || pending.Has(key) {
			res.Rejected = append(res.Rejected, Rejection{Key: key, Label: label, Reason: ReasonAlreadyComplete})
			continue
		}

		outOfOrder := false
		for i := 0; i < idx; i++ {
			if !done(steps[i].Key) {
				outOfOrder = true
				break
			}
		}
		if outOfOrder {
			res.Rejected = append(res.Rejected, Rejection{Key: key, Label: label, Reason: ReasonOutOfOrder})
			continue
		}

		accepted[key] = struct{}{}
		res.Accepted = append(res.Accepted, key)
	}
	return res
}
