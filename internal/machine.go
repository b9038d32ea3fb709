package internal

import (
	"time"

	"github.com/Top-G-420/Rue-Organics/internal/model"
)

// StageNames is the canonical workflow order. Completion is monotonic: a
// completed stage is never re-opened.
var StageNames = []string{
	model.StageOrderPlaced,
	model.StagePaymentPending,
	model.StageProcessing,
	model.StageShipped,
	model.StageOutForDelivery,
	model.StageDelivered,
}

// CurrentStage returns the index of the first incomplete stage. ok is false
// when every stage is completed, i.e. the order is terminal.
func CurrentStage(stages []model.Stage) (int, bool) {
	for i, s := range stages {
		if !s.Completed {
			return i, true
		}
	}
	return -1, false
}

func IsTerminal(stages []model.Stage) bool {
	_, ok := CurrentStage(stages)
	return !ok
}

// AdvanceStages completes the current stage and reports the new status: the
// next stage's name, or the confirmed-received status when the last stage
// was just completed. The input slice is never mutated. changed is false and
// the input is returned as-is when the order is already terminal.
func AdvanceStages(stages []model.Stage, now time.Time) (next []model.Stage, status string, changed bool) {
	cur, ok := CurrentStage(stages)
	if !ok {
		return stages, model.StatusConfirmedReceived, false
	}

	next = cloneStages(stages)
	next[cur].Completed = true
	next[cur].Timestamp = &now

	if cur+1 < len(next) {
		return next, next[cur+1].Name, true
	}
	return next, model.StatusConfirmedReceived, true
}

// ConfirmReceipt completes the final "Delivered" stage. Receipt confirmation
// is buyer-initiated and must not skip pending work, so it refuses with
// ErrReceiptNotReady unless delivery is the only incomplete stage left.
func ConfirmReceipt(stages []model.Stage, now time.Time) ([]model.Stage, string, error) {
	if len(stages) == 0 {
		return stages, "", ErrReceiptNotReady
	}

	last := len(stages) - 1
	if stages[last].Name != model.StageDelivered || stages[last].Completed {
		return stages, "", ErrReceiptNotReady
	}
	if cur, _ := CurrentStage(stages); cur != last {
		return stages, "", ErrReceiptNotReady
	}

	next := cloneStages(stages)
	next[last].Completed = true
	next[last].Timestamp = &now
	return next, model.StatusConfirmedReceived, nil
}

func cloneStages(stages []model.Stage) []model.Stage {
	next := make([]model.Stage, len(stages))
	copy(next, stages)
	return next
}
