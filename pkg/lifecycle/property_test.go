package lifecycle

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/sandstream/stoker/pkg/faults"
	"github.com/sandstream/stoker/pkg/state"
	"github.com/sandstream/stoker/pkg/workqueue"
)

// Under any interleaving of transient create failures (including creates
// whose response is lost after the instance launched) and transient destroy
// failures, a full lifecycle never has more than one live instance and always
// ends with zero.
func TestNeverMoreThanOneInstanceUnderFaults(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 60
	params.MaxSize = 4 // keep create failures under the retry budget of 5

	properties := gopter.NewProperties(params)
	properties.Property("single live instance, always torn down", prop.ForAll(
		func(lost []bool, destroyFails uint8) bool {
			h := newHarness(t, testConfig())
			ctx := context.Background()

			for range lost {
				h.prov.createErrs = append(h.prov.createErrs, faults.Transientf("create dropped"))
			}
			h.prov.lostCreates = lost
			for i := uint8(0); i < destroyFails; i++ {
				h.prov.destroyErrs = append(h.prov.destroyErrs, faults.Transientf("destroy dropped"))
			}
			h.queue.Enqueue(&workqueue.Unit{ID: "unit-p", Command: "true"})

			rec, err := h.orch.Reconcile(ctx)
			if err != nil {
				return false
			}
			for i := 0; i < 500; i++ {
				if rec.State == state.StateAbsent && h.run.done == 1 {
					break
				}
				wait, err := h.orch.tick(ctx, rec)
				if err != nil {
					return false
				}
				h.clk.Advance(wait)
			}

			return h.prov.maxLive <= 1 &&
				h.prov.liveCount() == 0 &&
				rec.State == state.StateAbsent &&
				h.run.done == 1
		},
		gen.SliceOf(gen.Bool()),
		gen.UInt8Range(0, 6),
	))
	properties.TestingRun(t)
}
