package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumWeights(steps []Step) float64 {
	var total float64
	for _, s := range steps {
		total += s.Weight
	}
	return total
}

func TestGenerateStepsWeightsSumToOne(t *testing.T) {
	for _, depth := range []int{1, 2, 3} {
		steps := GenerateSteps([]string{"market", "news"}, depth)
		assert.InDelta(t, 1.0, sumWeights(steps), 1e-9)
	}
}

func TestGenerateStepsDepthGatesPhases(t *testing.T) {
	shallow := GenerateSteps([]string{"market"}, 1)
	assert.NotContains(t, names(shallow), "bull_researcher")
	assert.Contains(t, names(shallow), "risk_prompt")

	deep := GenerateSteps([]string{"market"}, 3)
	assert.Contains(t, names(deep), "bull_researcher")
	assert.Contains(t, names(deep), "risky_analyst")
	assert.NotContains(t, names(deep), "risk_prompt")
}

func names(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Name
	}
	return out
}

func TestGenerateStepsIsDeterministic(t *testing.T) {
	a := GenerateSteps([]string{"market", "news"}, 2)
	b := GenerateSteps([]string{"market", "news"}, 2)
	assert.Equal(t, names(a), names(b))
	for i := range a {
		assert.InDelta(t, a[i].Weight, b[i].Weight, 1e-12)
	}
}

func TestTrackerProgressAccumulates(t *testing.T) {
	tr := New([]string{"market"}, 1)
	steps := tr.Steps()
	require.NotEmpty(t, steps)

	for _, s := range steps {
		tr.StartStep(s.Index)
		tr.CompleteStep(s.Index, "done")
	}

	snap := tr.Progress()
	assert.InDelta(t, 100.0, snap.Percentage, 1e-6)
}

func TestTrackerHistoryAppendOnlyUntilClose(t *testing.T) {
	tr := New([]string{"market"}, 1)
	tr.StartStep(0)
	tr.StartStep(1)

	history := tr.History()
	require.Len(t, history, 2)
	assert.False(t, history[0].EndTime.IsZero(), "starting the next step closes the previous entry")
}

func TestUpdateFromMessageResolvesByModuleName(t *testing.T) {
	tr := New([]string{"market"}, 1)
	tr.UpdateFromMessage("market_analyst", "start", "")
	tr.UpdateFromMessage("market_analyst", "complete", "bullish")

	history := tr.History()
	require.NotEmpty(t, history)
	assert.Equal(t, StepDone, history[len(history)-1].NodeStatus)
	assert.Equal(t, "bullish", history[len(history)-1].Message)
}

func TestEffectiveElapsedExcludesPause(t *testing.T) {
	tr := New([]string{"market"}, 1)
	time.Sleep(5 * time.Millisecond)
	tr.MarkPaused()
	time.Sleep(20 * time.Millisecond)
	tr.MarkResumed()

	elapsed := tr.EffectiveElapsed()
	assert.Less(t, elapsed, 15*time.Millisecond)
}
