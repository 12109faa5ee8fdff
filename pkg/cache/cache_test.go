package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupMissOnEmptyCache(t *testing.T) {
	c := New(0, 0)
	_, ok := c.Lookup(Key{Ticker: "AAPL", TradeDate: "2026-01-01", NodeName: "market_analyst"}, 1, []string{"market"}, "us_equity")
	assert.False(t, ok)
}

func TestLookupRejectsFilterMismatch(t *testing.T) {
	c := New(0, 0)
	key := Key{Ticker: "AAPL", TradeDate: "2026-01-01", NodeName: "market_analyst"}
	c.Store(&Entry{
		Key:           key,
		ResearchDepth: 1,
		Analysts:      []string{"market"},
		MarketType:    "us_equity",
		Output:        map[string]any{"summary": "bullish"},
	})

	_, ok := c.Lookup(key, 2, []string{"market"}, "us_equity")
	assert.False(t, ok, "depth mismatch must miss")

	_, ok = c.Lookup(key, 1, []string{"market", "news"}, "us_equity")
	assert.False(t, ok, "analyst roster mismatch must miss")

	entry, ok := c.Lookup(key, 1, []string{"market"}, "us_equity")
	require.True(t, ok)
	assert.Equal(t, "bullish", entry.Output["summary"])
}

func TestLookupAnalystOrderInsensitive(t *testing.T) {
	c := New(0, 0)
	key := Key{Ticker: "AAPL", TradeDate: "2026-01-01", NodeName: "market_analyst"}
	c.Store(&Entry{Key: key, ResearchDepth: 1, Analysts: []string{"news", "market"}, MarketType: "us_equity", Output: map[string]any{}})

	_, ok := c.Lookup(key, 1, []string{"market", "news"}, "us_equity")
	assert.True(t, ok)
}

func TestSplicePreservesNewIdentity(t *testing.T) {
	entry := &Entry{
		Key:        Key{NodeName: "bull_researcher"},
		Output:     map[string]any{"analysis_id": "old", "session_id": "old-session", "round": 1},
		AnalysisID: "old",
		SessionID:  "old-session",
	}

	spliced := Splice(entry, "new-analysis", "new-session", 1)
	assert.Equal(t, "new-analysis", spliced["analysis_id"])
	assert.Equal(t, "new-session", spliced["session_id"])
	assert.Equal(t, 2, spliced["round"], "rounded nodes increment their round counter")
}

func TestSpliceNonRoundedNodeLeavesRoundAlone(t *testing.T) {
	entry := &Entry{Key: Key{NodeName: "trader"}, Output: map[string]any{}}
	spliced := Splice(entry, "a", "b", 3)
	_, hasRound := spliced["round"]
	assert.False(t, hasRound)
}

type fakeControl struct {
	stopAfter time.Time
}

func (f *fakeControl) ShouldStop(string) bool {
	return !f.stopAfter.IsZero() && time.Now().After(f.stopAfter)
}
func (f *fakeControl) WaitIfPaused(context.Context, string) error { return nil }

func TestEmulateDelayHonorsStop(t *testing.T) {
	c := New(1, 1)
	control := &fakeControl{stopAfter: time.Now().Add(10 * time.Millisecond)}

	start := time.Now()
	err := c.EmulateDelay(context.Background(), "task-1", control)
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.Less(t, elapsed, time.Second, "stop should cut the delay short")
}

func TestEmulateDelayZeroBoundsReturnsImmediately(t *testing.T) {
	c := New(0, 0)
	err := c.EmulateDelay(context.Background(), "task-1", nil)
	assert.NoError(t, err)
}
