// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache implements the Result-Reuse Cache: prior-run step
// outputs keyed by ticker/trade-date/node, reused only when the
// requesting task's filters match exactly, spliced into the new task's
// identity, and surfaced to callers behind an emulated execution delay
// so cache hits still look like real work to anything polling progress.
package cache

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
)

// Key identifies a cacheable step output.
type Key struct {
	Ticker    string
	TradeDate string
	NodeName  string
}

func (k Key) string() string {
	return k.Ticker + "|" + k.TradeDate + "|" + k.NodeName
}

// Entry is a cached step output, tagged with the parameters it was
// produced under so a later lookup can reject a filter mismatch.
type Entry struct {
	Key           Key
	ResearchDepth int
	Analysts      []string
	MarketType    string
	Output        map[string]any
	AnalysisID    string
	SessionID     string
	CreatedAt     time.Time
}

func normalizeAnalysts(analysts []string) string {
	sorted := append([]string(nil), analysts...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// Cache is the Result-Reuse Cache.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	sleepMin float64
	sleepMax float64
}

// New creates an empty Cache with the emulated-delay bounds (seconds)
// applied on a hit or miss.
func New(sleepMin, sleepMax float64) *Cache {
	if sleepMax < sleepMin {
		sleepMax = sleepMin
	}
	return &Cache{
		entries:  make(map[string]*Entry),
		sleepMin: sleepMin,
		sleepMax: sleepMax,
	}
}

// Store records a step's output for future reuse.
func (c *Cache) Store(entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Key.string()] = entry
}

// Lookup returns a cached entry only if one exists for the key and its
// recorded research depth, analyst roster, and market type exactly match
// the requesting task's filters. This is the acceptance gate: a partial
// match is treated as a miss, never reused.
func (c *Cache) Lookup(key Key, researchDepth int, analysts []string, marketType string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key.string()]
	if !ok {
		return nil, false
	}
	if entry.ResearchDepth != researchDepth {
		return nil, false
	}
	if entry.MarketType != marketType {
		return nil, false
	}
	if normalizeAnalysts(entry.Analysts) != normalizeAnalysts(analysts) {
		return nil, false
	}
	return entry, true
}

// Splice merges a cache hit into the requesting task's identity: the
// returned output preserves the new task's analysis_id and session_id
// rather than the cached entry's, and increments a round counter when
// the node being reused participates in the debate or risk phases
// (so a later re-entry into that phase starts at the right round).
func Splice(entry *Entry, analysisID, sessionID string, round int) map[string]any {
	output := make(map[string]any, len(entry.Output)+3)
	for k, v := range entry.Output {
		output[k] = v
	}
	output["analysis_id"] = analysisID
	output["session_id"] = sessionID
	if isRoundedNode(entry.Key.NodeName) {
		output["round"] = round + 1
	}
	return output
}

func isRoundedNode(nodeName string) bool {
	switch nodeName {
	case "bull_researcher", "bear_researcher", "risky_analyst", "safe_analyst", "neutral_analyst":
		return true
	default:
		return false
	}
}

// ControlChecker is the narrow view of the Control Manager the cache's
// emulated delay needs: it must still react to a pause or stop issued
// while a cache hit is being "replayed".
type ControlChecker interface {
	ShouldStop(taskID string) bool
	WaitIfPaused(ctx context.Context, taskID string) error
}

const delayPollInterval = 200 * time.Millisecond

// EmulateDelay sleeps for a duration drawn uniformly from [sleepMin,
// sleepMax] seconds, broken into short polls so a pause or stop issued
// mid-delay is honored immediately rather than after the full delay
// elapses. Returns a non-nil error if the task was stopped.
func (c *Cache) EmulateDelay(ctx context.Context, taskID string, control ControlChecker) error {
	if c.sleepMax <= 0 {
		return nil
	}
	total := time.Duration((c.sleepMin + rand.Float64()*(c.sleepMax-c.sleepMin)) * float64(time.Second))
	deadline := time.Now().Add(total)

	for time.Now().Before(deadline) {
		if control != nil {
			if control.ShouldStop(taskID) {
				return fmt.Errorf("cache: task %s stopped during emulated delay", taskID)
			}
			if err := control.WaitIfPaused(ctx, taskID); err != nil {
				return err
			}
		}
		wait := delayPollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
