// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package task

import (
	"fmt"
	"time"
)

// FromDoc reconstructs a Task from a state store current-state
// document, the shape the Task Manager persists on every mutation. It
// is the counterpart to the documents built by the runner's
// persistCurrent, used to rehydrate the in-memory task index from
// whatever a prior process last wrote to disk.
func FromDoc(doc map[string]any) (*Task, error) {
	id, ok := stringField(doc, "id")
	if !ok || id == "" {
		return nil, fmt.Errorf("task document missing id")
	}

	tk := &Task{
		ID:     id,
		Status: Status(stringFieldOr(doc, "status", string(StatusPending))),
		Params: Params{
			Symbol:        stringFieldOr(doc, "symbol", ""),
			MarketType:    stringFieldOr(doc, "market_type", ""),
			TradeDate:     stringFieldOr(doc, "trade_date", ""),
			Analysts:      stringSliceField(doc, "analysts"),
			ResearchDepth: intFieldOr(doc, "research_depth", 0),
		},
		CurrentStep: CurrentStep{
			Index: intFieldOr(doc, "current_step", 0),
			Name:  stringFieldOr(doc, "current_step_name", ""),
		},
		Progress: Progress{
			Percentage: floatFieldOr(doc, "percentage", 0),
			Message:    stringFieldOr(doc, "message", ""),
		},
		Error:  stringFieldOr(doc, "error", ""),
		Result: mapField(doc, "result"),
	}

	tk.CreatedAt = timeFieldOr(doc, "created_at", time.Now())
	tk.UpdatedAt = timeFieldOr(doc, "updated_at", tk.CreatedAt)
	tk.history = append(tk.history, tk.snapshotLocked())
	return tk, nil
}

func stringField(doc map[string]any, key string) (string, bool) {
	v, ok := doc[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func stringFieldOr(doc map[string]any, key, fallback string) string {
	if s, ok := stringField(doc, key); ok {
		return s
	}
	return fallback
}

func intFieldOr(doc map[string]any, key string, fallback int) int {
	switch v := doc[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func floatFieldOr(doc map[string]any, key string, fallback float64) float64 {
	switch v := doc[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}

func timeFieldOr(doc map[string]any, key string, fallback time.Time) time.Time {
	s, ok := stringField(doc, key)
	if !ok {
		if t, ok := doc[key].(time.Time); ok {
			return t
		}
		return fallback
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fallback
	}
	return t
}

func stringSliceField(doc map[string]any, key string) []string {
	raw, ok := doc[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func mapField(doc map[string]any, key string) map[string]any {
	m, ok := doc[key].(map[string]any)
	if !ok {
		return make(map[string]any)
	}
	return m
}
