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

// Package progress generates the deterministic step list for an analysis
// run and tracks weighted cumulative progress through it.
package progress

// Phase groups steps into the pipeline's broad stages.
type Phase string

const (
	PhasePrep     Phase = "prep"
	PhaseAnalysis Phase = "analysis"
	PhaseDebate   Phase = "debate"
	PhaseTrading  Phase = "trading"
	PhaseRisk     Phase = "risk"
	PhaseSignal   Phase = "signal"
	PhasePost     Phase = "post"
)

// Step is one unit of work in the generated pipeline, carrying the
// renormalized weight it contributes to overall progress.
type Step struct {
	Index       int
	Name        string
	Description string
	Weight      float64
	Phase       Phase
	Round       int    // non-zero for multi-round debate/risk steps
	Role        string // the analyst/researcher role this step belongs to, if any
}

// prep steps always run first, regardless of request parameters.
var prepSteps = []struct {
	name, description string
}{
	{"initialize", "Initializing analysis task"},
	{"validate_params", "Validating request parameters"},
	{"resolve_trade_date", "Resolving trade date"},
	{"load_market_data", "Loading market price data"},
	{"load_fundamentals_data", "Loading fundamentals data"},
	{"load_news_data", "Loading news data"},
	{"load_social_data", "Loading social sentiment data"},
	{"prepare_analysts", "Preparing analyst pipeline"},
}

// postSteps always run last.
var postSteps = []struct {
	name, description string
}{
	{"finalize_report", "Finalizing analysis report"},
	{"persist_results", "Persisting results"},
	{"publish_completion", "Publishing completion status"},
}

const (
	prepBudget    = 0.10
	analystBudget = 0.50
	debateBudget  = 0.15
	traderBudget  = 0.08
	riskBudget    = 0.12
	signalBudget  = 0.03
	postBudget    = 0.02
)

// GenerateSteps builds the step list for a request with the given
// analyst roster and research depth, then renormalizes every weight so
// the list sums to exactly 1.0. The shape of the generated list is
// deterministic: same analysts + same depth always produce the same
// step names, order, and (pre-renormalization) weights.
func GenerateSteps(analysts []string, depth int) []Step {
	var steps []Step
	idx := 0

	for _, s := range prepSteps {
		steps = append(steps, Step{Index: idx, Name: s.name, Description: s.description, Weight: prepBudget / float64(len(prepSteps)), Phase: PhasePrep})
		idx++
	}

	perAnalyst := analystBudget / float64(len(analysts))
	for _, a := range analysts {
		name := canonicalAnalystStep(a)
		steps = append(steps, Step{
			Index:       idx,
			Name:        name,
			Description: "Running " + name,
			Weight:      perAnalyst,
			Phase:       PhaseAnalysis,
			Role:        a,
		})
		idx++
	}

	if depth >= 2 {
		debateSteps := []struct{ name, role string }{
			{"bull_researcher", "bull"},
			{"bear_researcher", "bear"},
			{"research_manager_decision", "research_manager"},
		}
		per := debateBudget / float64(len(debateSteps))
		for _, d := range debateSteps {
			steps = append(steps, Step{
				Index:       idx,
				Name:        d.name,
				Description: "Running " + d.name,
				Weight:      per,
				Phase:       PhaseDebate,
				Role:        d.role,
			})
			idx++
		}
	}

	steps = append(steps, Step{
		Index:       idx,
		Name:        "trader",
		Description: "Drafting trade plan",
		Weight:      traderBudget,
		Phase:       PhaseTrading,
		Role:        "trader",
	})
	idx++

	if depth >= 3 {
		riskSteps := []struct{ name, role string }{
			{"risky_analyst", "risky"},
			{"safe_analyst", "safe"},
			{"neutral_analyst", "neutral"},
			{"risk_manager", "risk_judge"},
		}
		per := riskBudget / float64(len(riskSteps))
		for _, r := range riskSteps {
			steps = append(steps, Step{
				Index:       idx,
				Name:        r.name,
				Description: "Running " + r.name,
				Weight:      per,
				Phase:       PhaseRisk,
				Role:        r.role,
			})
			idx++
		}
	} else {
		steps = append(steps, Step{
			Index:       idx,
			Name:        "risk_prompt",
			Description: "Running condensed risk assessment",
			Weight:      riskBudget,
			Phase:       PhaseRisk,
		})
		idx++
	}

	steps = append(steps, Step{
		Index:       idx,
		Name:        "signal_processing",
		Description: "Processing final trade signal",
		Weight:      signalBudget,
		Phase:       PhaseSignal,
	})
	idx++

	for _, s := range postSteps {
		steps = append(steps, Step{Index: idx, Name: s.name, Description: s.description, Weight: postBudget / float64(len(postSteps)), Phase: PhasePost})
		idx++
	}

	renormalize(steps)
	return steps
}

// renormalize scales every step's weight so they sum to exactly 1.0,
// guarding against drift from the budget constants above not summing
// perfectly due to floating point or future edits.
func renormalize(steps []Step) {
	var total float64
	for _, s := range steps {
		total += s.Weight
	}
	if total == 0 {
		return
	}
	for i := range steps {
		steps[i].Weight /= total
	}
}

// StepIndexByModule builds a module-name -> step-index lookup table from
// a generated step list, used to resolve incoming progress events to a
// step without keyword matching.
func StepIndexByModule(steps []Step) map[string]int {
	table := make(map[string]int, len(steps))
	for _, s := range steps {
		table[s.Name] = s.Index
	}
	return table
}

var analystAliases = map[string]string{
	"market":       "market_analyst",
	"fundamentals": "fundamentals_analyst",
	"news":         "news_analyst",
	"social":       "social_media_analyst",
}

func canonicalAnalystStep(analyst string) string {
	if canonical, ok := analystAliases[analyst]; ok {
		return canonical
	}
	return analyst
}
