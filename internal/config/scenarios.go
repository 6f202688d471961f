package config

import "github.com/toolify/perfgate/internal/gate"

// Scenario group names. The core group always runs; the fc group is added
// when PERF_INCLUDE_FC is set.
const (
	GroupCore = "core"
	GroupFC   = "fc"
)

const completionsPath = "/v1/chat/completions"

const chatBody = `{"model":"perf-model","messages":[{"role":"user","content":"Summarize the plot of a heist movie in two sentences."}],"max_tokens":128}`

const chatStreamBody = `{"model":"perf-model","stream":true,"messages":[{"role":"user","content":"Summarize the plot of a heist movie in two sentences."}],"max_tokens":128}`

const fcBody = `{"model":"perf-model","messages":[{"role":"user","content":"What is the weather in London right now?"}],"tools":[{"type":"function","function":{"name":"get_weather","description":"Current weather for a city","parameters":{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}}}],"max_tokens":128}`

const fcStreamBody = `{"model":"perf-model","stream":true,"messages":[{"role":"user","content":"What is the weather in London right now?"}],"tools":[{"type":"function","function":{"name":"get_weather","description":"Current weather for a city","parameters":{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}}}],"max_tokens":128}`

// Scenarios returns the fixed workload set for one gate invocation, in the
// order reports will present them. When h2c is true the upstream leg is
// expected to stay on HTTP/2 for every request, so transport purity is
// asserted after each round.
func Scenarios(includeFC, h2c bool) []gate.Scenario {
	scenarios := []gate.Scenario{
		{
			Name:          "chat_nonstream",
			Path:          completionsPath,
			Mode:          "nonstream",
			Body:          chatBody,
			RequirePurity: h2c,
			Group:         GroupCore,
		},
		{
			Name:          "chat_stream",
			Path:          completionsPath,
			Mode:          "stream",
			Body:          chatStreamBody,
			RequirePurity: h2c,
			Group:         GroupCore,
		},
	}

	if includeFC {
		scenarios = append(scenarios,
			gate.Scenario{
				Name:          "fc_inject_nonstream",
				Path:          completionsPath,
				Mode:          "nonstream",
				Body:          fcBody,
				RequirePurity: h2c,
				Group:         GroupFC,
			},
			gate.Scenario{
				Name:          "fc_inject_stream",
				Path:          completionsPath,
				Mode:          "stream",
				Body:          fcStreamBody,
				RequirePurity: h2c,
				Group:         GroupFC,
			},
		)
	}

	return scenarios
}
