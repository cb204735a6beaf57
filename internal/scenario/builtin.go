package scenario

import "rehearsal/internal/fixtures"

// Builtins returns the scenarios the toolkit ships with. Each one is
// written against a specific mock server script, named in its Script
// field.
func Builtins() []*Scenario {
	greeting, _ := fixtures.Lookup("en", "greeting")
	farewell, _ := fixtures.Lookup("en", "farewell")

	return []*Scenario{
		{
			Name:        "golden-path",
			Description: "Two user turns echoed back, nothing out of place.",
			Script:      "echo",
			Steps: []Step{
				{Send: &SendStep{Type: "message", Content: greeting}},
				{Expect: &ExpectStep{Type: "message", Content: greeting, Role: "assistant"}},
				{Send: &SendStep{Type: "message", Content: "signing off from ${thread}"}},
				{Expect: &ExpectStep{Type: "message", Content: "signing off from ${thread}"}},
			},
			Checkpoints: []Checkpoint{
				{Kind: CheckThreadConsistent},
				{Kind: CheckTimestampsMonotonic},
				{Kind: CheckNoErrors},
				{Kind: CheckMinEntries, MinEntries: 4},
			},
		},
		{
			Name:        "streaming",
			Description: "A reply arrives chunked and must assemble into its final message.",
			Script:      "streamer",
			Steps: []Step{
				{Send: &SendStep{Type: "message", Content: farewell}},
				{Expect: &ExpectStep{Type: "stream", Content: farewell}},
			},
			Checkpoints: []Checkpoint{
				{Kind: CheckStreamsAssemble},
				{Kind: CheckThreadConsistent},
				{Kind: CheckTimestampsMonotonic},
			},
		},
		{
			Name:        "agent-lifecycle",
			Description: "One agent run from start to completed, messages in between.",
			Script:      "agent",
			Steps: []Step{
				{Send: &SendStep{Type: "message", Content: "look into ${thread}"}},
				{Expect: &ExpectStep{Type: "agent_start", AgentType: "researcher"}},
				{Expect: &ExpectStep{Type: "agent_message", AgentType: "researcher"}},
				{Expect: &ExpectStep{Type: "agent_message", AgentType: "researcher"}},
				{Expect: &ExpectStep{Type: "agent_complete", AgentType: "researcher", Status: "completed"}},
			},
			Checkpoints: []Checkpoint{
				{Kind: CheckAgentRunsTerminated},
				{Kind: CheckThreadConsistent},
				{Kind: CheckNoErrors},
			},
		},
		{
			Name:        "error-handling",
			Description: "Malformed input draws a system error; the session survives it.",
			Script:      "echo",
			Steps: []Step{
				{Send: &SendStep{Type: "message", Content: "before the breakage"}},
				{Expect: &ExpectStep{Type: "message", Content: "before the breakage"}},
				{Send: &SendStep{Type: "raw", Raw: `{"type": "presence_update"}`}},
				{Expect: &ExpectStep{Type: "error"}},
				{Send: &SendStep{Type: "message", Content: "still here"}},
				{Expect: &ExpectStep{Type: "message", Content: "still here"}},
			},
			Checkpoints: []Checkpoint{
				{Kind: CheckThreadConsistent},
				// Five entries, not six: the raw frame never decodes, so
				// only its error reply makes it into the transcript.
				{Kind: CheckMinEntries, MinEntries: 5},
			},
		},
		{
			Name:        "reconnect",
			Description: "The conversation picks up after dropping and redialing.",
			Script:      "echo",
			Steps: []Step{
				{Send: &SendStep{Type: "message", Content: "first life"}},
				{Expect: &ExpectStep{Type: "message", Content: "first life"}},
				{Reconnect: true},
				{Send: &SendStep{Type: "message", Content: "second life"}},
				{Expect: &ExpectStep{Type: "message", Content: "second life"}},
			},
			Checkpoints: []Checkpoint{
				{Kind: CheckThreadConsistent},
				{Kind: CheckNoErrors},
				{Kind: CheckMinEntries, MinEntries: 4},
			},
		},
	}
}
