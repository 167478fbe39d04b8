package dispatcher

import (
	"fmt"
	"strings"

	"github.com/roomforge/orchestrator/internal/v1/provider"
	"github.com/roomforge/orchestrator/internal/v1/store"
)

const (
	toolOptOut        = "opt_out"
	toolMention       = "mention"
	toolVoteOnPoll    = "vote_on_poll"
	toolGetActivePoll = "get_active_polls"
)

// buildRoomTools builds the general-call tool set: opt_out, mention,
// vote_on_poll, and a synthetic get_active_polls description when any polls
// are open. Grounded on llm_dispatcher.py's build_room_tools.
func buildRoomTools(room store.Room, activePolls []store.Poll) []provider.ToolDefinition {
	names := make([]string, 0, len(room.LLMs))
	for _, llm := range room.LLMs {
		names = append(names, llm.DisplayName)
	}

	tools := []provider.ToolDefinition{
		{
			Name: toolOptOut,
			Description: "RARELY use this tool to decline responding. Only use when: " +
				"(1) you were explicitly mentioned but the question was clearly directed at someone else, " +
				"(2) your character would genuinely stay silent based on personality (not just uncertainty). " +
				"When in doubt, RESPOND rather than opting out. Your input is valuable.",
			ParametersJSON: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{"type": "string", "description": "Brief reason for opting out (for logging)"},
				},
				"required": []string{},
			},
		},
		{
			Name: toolMention,
			Description: fmt.Sprintf(
				"Use this tool to tag another participant and request their response. "+
					"Available participants: %s. Use this when you want to ask someone a question, "+
					"delegate a task, or invite them into the conversation.",
				strings.Join(names, ", "),
			),
			ParametersJSON: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"participant": map[string]any{"type": "string", "description": "Name of the participant to mention"},
					"context":     map[string]any{"type": "string", "description": "Why you're mentioning them (optional)"},
				},
				"required": []string{"participant"},
			},
		},
		{
			Name:        toolVoteOnPoll,
			Description: "Cast your vote on an active poll. You can provide reasoning for your choice.",
			ParametersJSON: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"poll_id":     map[string]any{"type": "string", "description": "ID of the poll to vote on"},
					"option_ids":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "ID(s) of the option(s) to vote for"},
					"reason":      map[string]any{"type": "string", "description": "Brief explanation for your vote (optional)"},
				},
				"required": []string{"poll_id", "option_ids"},
			},
		},
	}

	if len(activePolls) > 0 {
		descs := make([]string, 0, len(activePolls))
		for _, p := range activePolls {
			opts := make([]string, 0, len(p.Options))
			for _, o := range p.Options {
				opts = append(opts, fmt.Sprintf("%s: %q", o.ID, o.Text))
			}
			descs = append(descs, fmt.Sprintf("Poll %q (id=%s): [%s]", p.Question, p.ID, strings.Join(opts, ", ")))
		}
		tools = append(tools, provider.ToolDefinition{
			Name:           toolGetActivePoll,
			Description:    fmt.Sprintf("Get information about active polls in this room. Current polls: %s", strings.Join(descs, "; ")),
			ParametersJSON: map[string]any{"type": "object", "properties": map[string]any{}},
		})
	}

	return tools
}

// buildPollTools builds the narrowed poll-voting tool set: vote_on_poll
// (always), plus opt_out only when the poll is not mandatory. Grounded on
// llm_dispatcher.py's build_poll_tools.
func buildPollTools(pollID, question string, options []store.PollOption, mandatory bool) []provider.ToolDefinition {
	optDescs := make([]string, 0, len(options))
	for _, o := range options {
		optDescs = append(optDescs, fmt.Sprintf("%s: %q", o.ID, o.Text))
	}
	optionsDesc := strings.Join(optDescs, ", ")

	var tools []provider.ToolDefinition
	if !mandatory {
		tools = append(tools, provider.ToolDefinition{
			Name: toolOptOut,
			Description: "Use this to decline voting if none of the options fit your view. " +
				"You should still provide a text response explaining why.",
			ParametersJSON: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{"type": "string", "description": "Why you're not voting"},
				},
				"required": []string{"reason"},
			},
		})
	}

	required := ""
	if mandatory {
		required = "REQUIRED - YOU MUST USE THIS TOOL: "
	}
	tools = append(tools, provider.ToolDefinition{
		Name: toolVoteOnPoll,
		Description: fmt.Sprintf(
			"%sCast your vote on the poll. Question: %q. Available options: [%s]. "+
				"Use poll_id=%q and set option_ids to the ID(s) you choose.",
			required, question, optionsDesc, pollID,
		),
		ParametersJSON: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"poll_id":    map[string]any{"type": "string", "description": fmt.Sprintf("The poll ID - must be exactly: %s", pollID)},
				"option_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Array of option ID(s) to vote for"},
				"reason":     map[string]any{"type": "string", "description": "Brief explanation for your vote"},
			},
			"required": []string{"poll_id", "option_ids"},
		},
	})
	return tools
}
