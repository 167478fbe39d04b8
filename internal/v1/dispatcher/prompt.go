package dispatcher

import (
	"fmt"
	"strings"

	"github.com/roomforge/orchestrator/internal/v1/store"
)

// chatStyleDirective renders the fixed chat-style table (§4.5.2 step 4).
func chatStyleDirective(style store.ChatStyle) string {
	switch style {
	case store.ChatStyleConversational:
		return "Reply in a conversational, Slack-style tone: 1-2 sentences, casual and to the point."
	case store.ChatStyleDetailed:
		return "Reply thoroughly and in a structured way, covering the relevant detail."
	case store.ChatStyleBullet:
		return "Reply as a bulleted list that is easy to scan quickly."
	default:
		return ""
	}
}

// buildSystemPrompt assembles the per-call system prompt. Grounded on
// llm_dispatcher.py's build_system_prompt, extended with the chat-style
// directive and tool preamble that the original folded into a fixed
// two-tool description (here the tool set is itself generalized).
func buildSystemPrompt(llm store.LLMConfiguration, room store.Room, onlineHumans []string, tools []string) string {
	var parts []string

	if dir := chatStyleDirective(llm.ChatStyle); dir != "" {
		parts = append(parts, dir)
	}
	if llm.Persona != "" {
		parts = append(parts, llm.Persona)
	}

	roomName := room.Name
	if roomName == "" {
		roomName = "Unknown Room"
	}
	parts = append(parts, fmt.Sprintf("You are in a collaborative room called %q.", roomName))

	if room.Description != "" {
		parts = append(parts, "Room context: "+room.Description)
	}

	parts = append(parts,
		"Multiple participants (humans and AI assistants) are chatting together. "+
			"Messages are prefixed with the sender's name so you can tell who said what.")

	if len(onlineHumans) > 0 {
		parts = append(parts, "Online humans: "+strings.Join(onlineHumans, ", ")+".")
	}

	var otherLLMs []string
	for _, other := range room.LLMs {
		if other.ID != llm.ID {
			otherLLMs = append(otherLLMs, other.DisplayName)
		}
	}
	if len(otherLLMs) > 0 {
		parts = append(parts, "Other AI assistants in this room: "+strings.Join(otherLLMs, ", ")+".")
	}

	parts = append(parts,
		fmt.Sprintf(
			"When you see a message like \"Alice: hello\", Alice is the speaker. "+
				"Do NOT prefix your responses with your own name (%s) — just respond naturally as part of the conversation.",
			llm.DisplayName,
		))

	parts = append(parts, fmt.Sprintf(
		"**Multi-mention handling:** When a user mentions multiple participants in one message, "+
			"they may assign different tasks to each. For example:\n"+
			"  \"@Trevor please review the architecture. @%s please implement the feature.\"\n"+
			"In this case, YOU (%s) should respond to the portion addressed to you. "+
			"Look for your name (@%s or similar) and focus on what follows until the next @mention.",
		llm.DisplayName, llm.DisplayName, llm.DisplayName,
	))

	parts = append(parts, "You have access to the following tools: "+strings.Join(tools, ", ")+". "+
		"IMPORTANT: when you are mentioned, you should almost always respond. "+
		"Prefer responding over opting out. Your input is valuable to the conversation.")

	return strings.Join(parts, "\n\n")
}

// pollVotingAddendum is appended to buildSystemPrompt's output for
// poll-voting calls.
func pollVotingAddendum(pollID, question string, options []store.PollOption, mandatory bool) string {
	mandatoryText := "Please vote or explain why none of the options fit."
	if mandatory {
		mandatoryText = "This is a MANDATORY poll - you MUST cast a vote using the vote_on_poll tool."
	}
	optDescs := make([]string, 0, len(options))
	for _, o := range options {
		optDescs = append(optDescs, fmt.Sprintf("%s: %s", o.ID, o.Text))
	}
	return fmt.Sprintf(
		"\n\n**POLL VOTING REQUEST**\nA poll has been created: %q\n%s\nPoll ID: %s\nOptions: %s\nUse the vote_on_poll tool to cast your vote.",
		question, mandatoryText, pollID, strings.Join(optDescs, ", "),
	)
}
