// Package mention extracts @mentions from chat content and resolves them
// against a room's LLM configurations. Grounded on
// original_source/services/room/src/room/llm_dispatcher.py (the dispatcher's
// _MENTION_RE and resolution logic is the authoritative, CJK-aware version;
// session.py's simpler regex was an earlier iteration of the same idea).
package mention

import (
	"regexp"
	"strings"

	"github.com/roomforge/orchestrator/internal/v1/store"
)

// mentionRe matches "@" followed by a run of word characters (including the
// CJK Unified Ideographs block) and hyphens.
var mentionRe = regexp.MustCompile(`@[\w\x{4e00}-\x{9fff}-]+`)

// Extract scans content for @tokens and returns the normalized tokens in
// first-occurrence order, without resolving them against a room yet.
func Extract(content string) []string {
	raw := mentionRe.FindAllString(content, -1)
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		norm := Normalize(tok)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

// Normalize strips the leading "@", trailing punctuation, and lowercases.
func Normalize(token string) string {
	token = strings.TrimPrefix(token, "@")
	token = strings.TrimRight(token, ".,!?;:")
	return strings.ToLower(token)
}

// isEveryoneToken reports whether a normalized token means "all LLMs".
func isEveryoneToken(norm string) bool {
	return norm == "all" || norm == "everyone"
}

// lookupIndex builds a case-insensitive id/display-name/display-name-with-
// underscores index over a room's LLM configurations.
func lookupIndex(llms []store.LLMConfiguration) map[string]store.LLMConfiguration {
	idx := make(map[string]store.LLMConfiguration, len(llms)*3)
	for _, llm := range llms {
		idx[strings.ToLower(llm.ID)] = llm
		idx[strings.ToLower(llm.DisplayName)] = llm
		idx[strings.ToLower(strings.ReplaceAll(llm.DisplayName, " ", "_"))] = llm
	}
	return idx
}

// Resolve merges client-supplied mention hints with text-scanned tokens from
// content, resolves each against room's LLMs, and returns the matched LLMs in
// first-occurrence order with duplicates collapsed. A bare "@all"/"@everyone"
// token (client hint or in-text) resolves to every LLM in the room.
func Resolve(content string, clientMentions []string, llms []store.LLMConfiguration) []store.LLMConfiguration {
	idx := lookupIndex(llms)

	tokens := make([]string, 0, len(clientMentions)+4)
	seenToken := make(map[string]struct{})
	for _, m := range clientMentions {
		norm := Normalize(m)
		if norm == "" {
			continue
		}
		if _, ok := seenToken[norm]; ok {
			continue
		}
		seenToken[norm] = struct{}{}
		tokens = append(tokens, norm)
	}
	for _, norm := range Extract(content) {
		if _, ok := seenToken[norm]; ok {
			continue
		}
		seenToken[norm] = struct{}{}
		tokens = append(tokens, norm)
	}

	matched := make([]store.LLMConfiguration, 0, len(llms))
	matchedIDs := make(map[string]struct{}, len(llms))
	add := func(llm store.LLMConfiguration) {
		if _, ok := matchedIDs[llm.ID]; ok {
			return
		}
		matchedIDs[llm.ID] = struct{}{}
		matched = append(matched, llm)
	}

	for _, tok := range tokens {
		if isEveryoneToken(tok) {
			for _, llm := range llms {
				add(llm)
			}
			continue
		}
		if llm, ok := idx[tok]; ok {
			add(llm)
		}
	}
	return matched
}

// MatchLLMFromName resolves a single free-text name (as used by the
// mention tool call and LLM-to-LLM chaining) against a room's LLMs,
// excluding excludeID to prevent self-mention loops. Returns false if no
// LLM matches.
func MatchLLMFromName(name string, llms []store.LLMConfiguration, excludeID string) (store.LLMConfiguration, bool) {
	idx := lookupIndex(llms)
	norm := strings.ToLower(strings.TrimSpace(name))
	llm, ok := idx[norm]
	if !ok || llm.ID == excludeID {
		return store.LLMConfiguration{}, false
	}
	return llm, true
}
