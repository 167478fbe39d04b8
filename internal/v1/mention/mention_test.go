package mention

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roomforge/orchestrator/internal/v1/store"
)

func rooms() []store.LLMConfiguration {
	return []store.LLMConfiguration{
		{ID: "claude", DisplayName: "Claude"},
		{ID: "gemini", DisplayName: "Gemini"},
	}
}

func TestResolve_SingleMention(t *testing.T) {
	got := Resolve("Hey @Claude, what's up?", nil, rooms())
	assert.Len(t, got, 1)
	assert.Equal(t, "claude", got[0].ID)
}

func TestResolve_EveryoneFansOutInOrder(t *testing.T) {
	got := Resolve("@everyone please summarize", nil, rooms())
	assert.Len(t, got, 2)
	assert.Equal(t, "claude", got[0].ID)
	assert.Equal(t, "gemini", got[1].ID)
}

func TestResolve_ClientHintsAndTextMerge(t *testing.T) {
	got := Resolve("ask @Gemini too", []string{"claude"}, rooms())
	assert.Len(t, got, 2)
	assert.Equal(t, "claude", got[0].ID)
	assert.Equal(t, "gemini", got[1].ID)
}

func TestResolve_IsIdempotentForIdenticalInput(t *testing.T) {
	a := Resolve("@Claude @Gemini @Claude", []string{"claude"}, rooms())
	b := Resolve("@Claude @Gemini @Claude", []string{"claude"}, rooms())
	assert.Equal(t, a, b)
	assert.Len(t, a, 2)
}

func TestResolve_CJKAndHyphenatedNames(t *testing.T) {
	llms := []store.LLMConfiguration{{ID: "zh-bot", DisplayName: "助手"}}
	got := Resolve("你好 @助手 可以吗", nil, llms)
	assert.Len(t, got, 1)
	assert.Equal(t, "zh-bot", got[0].ID)
}

func TestMatchLLMFromName_ExcludesSelf(t *testing.T) {
	_, ok := MatchLLMFromName("Claude", rooms(), "claude")
	assert.False(t, ok)

	llm, ok := MatchLLMFromName("gemini", rooms(), "claude")
	assert.True(t, ok)
	assert.Equal(t, "gemini", llm.ID)
}

func TestNormalize_StripsPunctuationAndLowercases(t *testing.T) {
	assert.Equal(t, "claude", Normalize("@Claude."))
	assert.Equal(t, "claude", Normalize("@Claude,"))
}
