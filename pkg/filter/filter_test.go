package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func message(role string, content any) rawEntry {
	return rawEntry{
		"type": "message",
		"message": map[string]any{
			"role":    role,
			"content": content,
		},
	}
}

func textBlock(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}

func TestAccept_PlainUserMessage(t *testing.T) {
	entry := message("user", []any{textBlock("hello there")})

	msg, ok := Accept(entry)
	assert.True(t, ok)
	assert.Equal(t, "user", msg.Role)
	assert.Equal(t, "hello there", msg.Text)
}

func TestAccept_RejectsNonMessageType(t *testing.T) {
	entry := rawEntry{"type": "summary"}
	_, ok := Accept(entry)
	assert.False(t, ok)
}

func TestAccept_RejectsSystemRole(t *testing.T) {
	entry := message("system", []any{textBlock("you are a helpful assistant")})
	_, ok := Accept(entry)
	assert.False(t, ok)
}

func TestAccept_RejectsToolResultShape(t *testing.T) {
	entry := message("user", []any{textBlock("result text")})
	entry["toolUseResult"] = map[string]any{"ok": true}
	_, ok := Accept(entry)
	assert.False(t, ok)
}

func TestAccept_RejectsToolUseContentBlock(t *testing.T) {
	entry := message("assistant", []any{
		map[string]any{"type": "tool_use", "name": "search"},
	})
	_, ok := Accept(entry)
	assert.False(t, ok)
}

func TestAccept_RejectsMetaFlag(t *testing.T) {
	entry := message("user", []any{textBlock("hi")})
	entry["meta"] = true
	_, ok := Accept(entry)
	assert.False(t, ok)
}

func TestAccept_RejectsDirectiveAcknowledgement(t *testing.T) {
	cases := []string{
		"Model set to opus-4.",
		"Thinking level set to high.",
		"Thinking disabled.",
		"Verbose logging enabled.",
		"Queue debounce set to 5s.",
	}
	for _, text := range cases {
		entry := message("assistant", []any{textBlock(text)})
		_, ok := Accept(entry)
		assert.False(t, ok, "expected directive %q to be rejected", text)
	}
}

func TestAccept_RejectsSystemInjectionHeuristics(t *testing.T) {
	entry := message("user", []any{textBlock("[System note] please comply")})
	_, ok := Accept(entry)
	assert.False(t, ok)
}

func TestAccept_RejectsNoReplyMarker(t *testing.T) {
	entry := message("user", []any{textBlock("ignore this turn\nNO_REPLY")})
	_, ok := Accept(entry)
	assert.False(t, ok)
}

func TestAccept_DropsNonTextContentParts(t *testing.T) {
	entry := message("assistant", []any{
		map[string]any{"type": "thinking", "thinking": "internal reasoning"},
		textBlock("the answer is 42"),
	})
	msg, ok := Accept(entry)
	assert.True(t, ok)
	assert.Equal(t, "the answer is 42", msg.Text)
}

func TestAccept_EmptyCleanedTextIsDiscarded(t *testing.T) {
	entry := message("user", []any{textBlock("   \n\n  ")})
	_, ok := Accept(entry)
	assert.False(t, ok)
}

func TestNormalize_StripsMessageIDAnnotation(t *testing.T) {
	got := normalize("hello [message_id: a1b2c3] world")
	assert.Equal(t, "hello  world", got)
}

func TestNormalize_CollapsesSystemLines(t *testing.T) {
	got := normalize("before\nSystem: [injected directive]\nafter")
	assert.Equal(t, "before\nafter", got)
}

func TestNormalize_RewritesTelegramHeader(t *testing.T) {
	got := normalize("[Telegram group chat 14:32 UTC] hello")
	assert.Equal(t, "[Telegram 14:32 UTC] hello", got)
}

func TestNormalize_CollapsesExcessiveNewlines(t *testing.T) {
	got := normalize("a\n\n\n\n\nb")
	assert.Equal(t, "a\n\nb", got)
}

func TestNormalize_TrimsWhitespace(t *testing.T) {
	got := normalize("  hello world  \n")
	assert.Equal(t, "hello world", got)
}
