// Package filter implements the Content Filter of spec.md §4.4: it
// accepts only user/assistant message entries, rejects tool-call and
// system-injected shapes, strips directive-acknowledgement chatter, and
// normalizes surviving text. Rule data is kept as a table rather than a
// class hierarchy, per spec.md §9 "Polymorphism" — the same texture as
// the reference pack's redaction pattern table in pkg/redaction.
package filter

import (
	"regexp"
	"strings"
)

// Message is the normalized, role-bearing record the Part Writer (C5)
// consumes. Role is always "user" or "assistant".
type Message struct {
	Role string
	Text string
}

// directivePatterns are the assistant-side acknowledgement templates
// enumerated in spec.md §6, matched against the full cleaned text of a
// single assistant turn. They use dotall mode only: ^ and $ anchor the
// start and end of the whole text, not of individual lines, so a
// directive on a later line of a longer turn does not match.
var directivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)^Model set to .+\.$`),
	regexp.MustCompile(`(?s)^Model reset to default .+\.$`),
	regexp.MustCompile(`(?s)^Thinking level set to .+\.$`),
	regexp.MustCompile(`(?s)^Thinking disabled\.$`),
	regexp.MustCompile(`(?s)^Verbose logging (enabled|disabled|set to .+)\.$`),
	regexp.MustCompile(`(?s)^Reasoning (visibility|stream) (enabled|disabled)\.$`),
	regexp.MustCompile(`(?s)^Elevated mode (disabled|set to .+)\.$`),
	regexp.MustCompile(`(?s)^Queue mode (set to .+|reset to default)\.$`),
	regexp.MustCompile(`(?s)^Queue debounce set to .+\.$`),
	regexp.MustCompile(`(?s)^Auth profile set to .+\.$`),
	regexp.MustCompile(`(?s)^Exec defaults set .+\.$`),
	regexp.MustCompile(`(?s)^Current: .+\n\nSwitch: /model`),
}

// injectionPatterns are the user-side system-injection heuristics of
// spec.md §4.4: a leading system-prefix bracket, a NO_REPLY tail
// marker, session-continuation sentinels, and tool-invocation
// templates disguised as user text.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)^\[System[^\]]*\]`),
	regexp.MustCompile(`(?s)NO_REPLY\s*$`),
	regexp.MustCompile(`(?i)^\[session (resumed|continued)[^\]]*\]`),
	regexp.MustCompile(`(?i)^Call the tool \S+ with\b`),
}

var (
	messageIDPattern   = regexp.MustCompile(`\[message_id:\s*[0-9a-fA-F]+\]`)
	systemLinePattern  = regexp.MustCompile(`(?m)^System: \[.*\]\s*$\n?`)
	compactionPattern  = regexp.MustCompile(`(?mi)^.*conversation (was|has been) compacted.*$\n?`)
	telegramHeader     = regexp.MustCompile(`\[Telegram[^\]]*?(\d{1,2}:\d{2})\s+([A-Za-z/_+\-0-9]+)\]`)
	excessiveNewlines  = regexp.MustCompile(`\n{3,}`)
)

// rawEntry is the subset of tailer.Entry.Parsed fields the filter
// inspects. It is decoded ad hoc from map[string]any rather than a
// fixed struct because the upstream log carries many entry types the
// filter never needs (tool defs, hook output, …).
type rawEntry = map[string]any

// Accept decides whether a tailed JSONL entry survives into the
// transcript, and if so returns its cleaned, role-bearing form.
func Accept(entry rawEntry) (Message, bool) {
	if asString(entry["type"]) != "message" {
		return Message{}, false
	}
	if _, hasMeta := entry["meta"]; hasMeta {
		if truthy(entry["meta"]) {
			return Message{}, false
		}
	}

	msg, ok := entry["message"].(map[string]any)
	if !ok {
		return Message{}, false
	}

	role := asString(msg["role"])
	if role != "user" && role != "assistant" {
		return Message{}, false
	}

	if isToolShape(entry, msg) {
		return Message{}, false
	}

	text := extractText(msg["content"])
	text = normalize(text)
	if text == "" {
		return Message{}, false
	}

	if role == "user" && matchesAny(injectionPatterns, text) {
		return Message{}, false
	}
	if role == "assistant" && matchesAny(directivePatterns, text) {
		return Message{}, false
	}

	return Message{Role: role, Text: text}, true
}

// isToolShape rejects entries carrying tool-result fields or
// tool-invocation linkage, per spec.md §4.4.
func isToolShape(entry, msg rawEntry) bool {
	if _, ok := entry["tool_use_id"]; ok {
		return true
	}
	if _, ok := entry["toolUseResult"]; ok {
		return true
	}
	if _, ok := msg["tool_call_id"]; ok {
		return true
	}
	if calls, ok := msg["tool_calls"]; ok && truthy(calls) {
		return true
	}
	if parts, ok := msg["content"].([]any); ok {
		for _, p := range parts {
			block, ok := p.(map[string]any)
			if !ok {
				continue
			}
			switch asString(block["type"]) {
			case "tool_use", "tool_result":
				return true
			}
		}
	}
	return false
}

// extractText concatenates content[] entries of type "text"; tool
// calls, thinking blocks, images, and any other part shapes are
// dropped silently (spec.md §4.4).
func extractText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var b strings.Builder
		for _, p := range v {
			block, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if asString(block["type"]) != "text" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(asString(block["text"]))
		}
		return b.String()
	default:
		return ""
	}
}

// normalize applies the six-step cleanup pipeline of spec.md §4.4.
func normalize(text string) string {
	text = messageIDPattern.ReplaceAllString(text, "")
	text = systemLinePattern.ReplaceAllString(text, "")
	text = compactionPattern.ReplaceAllString(text, "")
	text = telegramHeader.ReplaceAllString(text, "[Telegram $1 $2]")
	text = excessiveNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case float64:
		return t != 0
	default:
		return v != nil
	}
}
