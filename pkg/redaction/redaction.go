// Package redaction masks API keys and tokens before they reach a log
// sink. memu-sync only ever logs file paths, session ids, and HTTP error
// bodies from the configured memory service — so the pattern set is
// narrowed to secrets those sources can plausibly leak, unlike a
// general-purpose PII redactor.
package redaction

import (
	"regexp"
	"strings"
	"sync"
)

// Config holds redaction configuration.
type Config struct {
	Enabled        bool     `json:"enabled"`
	CustomPatterns []string `json:"custom_patterns"`
	Replacement    string   `json:"replacement"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Replacement: "[REDACTED]",
	}
}

// Redactor masks secrets in log messages and structured fields.
type Redactor struct {
	config          Config
	compiledCustom  []*regexp.Regexp
	compiledBuiltin map[string]*regexp.Regexp
	mu              sync.RWMutex
}

func NewRedactor(config Config) *Redactor {
	r := &Redactor{
		config:          config,
		compiledBuiltin: make(map[string]*regexp.Regexp),
	}
	r.compileBuiltinPatterns()
	for _, pattern := range config.CustomPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			r.compiledCustom = append(r.compiledCustom, re)
		}
	}
	return r
}

func (r *Redactor) compileBuiltinPatterns() {
	r.compiledBuiltin["api_key"] = regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?secret)\s*[=:]\s*['"]?([a-zA-Z0-9_\-]{20,})['"]?`)
	r.compiledBuiltin["bearer_token"] = regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9_\-\.]{20,})`)
	r.compiledBuiltin["auth_token"] = regexp.MustCompile(`(?i)(auth[_-]?token|access[_-]?token|refresh[_-]?token)\s*[=:]\s*['"]?([a-zA-Z0-9_\-\.]{20,})['"]?`)
	r.compiledBuiltin["secret_key"] = regexp.MustCompile(`(?i)(secret[_-]?key|secretkey|private[_-]?key)\s*[=:]\s*['"]?([a-zA-Z0-9_\-]{20,})['"]?`)
	r.compiledBuiltin["openai_key"] = regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`)
	r.compiledBuiltin["anthropic_key"] = regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-]{20,}`)
	r.compiledBuiltin["jwt"] = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`)
	r.compiledBuiltin["json_secret"] = regexp.MustCompile(`"(?:api_key|apikey|secret|password|token)"\s*:\s*"([^"]+)"`)
}

// Redact applies all configured redaction rules to the input string.
func (r *Redactor) Redact(input string) string {
	if !r.config.Enabled {
		return input
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := r.redactPatterns(input,
		"api_key", "bearer_token", "auth_token", "secret_key",
		"openai_key", "anthropic_key", "jwt",
	)
	result = r.redactJSONSecrets(result)

	for _, re := range r.compiledCustom {
		result = re.ReplaceAllString(result, r.config.Replacement)
	}
	return result
}

func (r *Redactor) redactPatterns(input string, patternNames ...string) string {
	result := input
	for _, name := range patternNames {
		re, ok := r.compiledBuiltin[name]
		if !ok {
			continue
		}
		result = re.ReplaceAllStringFunc(result, func(match string) string {
			submatches := re.FindStringSubmatch(match)
			if len(submatches) > 1 {
				redacted := match
				for i := len(submatches) - 1; i >= 1; i-- {
					if submatches[i] != "" {
						redacted = strings.Replace(redacted, submatches[i], r.config.Replacement, 1)
					}
				}
				return redacted
			}
			return r.config.Replacement
		})
	}
	return result
}

func (r *Redactor) redactJSONSecrets(input string) string {
	re := r.compiledBuiltin["json_secret"]
	return re.ReplaceAllStringFunc(input, func(match string) string {
		submatches := re.FindStringSubmatch(match)
		if len(submatches) > 1 {
			return strings.Replace(match, submatches[1], r.config.Replacement, 1)
		}
		return match
	})
}

// RedactFields redacts sensitive values in a map, recursing into nested maps.
func (r *Redactor) RedactFields(fields map[string]any) map[string]any {
	if !r.config.Enabled {
		return fields
	}

	result := make(map[string]any, len(fields))
	for k, v := range fields {
		if r.isSensitiveKey(strings.ToLower(k)) {
			result[k] = r.config.Replacement
			continue
		}
		switch val := v.(type) {
		case string:
			result[k] = r.Redact(val)
		case map[string]any:
			result[k] = r.RedactFields(val)
		default:
			result[k] = v
		}
	}
	return result
}

func (r *Redactor) isSensitiveKey(key string) bool {
	for _, sk := range []string{
		"api_key", "apikey", "api_secret", "secret", "secret_key",
		"private_key", "token", "access_token", "refresh_token",
		"auth_token", "credential", "credentials",
	} {
		if strings.Contains(key, sk) {
			return true
		}
	}
	return false
}

func (r *Redactor) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.Enabled = enabled
}

func (r *Redactor) AddCustomPattern(pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.compiledCustom = append(r.compiledCustom, re)
	return nil
}

var globalRedactor = NewRedactor(DefaultConfig())

func Redact(input string) string { return globalRedactor.Redact(input) }

func RedactFields(fields map[string]any) map[string]any {
	return globalRedactor.RedactFields(fields)
}

func SetGlobalConfig(config Config) {
	globalRedactor = NewRedactor(config)
}
