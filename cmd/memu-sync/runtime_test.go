package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionIDFor_StripsJSONLExtension(t *testing.T) {
	assert.Equal(t, "main", sessionIDFor(filepath.Join("/sessions", "main.jsonl")))
}

func TestSessionIDFor_StripsJSONExtension(t *testing.T) {
	assert.Equal(t, "abc123", sessionIDFor("/sessions/abc123.json"))
}

func TestSelfBinary_ReturnsNonEmptyPath(t *testing.T) {
	assert.NotEmpty(t, selfBinary())
}
