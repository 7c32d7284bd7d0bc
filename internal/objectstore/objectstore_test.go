package objectstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "abc123/original.pdf", PDFKey("abc123", "pdf"))
	assert.Equal(t, "abc123/page_001.png", PageKey("abc123", 1))
	assert.Equal(t, "abc123/page_042.png", PageKey("abc123", 42))
	assert.Equal(t, "abc123.csv", CSVKey("abc123"))
}

func TestIsNotFound_PlainError(t *testing.T) {
	assert.False(t, isNotFound(errors.New("some unrelated failure")))
}

func TestIsNotFound_MessageFallback(t *testing.T) {
	assert.True(t, isNotFound(errors.New("key does not exist")))
}
