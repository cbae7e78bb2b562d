package ingesterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	base := errors.New("boom")

	v := Validationf("unsupported extension %q", ".hwp")
	assert.True(t, IsValidation(v))
	assert.False(t, IsTransient(v))
	assert.Contains(t, v.Error(), ".hwp")

	x := fmt.Errorf("ingest: %w", Extraction("pdf", base))
	assert.True(t, IsExtraction(x))
	assert.ErrorIs(t, x, base)

	c := &ChunkingError{Reason: "no chunks"}
	assert.True(t, IsChunking(c))
	assert.False(t, IsExtraction(c))

	tr := fmt.Errorf("insert: %w", Transient("upsert", base))
	assert.True(t, IsTransient(tr))
	assert.ErrorIs(t, tr, base)
}

func TestTransientMessageIncludesAttempts(t *testing.T) {
	err := &TransientStoreError{Op: "upsert", Attempts: 3, Err: errors.New("unavailable")}
	assert.Equal(t, "upsert failed after 3 attempts: unavailable", err.Error())

	err = &TransientStoreError{Op: "embed", Err: errors.New("timeout")}
	assert.Equal(t, "embed: timeout", err.Error())
}
