package testutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRNGDeterminism(t *testing.T) {
	a := NewRNG(42)
	b := NewRNG(42)

	assert.Equal(t, a.Body(128), b.Body(128))
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, int64(42), a.Seed())
}

func TestRNGReset(t *testing.T) {
	r := NewRNG(7)
	first := r.Body(64)
	r.Reset()
	assert.True(t, bytes.Equal(first, r.Body(64)))
}

func TestKeyShape(t *testing.T) {
	k := NewRNG(1).Key()
	assert.Len(t, k, 9)
	assert.Equal(t, byte('/'), k[0])
}
