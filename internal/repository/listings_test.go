package repository

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNullableJSONReturnsNilForEmptyRaw(t *testing.T) {
	assert.Nil(t, nullableJSON(nil))
	assert.Nil(t, nullableJSON(json.RawMessage{}))
}

func TestNullableJSONPassesThroughNonEmptyRaw(t *testing.T) {
	raw := json.RawMessage(`{"a":1}`)
	got := nullableJSON(raw)
	assert.Equal(t, []byte(raw), got)
}
