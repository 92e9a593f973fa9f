package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Absent, KindOf(nil))
	assert.Equal(t, String, KindOf(""))
	assert.Equal(t, Number, KindOf(uint8(1)))
	assert.Equal(t, Number, KindOf(json.Number("1.5")))
	assert.Equal(t, Bool, KindOf(false))
	assert.Equal(t, Other, KindOf(map[string]any{}))

	_, k := Lookup(map[string]any{"a": 1}, "b")
	assert.Equal(t, Absent, k)
	assert.Equal(t, "number", Number.String())
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{3, 3, true},
		{" 2.5 ", 2.5, true},
		{"abc", 0, false},
		{"NaN", 0, false},
		{true, 0, false},
		{nil, 0, false},
		{json.Number("4"), 4, true},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}

func TestAsString(t *testing.T) {
	assert.Equal(t, "", AsString(nil))
	assert.Equal(t, "3", AsString(3.0))
	assert.Equal(t, "0.25", AsString(float32(0.25)))
	assert.Equal(t, "true", AsString(true))
	assert.Equal(t, "a,1", AsString([]any{"a", 1}))
	assert.Equal(t, "x,y", AsString([]string{"x", "y"}))
	assert.Equal(t, `{"k":"v"}`, AsString(map[string]any{"k": "v"}))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(1, 1.0))
	assert.True(t, Equal("a", "a"))
	assert.False(t, Equal("1", 1))
	assert.False(t, Equal(map[string]any{}, map[string]any{}))
}
