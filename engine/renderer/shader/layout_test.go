package shader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutValidate(t *testing.T) {
	ok := ConstantBufferLayout{Name: "CB", Size: 32, Variables: []Variable{
		{"A", 0, 4}, {"B", 4, 12}, {"C", 16, 16},
	}}
	require.NoError(t, ok.Validate())

	tests := []struct {
		name   string
		layout ConstantBufferLayout
	}{
		{"overlap", ConstantBufferLayout{Name: "CB", Size: 16, Variables: []Variable{{"A", 0, 8}, {"B", 4, 4}}}},
		{"descending", ConstantBufferLayout{Name: "CB", Size: 16, Variables: []Variable{{"A", 8, 4}, {"B", 0, 4}}}},
		{"past end", ConstantBufferLayout{Name: "CB", Size: 8, Variables: []Variable{{"A", 4, 8}}}},
		{"negative size", ConstantBufferLayout{Name: "CB", Size: 8, Variables: []Variable{{"A", 0, -1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.layout.Validate(), ErrPackingMismatch)
		})
	}
}

func TestLayoutVariableLookup(t *testing.T) {
	l := ConstantBufferLayout{Variables: []Variable{{"exposure", 0, 4}, {"isHDR", 4, 4}}}

	v, ok := l.Variable("isHDR")
	require.True(t, ok)
	assert.Equal(t, 4, v.Offset)

	_, ok = l.Variable("gamma")
	assert.False(t, ok)
}
