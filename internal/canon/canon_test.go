package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeys(t *testing.T) {
	type doc struct {
		Zeta  int            `json:"zeta"`
		Alpha map[string]any `json:"alpha"`
	}

	data, err := Marshal(doc{Zeta: 1, Alpha: map[string]any{"b": 2, "a": "<x>"}})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":"<x>","b":2},"zeta":1}`, string(data))
}

func TestHash_OrderIndependent(t *testing.T) {
	h1, err := Hash(map[string]any{"task": "a:build", "inputs": map[string]string{"x": "1", "y": "2"}})
	require.NoError(t, err)

	h2, err := Hash(struct {
		Inputs map[string]string `json:"inputs"`
		Task   string            `json:"task"`
	}{Inputs: map[string]string{"y": "2", "x": "1"}, Task: "a:build"})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	h3, err := Hash(map[string]any{"task": "a:build", "inputs": map[string]string{"x": "1", "y": "3"}})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestHash_LargeNumbersSurvive(t *testing.T) {
	h1, err := Hash(map[string]int64{"n": 9007199254740993})
	require.NoError(t, err)
	h2, err := Hash(map[string]int64{"n": 9007199254740992})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestMarshal_Unsupported(t *testing.T) {
	_, err := Marshal(map[string]any{"f": func() {}})
	assert.Error(t, err)
}
