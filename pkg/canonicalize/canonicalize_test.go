package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	b, err := Marshal(map[string]any{"z": 1, "a": 2, "m": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"m":3,"z":1}`, string(b))
}

func TestMarshalRespectsJSONTags(t *testing.T) {
	type rec struct {
		B string `json:"beta"`
		A string `json:"alpha"`
	}
	b, err := Marshal(rec{A: "1", B: "2"})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"1","beta":"2"}`, string(b))
}

func TestMarshalNoHTMLEscaping(t *testing.T) {
	b, err := Marshal(map[string]string{"k": "a<b>&c"})
	require.NoError(t, err)
	assert.Contains(t, string(b), "a<b>&c")
}

func TestHashDeterministic(t *testing.T) {
	v := map[string]any{"agent": "a-1", "weight": 2.5, "decision": "approve"}
	h1, err := Hash(v)
	require.NoError(t, err)
	h2, err := Hash(v)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashSensitiveToValue(t *testing.T) {
	h1, err := Hash(map[string]any{"weight": 1})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"weight": 2})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
