package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/stackhome/service/stacking"
)

func TestReadStatusVector(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    stacking.HomeCardState
		wantErr string
	}{
		{
			name:  "json below minimum",
			input: `{"balance": 5000000, "minimum_required": 10000000, "delegated": false, "stacker_info": {"status": "not-started"}}`,
			want:  stacking.NotEnoughStx,
		},
		{
			name: "yaml eligible",
			input: `
balance: 20000000
minimum_required: 10000000
delegated: false
stacker_info:
  status: not-started
`,
			want: stacking.EligibleToParticipate,
		},
		{
			name: "yaml pre-cycle",
			input: `
balance: 1
delegated: true
stacker_info:
  status: pre-cycle
  blocks_until_stacking_cycle_begins: 42
`,
			want: stacking.StackingPreCycle,
		},
		{
			name: "stacker feed error",
			input: `
balance: 1
delegated: false
errors:
  stacker_info: true
`,
			want: stacking.StackingError,
		},
		{
			name:  "nothing loaded",
			input: `{}`,
			want:  stacking.LoadingResources,
		},
		{
			name:    "empty input",
			input:   "  \n",
			wantErr: "empty",
		},
		{
			name:    "unknown field",
			input:   `{"balanse": 1}`,
			wantErr: "invalid status vector",
		},
		{
			name:    "unknown stacker status",
			input:   `{"stacker_info": {"status": "stacking"}}`,
			wantErr: "unknown stacker status",
		},
		{
			name:    "negative balance",
			input:   `balance: -1`,
			wantErr: "invalid status vector",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vector, err := readStatusVector(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, stacking.Classify(vector))
		})
	}
}

func TestClassifyCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vector.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
balance: 5
minimum_required: 10
delegated: false
stacker_info:
  status: active
`), 0o644))

	t.Run("human", func(t *testing.T) {
		out, err := runApp(t, "classify", path)
		require.NoError(t, err)
		assert.Equal(t, "StackingActive\n", out)
	})

	t.Run("json", func(t *testing.T) {
		out, err := runApp(t, "--json", "classify", path)
		require.NoError(t, err)

		var result struct {
			CardState    string `json:"card_state"`
			StillLoading bool   `json:"still_loading"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.Equal(t, "StackingActive", result.CardState)
		assert.False(t, result.StillLoading)
	})

	t.Run("yaml", func(t *testing.T) {
		out, err := runApp(t, "--yaml", "classify", path)
		require.NoError(t, err)
		assert.Contains(t, out, "card_state: StackingActive")
		assert.Contains(t, out, "still_loading: false")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := runApp(t, "classify", filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open status vector")
	})
}
