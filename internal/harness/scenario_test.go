package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: minimal
description: "connect only"
flow:
  - action: connect
`))
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, DefaultWallet, s.Wallet)
	require.Len(t, s.Flow, 1)
	assert.Equal(t, ActionConnect, s.Flow[0].Action)
}

func TestParseScenario_Expect(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: expect
description: "expect clauses"
flow:
  - action: check
    args: { property: "1 Elm St" }
    expect: { exists: true, state: Idle }
  - action: submit
    args: { property: "1 Elm St" }
    expect: { code: NOT_CONNECTED }
`))
	require.NoError(t, err)
	require.NotNil(t, s.Flow[0].Expect.Exists)
	assert.True(t, *s.Flow[0].Expect.Exists)
	assert.Equal(t, "Idle", s.Flow[0].Expect.State)
	assert.Nil(t, s.Flow[1].Expect.Exists)
	assert.Equal(t, "NOT_CONNECTED", s.Flow[1].Expect.Code)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nflow:\n  - action: connect\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nflow:\n  - action: connect\n",
			wantErr: "description is required",
		},
		{
			name:    "empty flow",
			yaml:    "name: n\ndescription: d\nflow: []\n",
			wantErr: "flow list is required",
		},
		{
			name:    "unknown field",
			yaml:    "name: n\ndescription: d\nflows:\n  - action: connect\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "unknown action",
			yaml:    "name: n\ndescription: d\nflow:\n  - action: teleport\n",
			wantErr: `unknown action "teleport"`,
		},
		{
			name:    "submit without property",
			yaml:    "name: n\ndescription: d\nflow:\n  - action: submit\n",
			wantErr: "property is required",
		},
		{
			name:    "bad financier",
			yaml:    "name: n\ndescription: d\nflow:\n  - action: register_external\n    args: { property: p, financier: bob }\n",
			wantErr: "is not an address",
		},
		{
			name:    "bad wallet",
			yaml:    "name: n\ndescription: d\nwallet: nobody\nflow:\n  - action: connect\n",
			wantErr: "is not an address",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: n\ndescription: d\nflow:\n  - action: connect\nassertions:\n  - type: vibes\n",
			wantErr: `unknown assertion type "vibes"`,
		},
		{
			name:    "final_phase without phase",
			yaml:    "name: n\ndescription: d\nflow:\n  - action: connect\nassertions:\n  - type: final_phase\n",
			wantErr: "phase is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: f\ndescription: d\nflow:\n  - action: disconnect\n"), 0o600))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "f", s.Name)
}
