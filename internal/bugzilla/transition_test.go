package bugzilla

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransition(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		value   string
		want    []Change
		wantErr bool
	}{
		{
			name:   "single field",
			action: "status",
			value:  "RESOLVED",
			want:   []Change{{Field: "status", Value: "RESOLVED"}},
		},
		{
			name:   "chain",
			action: "status/resolution",
			value:  "RESOLVED/FIXED",
			want: []Change{
				{Field: "status", Value: "RESOLVED"},
				{Field: "resolution", Value: "FIXED"},
			},
		},
		{
			name:   "field names are case-insensitive",
			action: "Status/RESOLUTION",
			value:  "RESOLVED/DUPLICATE",
			want: []Change{
				{Field: "status", Value: "RESOLVED"},
				{Field: "resolution", Value: "DUPLICATE"},
			},
		},
		{name: "more values than fields", action: "status", value: "RESOLVED/FIXED", wantErr: true},
		{name: "more fields than values", action: "status/resolution", value: "RESOLVED", wantErr: true},
		{name: "unknown field", action: "priority", value: "P1", wantErr: true},
		{name: "empty value in chain", action: "status/resolution", value: "RESOLVED/", wantErr: true},
		{name: "field repeated", action: "status/status", value: "NEW/RESOLVED", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := ParseTransition(tt.action, tt.value)
			if tt.wantErr {
				var ite *InvalidTransitionError
				require.ErrorAs(t, err, &ite)
				assert.Equal(t, tt.action, ite.Action)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, tr.Changes())
			assert.Equal(t, len(tt.want), tr.Len())
		})
	}
}

func TestTransitionIsImmutable(t *testing.T) {
	tr, err := ParseTransition("status/resolution", "RESOLVED/FIXED")
	require.NoError(t, err)

	changes := tr.Changes()
	changes[0].Value = "NEW"

	assert.Equal(t, "RESOLVED", tr.Changes()[0].Value)
	assert.Equal(t, "status=RESOLVED, resolution=FIXED", tr.String())
}

func TestTransitionUpdateParams(t *testing.T) {
	tr, err := ParseTransition("status/resolution", "RESOLVED/FIXED")
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"ids":        []int{42},
		"status":     "RESOLVED",
		"resolution": "FIXED",
	}, tr.updateParams(42))
}
