package doc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    map[string]any
		wantErr bool
	}{
		{
			name: "mixed values",
			args: []string{"status=submitted", "owner=Dr. Lee", "priority=2", "urgent=true", `note="42"`, "reviewer=null"},
			want: map[string]any{
				"status":   "submitted",
				"owner":    "Dr. Lee",
				"priority": float64(2),
				"urgent":   true,
				"note":     "42",
				"reviewer": nil,
			},
		},
		{name: "value with equals", args: []string{"expr=a=b"}, want: map[string]any{"expr": "a=b"}},
		{name: "empty value", args: []string{"status="}, want: map[string]any{"status": ""}},
		{name: "missing equals", args: []string{"status"}, wantErr: true},
		{name: "empty key", args: []string{"=x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAssignments(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
