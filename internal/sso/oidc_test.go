package sso

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractGroupsPlainArray(t *testing.T) {
	groups := extractGroups(map[string]any{
		"groups": []any{"Engineering", "  Sales "},
	})
	assert.ElementsMatch(t, []string{"engineering", "sales"}, groups)
}

func TestExtractGroupsClaimKeys(t *testing.T) {
	tests := []struct {
		name   string
		claims map[string]any
		want   []string
	}{
		{
			name:   "roles array",
			claims: map[string]any{"roles": []any{"admin"}},
			want:   []string{"admin"},
		},
		{
			name:   "singular role",
			claims: map[string]any{"role": "viewer"},
			want:   []string{"viewer"},
		},
		{
			name:   "vendor prefixed",
			claims: map[string]any{"cognito:roles": []any{"ops"}},
			want:   []string{"ops"},
		},
		{
			name:   "unrelated claims ignored",
			claims: map[string]any{"email": "a@acme.com", "aud": []any{"client"}},
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, extractGroups(tt.claims))
		})
	}
}

func TestExtractGroupsSpaceSeparatedString(t *testing.T) {
	groups := extractGroups(map[string]any{"groups": "eng sales"})
	assert.ElementsMatch(t, []string{"eng", "sales"}, groups)
}

func TestExtractGroupsObjectValues(t *testing.T) {
	// Azure-style objects carrying a name field.
	groups := extractGroups(map[string]any{
		"groups": []any{
			map[string]any{"name": "Engineering", "id": "guid-1"},
		},
	})
	assert.Contains(t, groups, "engineering")
}

func TestExtractGroupsDeduplicates(t *testing.T) {
	groups := extractGroups(map[string]any{
		"groups": []any{"eng", "ENG", " eng "},
	})
	assert.Equal(t, []string{"eng"}, groups)
}
