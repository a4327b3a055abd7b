package role_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/rolerag/pkg/errs"
	"github.com/xhad/rolerag/pkg/role"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    role.Role
		wantErr bool
	}{
		{"engineer", "engineer", role.Engineer, false},
		{"hr", "hr", role.HR, false},
		{"intern", "intern", role.Intern, false},
		{"public", "public", role.Public, false},
		{"empty", "", "", true},
		{"unknown", "superadmin", "", true},
		{"upper case", "Engineer", "", true},
		{"all caps", "HR", "", true},
		{"padded", " public", "", true},
		{"trailing newline", "intern\n", "", true},
		{"sql", "public' OR '1'='1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := role.Validate(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errs.ErrInvalidRole)
				assert.True(t, errs.HasCode(err, errs.CodeInvalidRole))
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAllIsCopy(t *testing.T) {
	roles := role.All()
	require.Len(t, roles, 4)
	roles[0] = "root"
	assert.Equal(t, role.Engineer, role.All()[0])
	assert.Equal(t, "engineer, hr, intern, public", role.Join(", "))
}

func TestValidateSet(t *testing.T) {
	set, err := role.ValidateSet([]string{"hr", "engineer", "hr"})
	require.NoError(t, err)
	assert.Equal(t, []role.Role{role.HR, role.Engineer}, set)

	_, err = role.ValidateSet(nil)
	assert.ErrorIs(t, err, errs.ErrInvalidDocument)

	_, err = role.ValidateSet([]string{"engineer", "contractor"})
	assert.ErrorIs(t, err, errs.ErrInvalidDocument)
}

func TestContains(t *testing.T) {
	set := []role.Role{role.Engineer, role.Intern}
	assert.True(t, role.Contains(set, role.Intern))
	assert.False(t, role.Contains(set, role.Public))
	assert.False(t, role.Contains(nil, role.Public))
	assert.True(t, role.Public.IsValid())
	assert.False(t, role.Role("admin").IsValid())
}

func TestValidateTruncatesOnRuneBoundary(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"short kept", "admin", "admin"},
		{"ascii cut", strings.Repeat("a", 40), strings.Repeat("a", 32) + "..."},
		{"multibyte straddles limit", strings.Repeat("a", 31) + "éééé", strings.Repeat("a", 31) + "..."},
		{"all multibyte", strings.Repeat("日", 20), strings.Repeat("日", 10) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := role.Validate(tt.input)
			require.Error(t, err)

			got, ok := errs.FieldsOf(err)["role"].(string)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
