package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHomePath(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{Admin, "/admin/dashboard"},
		{MinistryAdmin, "/ministry-admin/dashboard"},
		{Leader, "/leader/dashboard"},
		{Role("SOMETHING_ELSE"), "/leader/dashboard"},
		{Role(""), "/leader/dashboard"},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			assert.Equal(t, tt.want, HomePath(tt.role))
		})
	}
}

func TestParse(t *testing.T) {
	r, err := Parse("ministry-admin")
	require.NoError(t, err)
	assert.Equal(t, MinistryAdmin, r)

	r, err = Parse(" leader ")
	require.NoError(t, err)
	assert.Equal(t, Leader, r)

	_, err = Parse("pastor")
	assert.Error(t, err)
}

func TestSet(t *testing.T) {
	s := NewSet(Leader, Admin)
	assert.True(t, s.Contains(Admin))
	assert.True(t, s.Contains(Leader))
	assert.False(t, s.Contains(MinistryAdmin))
	assert.False(t, s.Empty())
	assert.Equal(t, []Role{Admin, Leader}, s.Roles())

	assert.True(t, NewSet().Empty())
	assert.True(t, Set{}.Empty())
	assert.False(t, Set{}.Contains(Admin))
}

func TestMinistryScoped(t *testing.T) {
	assert.False(t, Admin.MinistryScoped())
	assert.True(t, MinistryAdmin.MinistryScoped())
	assert.True(t, Leader.MinistryScoped())
}
