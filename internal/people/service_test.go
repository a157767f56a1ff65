package people

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/flock-dev/flock/internal/database"
	"github.com/flock-dev/flock/internal/models"
)

const (
	graceChapel = "01HGRACECHAPEL000000000000"
	hopeHouse   = "01HHOPEHOUSE00000000000000"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return NewService(db, zerolog.Nop()), db
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("new-members")
	require.NoError(t, err)
	assert.Equal(t, NewMembers, k)

	_, err = ParseKind("visitors")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestCreateAndGet_NormalizesInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, Converts, graceChapel, Input{
		FirstName: "  mary  ",
		LastName:  "MAGDALENE",
		Email:     " Mary@Example.COM ",
		Phone:     "+1 (555) 010-2000",
	})
	require.NoError(t, err)

	got, err := svc.Get(ctx, Converts, Scope{MinistryID: graceChapel}, rec.GetID())
	require.NoError(t, err)
	convert := got.(*models.Convert)
	assert.Equal(t, "Mary", convert.FirstName)
	assert.Equal(t, "Magdalene", convert.LastName)
	assert.Equal(t, "mary@example.com", convert.Email)
	assert.Equal(t, "+15550102000", convert.Phone)
	assert.Equal(t, "service", convert.Source)
	assert.False(t, convert.DecisionDate.IsZero())
}

func TestCreate_RequiresMinistry(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Create(context.Background(), Guests, "", Input{FirstName: "Zacchaeus"})
	assert.ErrorIs(t, err, ErrMinistryRequired)
}

func TestScopeIsolatesMinistries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, Guests, graceChapel, Input{FirstName: "Lydia"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, Guests, Scope{MinistryID: hopeHouse}, rec.GetID())
	assert.ErrorIs(t, err, ErrNotFound)

	err = svc.Delete(ctx, Guests, Scope{MinistryID: hopeHouse}, rec.GetID())
	assert.ErrorIs(t, err, ErrNotFound)

	// Platform scope sees everything
	_, err = svc.Get(ctx, Guests, Scope{}, rec.GetID())
	assert.NoError(t, err)
}

func TestList_SearchAndPaging(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"Peter", "Andrew", "James", "John", "Philip"} {
		_, err := svc.Create(ctx, Members, graceChapel, Input{FirstName: name, LastName: "Galilee"})
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, Members, hopeHouse, Input{FirstName: "Paul"})
	require.NoError(t, err)

	out, total, err := svc.List(ctx, Members, Scope{MinistryID: graceChapel}, ListParams{})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Len(t, *out.(*[]models.Member), 5)

	out, total, err = svc.List(ctx, Members, Scope{MinistryID: graceChapel}, ListParams{Query: "jo"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "John", (*out.(*[]models.Member))[0].FirstName)

	out, total, err = svc.List(ctx, Members, Scope{MinistryID: graceChapel}, ListParams{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Len(t, *out.(*[]models.Member), 1)

	_, total, err = svc.List(ctx, Members, Scope{}, ListParams{})
	require.NoError(t, err)
	assert.EqualValues(t, 6, total)
}

func TestList_SearchMatchesWildcardsLiterally(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, Guests, graceChapel, Input{FirstName: "Rhoda", Email: "rhoda_m@example.org"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Guests, graceChapel, Input{FirstName: "Mary", Email: "mary@example.org"})
	require.NoError(t, err)

	tests := []struct {
		query string
		want  []string
	}{
		{"%", nil},
		{"_", []string{"Rhoda"}},
		{"a_m", []string{"Rhoda"}},
		{`\`, nil},
		{"mary", []string{"Mary"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			out, total, err := svc.List(ctx, Guests, Scope{MinistryID: graceChapel}, ListParams{Query: tt.query})
			require.NoError(t, err)
			var got []string
			for _, g := range *out.(*[]models.Guest) {
				got = append(got, g.FirstName)
			}
			assert.Equal(t, tt.want, got)
			assert.EqualValues(t, len(tt.want), total)
		})
	}
}

func TestUpdate_Patch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	scope := Scope{MinistryID: graceChapel}

	rec, err := svc.Create(ctx, Members, graceChapel, Input{FirstName: "Thomas", Email: "thomas@example.com"})
	require.NoError(t, err)

	inactive := false
	phone := "555 0100"
	updated, err := svc.Update(ctx, Members, scope, rec.GetID(), Patch{Active: &inactive, Phone: &phone})
	require.NoError(t, err)

	member := updated.(*models.Member)
	assert.False(t, member.Active)
	assert.Equal(t, "5550100", member.Phone)
	assert.Equal(t, "thomas@example.com", member.Email)

	reloaded, err := svc.Get(ctx, Members, scope, rec.GetID())
	require.NoError(t, err)
	assert.False(t, reloaded.(*models.Member).Active)
}

func TestDelete_CancelsOpenFollowUps(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	scope := Scope{MinistryID: graceChapel}

	rec, err := svc.Create(ctx, Converts, graceChapel, Input{FirstName: "Cornelius"})
	require.NoError(t, err)

	fu := models.FollowUp{
		Tenant:     models.Tenant{MinistryID: graceChapel},
		PersonKind: string(Converts),
		PersonID:   rec.GetID(),
		DueAt:      time.Now().Add(time.Hour),
		Channel:    models.ChannelAuto,
		Status:     models.FollowUpPending,
	}
	require.NoError(t, db.Create(&fu).Error)

	require.NoError(t, svc.Delete(ctx, Converts, scope, rec.GetID()))

	_, err = svc.Get(ctx, Converts, scope, rec.GetID())
	assert.ErrorIs(t, err, ErrNotFound)

	var reloaded models.FollowUp
	require.NoError(t, db.First(&reloaded, "id = ?", fu.ID).Error)
	assert.Equal(t, models.FollowUpCancelled, reloaded.Status)
}

func TestPromote(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	scope := Scope{MinistryID: graceChapel}

	rec, err := svc.Create(ctx, NewMembers, graceChapel, Input{FirstName: "Timothy", Email: "tim@example.com"})
	require.NoError(t, err)

	member, err := svc.Promote(ctx, scope, rec.GetID())
	require.NoError(t, err)
	assert.Equal(t, "Timothy", member.FirstName)
	assert.Equal(t, graceChapel, member.MinistryID)
	assert.True(t, member.Active)

	var nm models.NewMember
	require.NoError(t, db.First(&nm, "id = ?", rec.GetID()).Error)
	require.NotNil(t, nm.MemberID)
	assert.Equal(t, member.ID, *nm.MemberID)

	_, err = svc.Promote(ctx, scope, rec.GetID())
	assert.ErrorIs(t, err, ErrAlreadyPromoted)

	_, err = svc.Promote(ctx, Scope{MinistryID: hopeHouse}, rec.GetID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, Converts, graceChapel, Input{FirstName: "A"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Guests, graceChapel, Input{FirstName: "B"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Guests, hopeHouse, Input{FirstName: "C"})
	require.NoError(t, err)

	c, err := svc.Count(ctx, Scope{MinistryID: graceChapel})
	require.NoError(t, err)
	assert.Equal(t, Counts{Converts: 1, Guests: 1}, c)

	c, err = svc.Count(ctx, Scope{})
	require.NoError(t, err)
	assert.Equal(t, Counts{Converts: 1, Guests: 2}, c)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "Mary Jane", NormalizeName("  mary   jane "))
	assert.Equal(t, "McDonald", NormalizeName("McDonald"))
	assert.Equal(t, "Obi", NormalizeName("OBI"))
	assert.Equal(t, "", NormalizeName("   "))
}
