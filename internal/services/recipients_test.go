package services

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/huangang/taskreport/internal/models"
)

type fakeDirectory struct {
	leaders map[uint][]uint
	members map[uint][]uint
	users   map[uint]models.User
	err     error
}

func (f *fakeDirectory) collect(src map[uint][]uint, teamIDs []uint) ([]uint, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []uint
	for _, id := range teamIDs {
		out = append(out, src[id]...)
	}
	return out, nil
}

func (f *fakeDirectory) TeamLeaders(_ context.Context, teamIDs []uint) ([]uint, error) {
	return f.collect(f.leaders, teamIDs)
}

func (f *fakeDirectory) TeamMembers(_ context.Context, teamIDs []uint) ([]uint, error) {
	return f.collect(f.members, teamIDs)
}

func (f *fakeDirectory) Teams(_ context.Context, teamIDs []uint) ([]models.Team, error) {
	var out []models.Team
	for _, id := range teamIDs {
		out = append(out, models.Team{ID: id})
	}
	return out, nil
}

func (f *fakeDirectory) Users(_ context.Context, userIDs []uint) ([]models.User, error) {
	var out []models.User
	for _, id := range userIDs {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func TestRecipientResolver_ResolveUserIDs(t *testing.T) {
	dir := &fakeDirectory{
		leaders: map[uint][]uint{1: {7}, 2: {9}},
		members: map[uint][]uint{1: {7, 3, 5}, 2: {9, 5}},
	}
	r := NewRecipientResolver(dir)

	tests := []struct {
		name string
		cfg  models.ReportMailConfiguration
		want []uint
	}{
		{
			name: "master recipient who leads a scoped team appears once",
			cfg:  models.ReportMailConfiguration{MasterRecipients: []uint{7}, ReportingTeams: []uint{1}, ReportToTeamLeads: true},
			want: []uint{7},
		},
		{
			name: "masters only",
			cfg:  models.ReportMailConfiguration{MasterRecipients: []uint{4, 2}, ReportingTeams: []uint{1}},
			want: []uint{2, 4},
		},
		{
			name: "leads and members of two teams",
			cfg: models.ReportMailConfiguration{
				MasterRecipients: []uint{1}, ReportingTeams: []uint{1, 2},
				ReportToTeamLeads: true, ReportToTeamMembers: true,
			},
			want: []uint{1, 3, 5, 7, 9},
		},
		{
			name: "nothing configured",
			cfg:  models.ReportMailConfiguration{ReportToTeamLeads: true},
			want: []uint{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveUserIDs(context.Background(), &tt.cfg)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ResolveUserIDs() = %v, expected %v", got, tt.want)
			}
		})
	}
}

func TestRecipientResolver_DirectoryError(t *testing.T) {
	r := NewRecipientResolver(&fakeDirectory{err: errors.New("db down")})
	cfg := models.ReportMailConfiguration{ReportingTeams: []uint{1}, ReportToTeamMembers: true}
	if _, err := r.ResolveUserIDs(context.Background(), &cfg); err == nil {
		t.Error("expected directory error to propagate")
	}
}

func TestRecipientResolver_Resolve(t *testing.T) {
	dir := &fakeDirectory{
		members: map[uint][]uint{1: {2, 3, 4, 5}},
		users: map[uint]models.User{
			1: {ID: 1, Login: "boss", Email: "boss@example.com", IsActive: true},
			2: {ID: 2, Login: "dup", Email: "BOSS@example.com", IsActive: true},
			3: {ID: 3, Login: "nomail", IsActive: true},
			4: {ID: 4, Login: "gone", Email: "gone@example.com", IsActive: false},
			5: {ID: 5, Login: "dev", FullName: "Dev One", Email: " dev@example.com ", IsActive: true},
		},
	}
	cfg := models.ReportMailConfiguration{Name: "team", MasterRecipients: []uint{1}, ReportingTeams: []uint{1}, ReportToTeamMembers: true}

	got, err := NewRecipientResolver(dir).Resolve(context.Background(), &cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := []Recipient{
		{UserID: 1, Name: "boss", Email: "boss@example.com"},
		{UserID: 5, Name: "Dev One", Email: "dev@example.com"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Resolve() = %+v, expected %+v", got, want)
	}
	if addrs := Addresses(got); !reflect.DeepEqual(addrs, []string{"boss@example.com", "dev@example.com"}) {
		t.Errorf("Addresses() = %v", addrs)
	}
}

func TestTeamDirectoryService(t *testing.T) {
	db := newTestDB(t)
	for id, login := range map[uint]string{3: "carol", 5: "erin", 7: "alice", 9: "ivan"} {
		seedUser(t, db, id, login, login+"@example.com")
	}
	seedTeam(t, db, 1, "Platform", []uint{7}, []uint{3, 5})
	seedTeam(t, db, 2, "Mobile", []uint{9}, []uint{5})
	seedTeam(t, db, 3, "Archived", []uint{3}, nil)
	if err := db.Delete(&models.Team{}, 3).Error; err != nil {
		t.Fatal(err)
	}

	dir := NewTeamDirectoryService(db)
	ctx := context.Background()

	leaders, err := dir.TeamLeaders(ctx, []uint{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(leaders, []uint{7, 9}) {
		t.Errorf("TeamLeaders() = %v", leaders)
	}

	members, err := dir.TeamMembers(ctx, []uint{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(members, []uint{3, 5, 7, 9}) {
		t.Errorf("TeamMembers() = %v", members)
	}

	teams, _ := dir.Teams(ctx, []uint{1, 2})
	if len(teams) != 2 || teams[0].Name != "Mobile" {
		t.Errorf("Teams() should be ordered by name, got %+v", teams)
	}

	led, _ := dir.TeamsLedBy(ctx, 7)
	if len(led) != 1 || led[0].ID != 1 {
		t.Errorf("TeamsLedBy(7) = %+v", led)
	}
	of, _ := dir.TeamsOf(ctx, 5)
	if len(of) != 2 {
		t.Errorf("TeamsOf(5) = %+v", of)
	}

	found, _ := dir.SearchTeams(ctx, "MOB")
	if len(found) != 1 || found[0].Name != "Mobile" {
		t.Errorf("SearchTeams(MOB) = %+v", found)
	}

	// end to end: master 7 who leads team 1
	cfg := models.ReportMailConfiguration{MasterRecipients: []uint{7}, ReportingTeams: []uint{1}, ReportToTeamLeads: true}
	recipients, err := NewRecipientResolver(dir).Resolve(ctx, &cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(recipients) != 1 || recipients[0].UserID != 7 {
		t.Errorf("Resolve() = %+v, expected only user 7", recipients)
	}
}
