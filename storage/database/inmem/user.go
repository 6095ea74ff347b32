package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/saas"
	"github.com/trezcool/examinator/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckUniqueness(ctx context.Context, username, email string) error {
	return repo.db.read(ctx, func(t *tables) error {
		for _, usr := range t.users {
			if usr.Username == username || usr.Email == email {
				return user.ErrUserExists
			}
		}
		return nil
	})
}

// CreateUser also creates the user's empty profile.
func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		usr.ID = uuid.New().String()
		usr.Permissions = copyStrings(usr.Permissions)
		t.users[usr.ID] = usr
		t.profiles[usr.ID] = user.Profile{
			UserID:         usr.ID,
			OrganizationID: usr.OrganizationID,
			AcademicStream: []string{},
			Groups:         []string{},
		}
		return nil
	})
	if err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (repo *userRepository) GetUser(ctx context.Context, id string) (user.User, error) {
	var usr user.User
	err := repo.db.read(ctx, func(t *tables) error {
		u, ok := t.users[id]
		if !ok {
			return user.ErrNotFound
		}
		usr = u
		return nil
	})
	return usr, err
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter user.QueryFilter) ([]user.User, error) {
	var users []user.User
	_ = repo.db.read(ctx, func(t *tables) error {
		roles := core.NewStringSet(filter.Roles...)
		users = make([]user.User, 0)
		for _, usr := range t.users {
			if filter.OrganizationID != "" && usr.OrganizationID != filter.OrganizationID {
				continue
			}
			if len(roles) > 0 && !roles.Has(usr.Role) {
				continue
			}
			if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
				continue
			}
			users = append(users, usr)
		}
		return nil
	})
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (repo *userRepository) GetProfile(ctx context.Context, userID string) (user.Profile, error) {
	var prof user.Profile
	err := repo.db.read(ctx, func(t *tables) error {
		p, ok := t.profiles[userID]
		if !ok {
			return user.ErrNotFound
		}
		prof = p
		return nil
	})
	return prof, err
}

func (repo *userRepository) ReplaceAcademicStreams(ctx context.Context, userIDs []string, nodeIDs []string, licenseActive bool) error {
	return repo.db.write(ctx, func(t *tables) error {
		for _, id := range userIDs {
			p, ok := t.profiles[id]
			if !ok {
				return user.ErrNotFound
			}
			p.AcademicStream = copyStrings(nodeIDs)
			p.LicenseActive = licenseActive
			t.profiles[id] = p
		}
		return nil
	})
}

func (repo *userRepository) ReplacePermissions(ctx context.Context, userIDs []string, codenames []string) error {
	return repo.db.write(ctx, func(t *tables) error {
		for _, id := range userIDs {
			usr, ok := t.users[id]
			if !ok {
				return user.ErrNotFound
			}
			usr.Permissions = copyStrings(codenames)
			t.users[id] = usr
		}
		return nil
	})
}

// SetProfileGroups only accepts groups of the user's own organization.
func (repo *userRepository) SetProfileGroups(ctx context.Context, userID string, groupIDs []string) error {
	return repo.db.write(ctx, func(t *tables) error {
		p, ok := t.profiles[userID]
		if !ok {
			return user.ErrNotFound
		}
		for _, id := range groupIDs {
			g, ok := t.groups[id]
			if !ok || g.OrganizationID != p.OrganizationID {
				return saas.ErrGroupNotFound
			}
		}
		p.Groups = copyStrings(groupIDs)
		t.profiles[userID] = p
		return nil
	})
}

func (repo *userRepository) QueryGroupPermissions(ctx context.Context, userID string) ([]string, error) {
	perms := core.NewStringSet()
	err := repo.db.read(ctx, func(t *tables) error {
		p, ok := t.profiles[userID]
		if !ok {
			return user.ErrNotFound
		}
		for _, id := range p.Groups {
			perms.Add(t.groups[id].Permissions...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return perms.Sorted(), nil
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	return repo.db.write(ctx, func(t *tables) error {
		for _, id := range ids {
			delete(t.users, id)
			delete(t.profiles, id)
		}
		return nil
	})
}
