package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/user"
)

type userRepository struct {
	db *userTable
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db.user}
}

func (repo *userRepository) query() []user.User {
	users := make([]user.User, 0, len(repo.db.table))
	for _, u := range repo.db.table {
		users = append(users, *u)
	}
	return users
}

func (repo *userRepository) CheckUsernameUniqueness(_ context.Context, username, email string, excludedUsers ...user.User) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	excluded := make(map[string]bool, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded[u.ID] = true
	}
	for _, usr := range repo.query() {
		if excluded[usr.ID] {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	usr.ID = uuid.New().String()
	repo.db.table[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	users := repo.query()
	if filter != nil && !filter.IsEmpty() {
		ids := make(map[string]bool, len(filter.IDs))
		for _, id := range filter.IDs {
			ids[id] = true
		}
		filtered := make([]user.User, 0, len(users))
		for _, u := range users {
			// users with Name, Username or Email matching the search keyword
			if filter.Search != "" &&
				!core.ContainsFold(u.Name, filter.Search) &&
				!core.ContainsFold(u.Username, filter.Search) &&
				!core.ContainsFold(u.Email, filter.Search) {
				continue
			}
			if len(filter.Roles) > 0 && !hasAnyRole(u, filter.Roles) {
				continue
			}
			if len(ids) > 0 && !ids[u.ID] {
				continue
			}
			if filter.IsActive != nil && u.Active() != *filter.IsActive {
				continue
			}
			filtered = append(filtered, u)
		}
		users = filtered
	}

	sort.SliceStable(users, func(i, j int) bool {
		for _, ord := range ordering {
			a, b := userField(users[i], ord.Field), userField(users[j], ord.Field)
			if a == b {
				continue
			}
			if ord.Ascending {
				return a < b
			}
			return a > b
		}
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.db.table[filter.ID]; ok {
			return *usr, nil
		}
		return user.User{}, user.ErrNotFound
	}

	for _, usr := range repo.query() {
		switch {
		case filter.Username != "":
			if usr.Username == filter.Username {
				return usr, nil
			}
		case filter.Email != "":
			if usr.Email == filter.Email {
				return usr, nil
			}
		case len(filter.UsernameOrEmail) > 0:
			for _, v := range filter.UsernameOrEmail {
				if v != "" && (usr.Username == v || usr.Email == v) {
					return usr, nil
				}
			}
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	repo.db.table[usr.ID] = &usr
	return usr, nil
}

func hasAnyRole(usr user.User, roles []string) bool {
	for _, r := range roles {
		if usr.RoleStartsWith(r) {
			return true
		}
	}
	return false
}

// userField reads the column an ordering refers to.
func userField(usr user.User, field string) string {
	switch strings.ToLower(field) {
	case "name":
		return strings.ToLower(usr.Name)
	case "username":
		return usr.Username
	case "email":
		return usr.Email
	case "created_at":
		return usr.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000")
	case "last_login":
		return usr.LastLogin.UTC().Format("2006-01-02T15:04:05.000000000")
	}
	return ""
}
