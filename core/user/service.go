package user

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/examinator/core"
)

var (
	// errors
	ErrNotFound    = errors.New("user not found")
	ErrUserExists  = errors.New("a user with this username or email already exists")
	ErrCacheMissed = errors.New("permissions not cached")
)

type (
	Repository interface {
		CheckUniqueness(ctx context.Context, username, email string) error
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUser(ctx context.Context, id string) (User, error)
		QueryUsers(ctx context.Context, filter QueryFilter) ([]User, error)
		GetProfile(ctx context.Context, userID string) (Profile, error)
		// ReplaceAcademicStreams sets the same stream (replace semantics) on every given profile.
		ReplaceAcademicStreams(ctx context.Context, userIDs []string, nodeIDs []string, licenseActive bool) error
		// ReplacePermissions sets the same direct permission set on every given user.
		ReplacePermissions(ctx context.Context, userIDs []string, codenames []string) error
		// SetProfileGroups replaces the organization groups of a profile. Groups of another
		// organization are reported as saas.ErrGroupNotFound.
		SetProfileGroups(ctx context.Context, userID string, groupIDs []string) error
		// QueryGroupPermissions returns the permissions the user holds through its groups.
		QueryGroupPermissions(ctx context.Context, userID string) ([]string, error)
		DeleteUsersByID(ctx context.Context, ids ...string) error
	}

	// PermissionCache keeps the effective permission set of users between authorization checks.
	// Every entry has a generation, bumped by Invalidate; Set is dropped when the generation it
	// was given is no longer current.
	PermissionCache interface {
		// Get returns ErrCacheMissed when nothing is cached for userID, with the current generation.
		Get(ctx context.Context, userID string) ([]string, int64, error)
		Set(ctx context.Context, userID string, codenames []string, gen int64) error
		Invalidate(ctx context.Context, userIDs ...string) error
	}

	Service struct {
		repo  Repository
		cache PermissionCache
		log   core.Logger
	}
)

func NewService(repo Repository, cache PermissionCache, logger core.Logger) *Service {
	return &Service{repo: repo, cache: cache, log: logger}
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	if err := nu.Validate(); err != nil {
		return User{}, err
	}
	if err := svc.repo.CheckUniqueness(ctx, nu.Username, nu.Email); err != nil {
		if err == ErrUserExists {
			return User{}, core.NewValidationError(err,
				core.FieldError{Field: "username", Error: err.Error()},
				core.FieldError{Field: "email", Error: err.Error()})
		}
		return User{}, pkgerrors.Wrap(err, "checking user uniqueness")
	}

	now := time.Now().UTC()
	return svc.repo.CreateUser(ctx, User{
		Username:       nu.Username,
		Email:          nu.Email,
		Role:           nu.Role,
		IsActive:       true,
		OrganizationID: nu.OrganizationID,
		Permissions:    []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, id)
}

func (svc *Service) GetProfile(ctx context.Context, id string) (Profile, error) {
	return svc.repo.GetProfile(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter)
}

// Permissions returns the user's direct and group permissions, going through the cache.
func (svc *Service) Permissions(ctx context.Context, userID string) ([]string, error) {
	perms, gen, err := svc.cache.Get(ctx, userID)
	if err == nil {
		return perms, nil
	}
	if err != ErrCacheMissed {
		svc.log.Warn("reading permission cache", "user_id", userID, "error", err)
	}

	usr, err := svc.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	groupPerms, err := svc.repo.QueryGroupPermissions(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "querying group permissions")
	}
	perms = core.NewStringSet(append(copyOf(usr.Permissions), groupPerms...)...).Sorted()

	if err := svc.cache.Set(ctx, userID, perms, gen); err != nil {
		svc.log.Warn("writing permission cache", "user_id", userID, "error", err)
	}
	return perms, nil
}

// SetGroups replaces the organization groups of the user.
func (svc *Service) SetGroups(ctx context.Context, userID string, groupIDs []string) (Profile, error) {
	groupIDs = core.Unique(groupIDs)
	if err := svc.repo.SetProfileGroups(ctx, userID, groupIDs); err != nil {
		return Profile{}, err
	}
	svc.invalidate(ctx, userID)
	return svc.repo.GetProfile(ctx, userID)
}

// Delete removes the user along with its profile.
func (svc *Service) Delete(ctx context.Context, id string) error {
	if _, err := svc.repo.GetUser(ctx, id); err != nil {
		return err
	}
	if err := svc.repo.DeleteUsersByID(ctx, id); err != nil {
		return pkgerrors.Wrap(err, "deleting user")
	}
	svc.invalidate(ctx, id)
	return nil
}

func (svc *Service) invalidate(ctx context.Context, userIDs ...string) {
	core.OnCommit(ctx, func() {
		if err := svc.cache.Invalidate(context.Background(), userIDs...); err != nil {
			svc.log.Error("invalidating permission cache", "error", err)
		}
	})
}

func (svc *Service) HasPermission(ctx context.Context, userID, codename string) (bool, error) {
	perms, err := svc.Permissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == codename {
			return true, nil
		}
	}
	return false, nil
}

// CanAccessNode reports whether nodeID is part of the user's academic stream.
func (svc *Service) CanAccessNode(ctx context.Context, userID, nodeID string) (bool, error) {
	prof, err := svc.repo.GetProfile(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, id := range prof.AcademicStream {
		if id == nodeID {
			return true, nil
		}
	}
	return false, nil
}

func copyOf(vals []string) []string {
	return append(make([]string, 0, len(vals)), vals...)
}
