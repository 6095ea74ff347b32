package sqlxrepos

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/saas"
	"github.com/trezcool/examinator/core/user"
)

const userColumns = `id, username, email, role, is_active, organization_id, created_at, updated_at`

type userRow struct {
	ID             string      `db:"id"`
	Username       string      `db:"username"`
	Email          string      `db:"email"`
	Role           string      `db:"role"`
	IsActive       bool        `db:"is_active"`
	OrganizationID null.String `db:"organization_id"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}

type profileRow struct {
	UserID         string      `db:"user_id"`
	OrganizationID null.String `db:"organization_id"`
	LicenseActive  bool        `db:"license_active"`
}

type userRepository struct {
	store
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB, tx core.Transactor) user.Repository {
	return &userRepository{store: newStore(db, tx)}
}

func (repo *userRepository) fromRow(row userRow, perms []string) user.User {
	return user.User{
		ID:             row.ID,
		Username:       row.Username,
		Email:          row.Email,
		Role:           row.Role,
		IsActive:       row.IsActive,
		OrganizationID: row.OrganizationID.String,
		Permissions:    nonNil(perms),
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
}

func (repo *userRepository) CheckUniqueness(ctx context.Context, username, email string) error {
	var exists bool
	q := `SELECT EXISTS(SELECT 1 FROM app_user WHERE username = $1 OR email = $2)`
	if err := repo.exec(ctx).GetContext(ctx, &exists, q, username, email); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	if exists {
		return user.ErrUserExists
	}
	return nil
}

// CreateUser also creates the user's empty profile.
func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	usr.Permissions = core.Unique(usr.Permissions)
	row := userRow{
		ID:             usr.ID,
		Username:       usr.Username,
		Email:          usr.Email,
		Role:           usr.Role,
		IsActive:       usr.IsActive,
		OrganizationID: null.NewString(usr.OrganizationID, usr.OrganizationID != ""),
		CreatedAt:      usr.CreatedAt.UTC(),
		UpdatedAt:      usr.UpdatedAt.UTC(),
	}

	err := repo.tx.InTx(ctx, func(ctx context.Context) error {
		exec := repo.exec(ctx)
		q := `INSERT INTO app_user (` + userColumns + `)
			VALUES (:id, :username, :email, :role, :is_active, :organization_id, :created_at, :updated_at)`
		if _, err := sqlx.NamedExecContext(ctx, exec, q, row); err != nil {
			switch pqCode(err) {
			case uniqueViolation:
				return user.ErrUserExists
			case foreignKeyViolation:
				return errors.Wrap(err, "unknown organization")
			}
			return errors.Wrap(err, "inserting user")
		}
		q = `INSERT INTO profile (user_id, organization_id) VALUES ($1, $2)`
		if _, err := exec.ExecContext(ctx, q, row.ID, row.OrganizationID); err != nil {
			return errors.Wrap(err, "inserting profile")
		}
		return repo.setPermissions(ctx, []string{usr.ID}, usr.Permissions)
	})
	if err != nil {
		return user.User{}, err
	}
	return repo.fromRow(row, usr.Permissions), nil
}

func (repo *userRepository) GetUser(ctx context.Context, id string) (user.User, error) {
	if !isUUID(id) {
		return user.User{}, user.ErrNotFound
	}
	exec := repo.exec(ctx)
	var row userRow
	if err := exec.GetContext(ctx, &row, `SELECT `+userColumns+` FROM app_user WHERE id = $1`, id); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "finding user by ID")
	}
	var perms []string
	q := `SELECT codename FROM app_user_permission WHERE user_id = $1 ORDER BY codename`
	if err := exec.SelectContext(ctx, &perms, q, id); err != nil {
		return user.User{}, errors.Wrap(err, "querying user permissions")
	}
	return repo.fromRow(row, perms), nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter user.QueryFilter) ([]user.User, error) {
	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.OrganizationID != "" {
		if !isUUID(filter.OrganizationID) {
			return []user.User{}, nil
		}
		where = append(where, "organization_id = "+arg(filter.OrganizationID))
	}
	if len(filter.Roles) > 0 {
		where = append(where, "role = ANY("+arg(pq.Array(filter.Roles))+")")
	}
	if filter.IsActive != nil {
		where = append(where, "is_active = "+arg(*filter.IsActive))
	}

	q := `SELECT ` + userColumns + ` FROM app_user`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY username"

	exec := repo.exec(ctx)
	var rows []userRow
	if err := exec.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	var perms []pair
	q = `SELECT user_id AS owner, codename AS value FROM app_user_permission
		WHERE user_id = ANY($1) ORDER BY codename`
	if err := exec.SelectContext(ctx, &perms, q, pq.Array(ids)); err != nil {
		return nil, errors.Wrap(err, "querying user permissions")
	}
	permsByUser := groupPairs(perms)

	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, repo.fromRow(r, permsByUser[r.ID]))
	}
	return users, nil
}

func (repo *userRepository) GetProfile(ctx context.Context, userID string) (user.Profile, error) {
	if !isUUID(userID) {
		return user.Profile{}, user.ErrNotFound
	}
	exec := repo.exec(ctx)
	var row profileRow
	q := `SELECT user_id, organization_id, license_active FROM profile WHERE user_id = $1`
	if err := exec.GetContext(ctx, &row, q, userID); err != nil {
		return user.Profile{}, trapNoRowsErr(err, user.ErrNotFound, "finding profile")
	}
	var stream []string
	q = `SELECT node_id FROM academic_stream WHERE user_id = $1 ORDER BY node_id`
	if err := exec.SelectContext(ctx, &stream, q, userID); err != nil {
		return user.Profile{}, errors.Wrap(err, "querying academic stream")
	}
	var groups []string
	q = `SELECT group_id FROM profile_group WHERE user_id = $1 ORDER BY group_id`
	if err := exec.SelectContext(ctx, &groups, q, userID); err != nil {
		return user.Profile{}, errors.Wrap(err, "querying profile groups")
	}
	return user.Profile{
		UserID:         row.UserID,
		OrganizationID: row.OrganizationID.String,
		AcademicStream: nonNil(stream),
		LicenseActive:  row.LicenseActive,
		Groups:         nonNil(groups),
	}, nil
}

// checkUsers returns user.ErrNotFound unless every id is a known user.
func (repo *userRepository) checkUsers(ctx context.Context, table, column string, ids []string) error {
	ids = core.Unique(ids)
	if len(uuids(ids)) != len(ids) {
		return user.ErrNotFound
	}
	var n int
	q := `SELECT COUNT(*) FROM ` + table + ` WHERE ` + column + ` = ANY($1)`
	if err := repo.exec(ctx).GetContext(ctx, &n, q, pq.Array(ids)); err != nil {
		return errors.Wrap(err, "checking users")
	}
	if n != len(ids) {
		return user.ErrNotFound
	}
	return nil
}

func (repo *userRepository) ReplaceAcademicStreams(ctx context.Context, userIDs []string, nodeIDs []string, licenseActive bool) error {
	if len(userIDs) == 0 {
		return nil
	}
	return repo.tx.InTx(ctx, func(ctx context.Context) error {
		if err := repo.checkUsers(ctx, "profile", "user_id", userIDs); err != nil {
			return err
		}
		exec := repo.exec(ctx)
		ids := pq.Array(userIDs)
		if _, err := exec.ExecContext(ctx, `UPDATE profile SET license_active = $2 WHERE user_id = ANY($1)`, ids, licenseActive); err != nil {
			return errors.Wrap(err, "updating profiles")
		}
		if _, err := exec.ExecContext(ctx, `DELETE FROM academic_stream WHERE user_id = ANY($1)`, ids); err != nil {
			return errors.Wrap(err, "clearing academic streams")
		}
		if len(nodeIDs) == 0 {
			return nil
		}
		q := `INSERT INTO academic_stream (user_id, node_id)
			SELECT DISTINCT u, n FROM unnest($1::uuid[]) u CROSS JOIN unnest($2::uuid[]) n`
		if _, err := exec.ExecContext(ctx, q, ids, pq.Array(uuids(nodeIDs))); err != nil {
			return errors.Wrap(err, "inserting academic streams")
		}
		return nil
	})
}

func (repo *userRepository) ReplacePermissions(ctx context.Context, userIDs []string, codenames []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	return repo.tx.InTx(ctx, func(ctx context.Context) error {
		if err := repo.checkUsers(ctx, "app_user", "id", userIDs); err != nil {
			return err
		}
		return repo.setPermissions(ctx, userIDs, codenames)
	})
}

func (repo *userRepository) setPermissions(ctx context.Context, userIDs []string, codenames []string) error {
	exec := repo.exec(ctx)
	ids := pq.Array(userIDs)
	if _, err := exec.ExecContext(ctx, `DELETE FROM app_user_permission WHERE user_id = ANY($1)`, ids); err != nil {
		return errors.Wrap(err, "clearing user permissions")
	}
	if len(codenames) == 0 {
		return nil
	}
	q := `INSERT INTO app_user_permission (user_id, codename)
		SELECT DISTINCT u, c FROM unnest($1::uuid[]) u CROSS JOIN unnest($2::varchar[]) c`
	if _, err := exec.ExecContext(ctx, q, ids, pq.Array(codenames)); err != nil {
		return errors.Wrap(err, "inserting user permissions")
	}
	return nil
}

// SetProfileGroups only accepts groups of the user's own organization.
func (repo *userRepository) SetProfileGroups(ctx context.Context, userID string, groupIDs []string) error {
	if !isUUID(userID) {
		return user.ErrNotFound
	}
	groupIDs = core.Unique(groupIDs)
	if len(uuids(groupIDs)) != len(groupIDs) {
		return saas.ErrGroupNotFound
	}
	return repo.tx.InTx(ctx, func(ctx context.Context) error {
		exec := repo.exec(ctx)
		var orgID null.String
		q := `SELECT organization_id FROM profile WHERE user_id = $1 FOR UPDATE`
		if err := exec.GetContext(ctx, &orgID, q, userID); err != nil {
			return trapNoRowsErr(err, user.ErrNotFound, "finding profile")
		}

		var n int
		q = `SELECT COUNT(*) FROM org_group WHERE id = ANY($1) AND organization_id = $2`
		if err := exec.GetContext(ctx, &n, q, pq.Array(groupIDs), orgID); err != nil {
			return errors.Wrap(err, "checking groups")
		}
		if n != len(groupIDs) {
			return saas.ErrGroupNotFound
		}

		if _, err := exec.ExecContext(ctx, `DELETE FROM profile_group WHERE user_id = $1`, userID); err != nil {
			return errors.Wrap(err, "clearing profile groups")
		}
		if len(groupIDs) == 0 {
			return nil
		}
		q = `INSERT INTO profile_group (user_id, group_id) SELECT $1::uuid, g FROM unnest($2::uuid[]) g`
		if _, err := exec.ExecContext(ctx, q, userID, pq.Array(groupIDs)); err != nil {
			return errors.Wrap(err, "inserting profile groups")
		}
		return nil
	})
}

func (repo *userRepository) QueryGroupPermissions(ctx context.Context, userID string) ([]string, error) {
	if !isUUID(userID) {
		return nil, user.ErrNotFound
	}
	var perms []string
	q := `SELECT DISTINCT gp.codename FROM profile_group pg
		JOIN org_group_permission gp ON gp.group_id = pg.group_id
		WHERE pg.user_id = $1 ORDER BY gp.codename`
	if err := repo.exec(ctx).SelectContext(ctx, &perms, q, userID); err != nil {
		return nil, errors.Wrap(err, "querying group permissions")
	}
	return nonNil(perms), nil
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	ids = uuids(ids)
	if len(ids) == 0 {
		return nil
	}
	if _, err := repo.exec(ctx).ExecContext(ctx, `DELETE FROM app_user WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}
