package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/saas"
)

const (
	orgColumns   = `id, name, billing_email, is_active, address, phone_number, created_at`
	grantColumns = `id, organization_id, max_question_papers, question_papers_created, purchased_on, valid_until`
)

type orgRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	BillingEmail string    `db:"billing_email"`
	IsActive     bool      `db:"is_active"`
	Address      string    `db:"address"`
	PhoneNumber  string    `db:"phone_number"`
	CreatedAt    time.Time `db:"created_at"`
}

type grantRow struct {
	ID                    string    `db:"id"`
	OrganizationID        string    `db:"organization_id"`
	MaxQuestionPapers     int       `db:"max_question_papers"`
	QuestionPapersCreated int       `db:"question_papers_created"`
	PurchasedOn           time.Time `db:"purchased_on"`
	ValidUntil            null.Time `db:"valid_until"`
}

type groupRow struct {
	ID             string `db:"id"`
	OrganizationID string `db:"organization_id"`
	Name           string `db:"name"`
}

type saasRepository struct {
	store
}

var _ saas.Repository = (*saasRepository)(nil) // interface compliance check

func NewSaasRepository(db *sqlx.DB, tx core.Transactor) saas.Repository {
	return &saasRepository{store: newStore(db, tx)}
}

func (repo *saasRepository) CheckOrganizationUniqueness(ctx context.Context, name, billingEmail string) error {
	var exists bool
	q := `SELECT EXISTS(SELECT 1 FROM organization WHERE name = $1 OR billing_email = $2)`
	if err := repo.exec(ctx).GetContext(ctx, &exists, q, name, billingEmail); err != nil {
		return errors.Wrap(err, "checking organization uniqueness")
	}
	if exists {
		return saas.ErrOrganizationExists
	}
	return nil
}

func (repo *saasRepository) CreateOrganization(ctx context.Context, org saas.Organization) (saas.Organization, error) {
	org.ID = uuid.New().String()
	org.SupportedCurriculum = core.Unique(org.SupportedCurriculum)
	row := orgRow{
		ID:           org.ID,
		Name:         org.Name,
		BillingEmail: org.BillingEmail,
		IsActive:     org.IsActive,
		Address:      org.Address,
		PhoneNumber:  org.PhoneNumber,
		CreatedAt:    org.CreatedAt.UTC(),
	}
	err := repo.tx.InTx(ctx, func(ctx context.Context) error {
		q := `INSERT INTO organization (` + orgColumns + `)
			VALUES (:id, :name, :billing_email, :is_active, :address, :phone_number, :created_at)`
		if _, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, row); err != nil {
			if pqCode(err) == uniqueViolation {
				return saas.ErrOrganizationExists
			}
			return errors.Wrap(err, "inserting organization")
		}
		return repo.SetSupportedCurriculum(ctx, org.ID, org.SupportedCurriculum)
	})
	if err != nil {
		return saas.Organization{}, err
	}
	org.CreatedAt = row.CreatedAt
	return org, nil
}

func (repo *saasRepository) GetOrganization(ctx context.Context, id string) (saas.Organization, error) {
	if !isUUID(id) {
		return saas.Organization{}, saas.ErrNotFound
	}
	var row orgRow
	if err := repo.exec(ctx).GetContext(ctx, &row, `SELECT `+orgColumns+` FROM organization WHERE id = $1`, id); err != nil {
		return saas.Organization{}, trapNoRowsErr(err, saas.ErrNotFound, "finding organization")
	}
	orgs, err := repo.withCurriculum(ctx, []orgRow{row})
	if err != nil {
		return saas.Organization{}, err
	}
	return orgs[0], nil
}

func (repo *saasRepository) QueryOrganizations(ctx context.Context) ([]saas.Organization, error) {
	var rows []orgRow
	if err := repo.exec(ctx).SelectContext(ctx, &rows, `SELECT `+orgColumns+` FROM organization ORDER BY name`); err != nil {
		return nil, errors.Wrap(err, "querying organizations")
	}
	return repo.withCurriculum(ctx, rows)
}

func (repo *saasRepository) withCurriculum(ctx context.Context, rows []orgRow) ([]saas.Organization, error) {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	var nodes []pair
	q := `SELECT organization_id AS owner, node_id AS value FROM organization_curriculum
		WHERE organization_id = ANY($1) ORDER BY node_id`
	if err := repo.exec(ctx).SelectContext(ctx, &nodes, q, pq.Array(ids)); err != nil {
		return nil, errors.Wrap(err, "querying supported curriculum")
	}
	nodesByOrg := groupPairs(nodes)

	orgs := make([]saas.Organization, 0, len(rows))
	for _, r := range rows {
		orgs = append(orgs, saas.Organization{
			ID:                  r.ID,
			Name:                r.Name,
			BillingEmail:        r.BillingEmail,
			IsActive:            r.IsActive,
			Address:             r.Address,
			PhoneNumber:         r.PhoneNumber,
			SupportedCurriculum: nonNil(nodesByOrg[r.ID]),
			CreatedAt:           r.CreatedAt.UTC(),
		})
	}
	return orgs, nil
}

func (repo *saasRepository) SetSupportedCurriculum(ctx context.Context, orgID string, nodeIDs []string) error {
	if !isUUID(orgID) {
		return saas.ErrNotFound
	}
	return repo.tx.InTx(ctx, func(ctx context.Context) error {
		exec := repo.exec(ctx)
		var exists bool
		if err := exec.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM organization WHERE id = $1)`, orgID); err != nil {
			return errors.Wrap(err, "finding organization")
		}
		if !exists {
			return saas.ErrNotFound
		}
		return replaceSet(ctx, exec, "organization_curriculum", "organization_id", "node_id", "uuid", orgID, uuids(nodeIDs))
	})
}

func (repo *saasRepository) GetUsageLimit(ctx context.Context, orgID string) (saas.UsageLimit, error) {
	if !isUUID(orgID) {
		return saas.UsageLimit{}, saas.ErrUsageLimitNotFound
	}
	var limit saas.UsageLimit
	q := `SELECT organization_id, max_users, max_question_papers_drafts FROM usage_limit WHERE organization_id = $1`
	row := repo.exec(ctx).QueryRowxContext(ctx, q, orgID)
	if err := row.Scan(&limit.OrganizationID, &limit.MaxUsers, &limit.MaxQuestionPapersDrafts); err != nil {
		return saas.UsageLimit{}, trapNoRowsErr(err, saas.ErrUsageLimitNotFound, "finding usage limit")
	}
	return limit, nil
}

func (repo *saasRepository) SaveUsageLimit(ctx context.Context, limit saas.UsageLimit) (saas.UsageLimit, error) {
	if !isUUID(limit.OrganizationID) {
		return saas.UsageLimit{}, saas.ErrNotFound
	}
	q := `INSERT INTO usage_limit (organization_id, max_users, max_question_papers_drafts) VALUES ($1, $2, $3)
		ON CONFLICT (organization_id) DO UPDATE
		SET max_users = EXCLUDED.max_users, max_question_papers_drafts = EXCLUDED.max_question_papers_drafts`
	_, err := repo.exec(ctx).ExecContext(ctx, q, limit.OrganizationID, limit.MaxUsers, limit.MaxQuestionPapersDrafts)
	if err != nil {
		if pqCode(err) == foreignKeyViolation {
			return saas.UsageLimit{}, saas.ErrNotFound
		}
		return saas.UsageLimit{}, errors.Wrap(err, "saving usage limit")
	}
	return limit, nil
}

func (repo *saasRepository) CreatePermission(ctx context.Context, perm saas.Permission) (saas.Permission, error) {
	q := `INSERT INTO permission (codename, name) VALUES ($1, $2)`
	if _, err := repo.exec(ctx).ExecContext(ctx, q, perm.Codename, perm.Name); err != nil {
		if pqCode(err) == uniqueViolation {
			return saas.Permission{}, saas.ErrPermissionExists
		}
		return saas.Permission{}, errors.Wrap(err, "inserting permission")
	}
	return perm, nil
}

// QueryPermissions returns the known permissions among codenames, or all of them without codenames.
func (repo *saasRepository) QueryPermissions(ctx context.Context, codenames ...string) ([]saas.Permission, error) {
	perms := make([]saas.Permission, 0)
	var err error
	exec := repo.exec(ctx)
	if len(codenames) == 0 {
		err = exec.SelectContext(ctx, &perms, `SELECT codename, name FROM permission ORDER BY codename`)
	} else {
		q := `SELECT codename, name FROM permission WHERE codename = ANY($1) ORDER BY codename`
		err = exec.SelectContext(ctx, &perms, q, pq.Array(codenames))
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying permissions")
	}
	return perms, nil
}

func (repo *saasRepository) CreateGrant(ctx context.Context, grant saas.LicenseGrant) (saas.LicenseGrant, error) {
	if !isUUID(grant.OrganizationID) {
		return saas.LicenseGrant{}, saas.ErrNotFound
	}
	grant.ID = uuid.New().String()
	grant.NodeIDs = core.Unique(grant.NodeIDs)
	grant.Permissions = core.Unique(grant.Permissions)
	row := grantRow{
		ID:                    grant.ID,
		OrganizationID:        grant.OrganizationID,
		MaxQuestionPapers:     grant.MaxQuestionPapers,
		QuestionPapersCreated: grant.QuestionPapersCreated,
		PurchasedOn:           grant.PurchasedOn.UTC(),
		ValidUntil:            grant.ValidUntil,
	}

	err := repo.tx.InTx(ctx, func(ctx context.Context) error {
		q := `INSERT INTO license_grant (` + grantColumns + `)
			VALUES (:id, :organization_id, :max_question_papers, :question_papers_created, :purchased_on, :valid_until)`
		if _, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, row); err != nil {
			if pqCode(err) == foreignKeyViolation {
				return saas.ErrNotFound
			}
			return errors.Wrap(err, "inserting license grant")
		}
		if err := repo.SetGrantNodes(ctx, grant.ID, grant.NodeIDs); err != nil {
			return err
		}
		return repo.SetGrantPermissions(ctx, grant.ID, grant.Permissions)
	})
	if err != nil {
		return saas.LicenseGrant{}, err
	}
	return grant, nil
}

func (repo *saasRepository) GetGrant(ctx context.Context, id string) (saas.LicenseGrant, error) {
	if !isUUID(id) {
		return saas.LicenseGrant{}, saas.ErrGrantNotFound
	}
	var row grantRow
	if err := repo.exec(ctx).GetContext(ctx, &row, `SELECT `+grantColumns+` FROM license_grant WHERE id = $1`, id); err != nil {
		return saas.LicenseGrant{}, trapNoRowsErr(err, saas.ErrGrantNotFound, "finding license grant")
	}
	grants, err := repo.withSets(ctx, []grantRow{row})
	if err != nil {
		return saas.LicenseGrant{}, err
	}
	return grants[0], nil
}

func (repo *saasRepository) QueryLicensingOrganizations(ctx context.Context, nodeIDs ...string) ([]string, error) {
	ids := uuids(nodeIDs)
	if len(ids) == 0 {
		return []string{}, nil
	}
	var orgIDs []string
	q := `SELECT DISTINCT g.organization_id FROM license_grant g
		JOIN license_grant_node gn ON gn.grant_id = g.id
		WHERE gn.node_id = ANY($1) ORDER BY g.organization_id`
	if err := repo.exec(ctx).SelectContext(ctx, &orgIDs, q, pq.Array(ids)); err != nil {
		return nil, errors.Wrap(err, "querying licensing organizations")
	}
	return nonNil(orgIDs), nil
}

func (repo *saasRepository) QueryGrants(ctx context.Context, orgID string) ([]saas.LicenseGrant, error) {
	if !isUUID(orgID) {
		return []saas.LicenseGrant{}, nil
	}
	var rows []grantRow
	q := `SELECT ` + grantColumns + ` FROM license_grant WHERE organization_id = $1 ORDER BY purchased_on, id`
	if err := repo.exec(ctx).SelectContext(ctx, &rows, q, orgID); err != nil {
		return nil, errors.Wrap(err, "querying license grants")
	}
	return repo.withSets(ctx, rows)
}

// withSets loads the node and permission sets of the grants.
func (repo *saasRepository) withSets(ctx context.Context, rows []grantRow) ([]saas.LicenseGrant, error) {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	exec := repo.exec(ctx)

	var nodes, perms []pair
	q := `SELECT grant_id AS owner, node_id AS value FROM license_grant_node WHERE grant_id = ANY($1) ORDER BY node_id`
	if err := exec.SelectContext(ctx, &nodes, q, pq.Array(ids)); err != nil {
		return nil, errors.Wrap(err, "querying license grant nodes")
	}
	q = `SELECT grant_id AS owner, codename AS value FROM license_grant_permission WHERE grant_id = ANY($1) ORDER BY codename`
	if err := exec.SelectContext(ctx, &perms, q, pq.Array(ids)); err != nil {
		return nil, errors.Wrap(err, "querying license grant permissions")
	}
	nodesByGrant, permsByGrant := groupPairs(nodes), groupPairs(perms)

	grants := make([]saas.LicenseGrant, 0, len(rows))
	for _, r := range rows {
		grants = append(grants, saas.LicenseGrant{
			ID:                    r.ID,
			OrganizationID:        r.OrganizationID,
			NodeIDs:               nonNil(nodesByGrant[r.ID]),
			Permissions:           nonNil(permsByGrant[r.ID]),
			MaxQuestionPapers:     r.MaxQuestionPapers,
			QuestionPapersCreated: r.QuestionPapersCreated,
			PurchasedOn:           r.PurchasedOn.UTC(),
			ValidUntil:            r.ValidUntil,
		})
	}
	return grants, nil
}

func (repo *saasRepository) UpdateGrant(ctx context.Context, grant saas.LicenseGrant) (saas.LicenseGrant, error) {
	if !isUUID(grant.ID) {
		return saas.LicenseGrant{}, saas.ErrGrantNotFound
	}
	q := `UPDATE license_grant
		SET max_question_papers = $2, question_papers_created = $3, purchased_on = $4, valid_until = $5
		WHERE id = $1`
	res, err := repo.exec(ctx).ExecContext(ctx, q, grant.ID, grant.MaxQuestionPapers, grant.QuestionPapersCreated,
		grant.PurchasedOn.UTC(), grant.ValidUntil)
	if err != nil {
		return saas.LicenseGrant{}, errors.Wrap(err, "updating license grant")
	}
	if n, err := res.RowsAffected(); err != nil {
		return saas.LicenseGrant{}, errors.Wrap(err, "updating license grant")
	} else if n == 0 {
		return saas.LicenseGrant{}, saas.ErrGrantNotFound
	}
	return repo.GetGrant(ctx, grant.ID)
}

func (repo *saasRepository) SetGrantNodes(ctx context.Context, grantID string, nodeIDs []string) error {
	return repo.setGrantSet(ctx, grantID, "license_grant_node", "node_id", "uuid", uuids(nodeIDs))
}

func (repo *saasRepository) SetGrantPermissions(ctx context.Context, grantID string, codenames []string) error {
	return repo.setGrantSet(ctx, grantID, "license_grant_permission", "codename", "varchar", codenames)
}

func (repo *saasRepository) setGrantSet(ctx context.Context, grantID, table, column, typ string, vals []string) error {
	if !isUUID(grantID) {
		return saas.ErrGrantNotFound
	}
	return repo.tx.InTx(ctx, func(ctx context.Context) error {
		exec := repo.exec(ctx)
		var exists bool
		if err := exec.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM license_grant WHERE id = $1)`, grantID); err != nil {
			return errors.Wrap(err, "finding license grant")
		}
		if !exists {
			return saas.ErrGrantNotFound
		}
		return replaceSet(ctx, exec, table, "grant_id", column, typ, grantID, vals)
	})
}

func (repo *saasRepository) DeleteGrant(ctx context.Context, id string) error {
	if !isUUID(id) {
		return saas.ErrGrantNotFound
	}
	res, err := repo.exec(ctx).ExecContext(ctx, `DELETE FROM license_grant WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting license grant")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "deleting license grant")
	} else if n == 0 {
		return saas.ErrGrantNotFound
	}
	return nil
}

func (repo *saasRepository) CreateGroup(ctx context.Context, group saas.Group) (saas.Group, error) {
	if !isUUID(group.OrganizationID) {
		return saas.Group{}, saas.ErrNotFound
	}
	group.ID = uuid.New().String()
	group.Permissions = core.Unique(group.Permissions)
	err := repo.tx.InTx(ctx, func(ctx context.Context) error {
		q := `INSERT INTO org_group (id, organization_id, name) VALUES ($1, $2, $3)`
		if _, err := repo.exec(ctx).ExecContext(ctx, q, group.ID, group.OrganizationID, group.Name); err != nil {
			if pqCode(err) == foreignKeyViolation {
				return saas.ErrNotFound
			}
			return errors.Wrap(err, "inserting group")
		}
		return repo.SetGroupPermissions(ctx, group.ID, group.Permissions)
	})
	if err != nil {
		return saas.Group{}, err
	}
	return group, nil
}

func (repo *saasRepository) QueryGroups(ctx context.Context, orgID string) ([]saas.Group, error) {
	if !isUUID(orgID) {
		return []saas.Group{}, nil
	}
	exec := repo.exec(ctx)
	var rows []groupRow
	q := `SELECT id, organization_id, name FROM org_group WHERE organization_id = $1 ORDER BY name`
	if err := exec.SelectContext(ctx, &rows, q, orgID); err != nil {
		return nil, errors.Wrap(err, "querying groups")
	}
	var perms []pair
	q = `SELECT p.group_id AS owner, p.codename AS value FROM org_group_permission p
		JOIN org_group g ON g.id = p.group_id
		WHERE g.organization_id = $1 ORDER BY p.codename`
	if err := exec.SelectContext(ctx, &perms, q, orgID); err != nil {
		return nil, errors.Wrap(err, "querying group permissions")
	}
	permsByGroup := groupPairs(perms)

	groups := make([]saas.Group, 0, len(rows))
	for _, r := range rows {
		groups = append(groups, saas.Group{
			ID:             r.ID,
			OrganizationID: r.OrganizationID,
			Name:           r.Name,
			Permissions:    nonNil(permsByGroup[r.ID]),
		})
	}
	return groups, nil
}

func (repo *saasRepository) SetGroupPermissions(ctx context.Context, groupID string, codenames []string) error {
	if !isUUID(groupID) {
		return saas.ErrGroupNotFound
	}
	return repo.tx.InTx(ctx, func(ctx context.Context) error {
		exec := repo.exec(ctx)
		var exists bool
		if err := exec.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM org_group WHERE id = $1)`, groupID); err != nil {
			return errors.Wrap(err, "finding group")
		}
		if !exists {
			return saas.ErrGroupNotFound
		}
		return replaceSet(ctx, exec, "org_group_permission", "group_id", "codename", "varchar", groupID, codenames)
	})
}

// replaceSet replaces the values owned by owner in a many-to-many table.
// Table and column names are never user input.
func replaceSet(ctx context.Context, exec core.DBExecutor, table, ownerCol, valueCol, valueType, owner string, vals []string) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+ownerCol+` = $1`, owner); err != nil {
		return errors.Wrapf(err, "clearing %s", table)
	}
	vals = core.Unique(vals)
	if len(vals) == 0 {
		return nil
	}
	q := `INSERT INTO ` + table + ` (` + ownerCol + `, ` + valueCol + `)
		SELECT $1::uuid, v FROM unnest($2::` + valueType + `[]) v`
	if _, err := exec.ExecContext(ctx, q, owner, pq.Array(vals)); err != nil {
		if pqCode(err) == foreignKeyViolation {
			return errors.Wrapf(err, "unknown %s", valueCol)
		}
		return errors.Wrapf(err, "inserting %s", table)
	}
	return nil
}
