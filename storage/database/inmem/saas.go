package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/saas"
)

type saasRepository struct {
	db *DB
}

var _ saas.Repository = (*saasRepository)(nil) // interface compliance check

func NewSaasRepository(db *DB) saas.Repository {
	return &saasRepository{db: db}
}

func (repo *saasRepository) CheckOrganizationUniqueness(ctx context.Context, name, billingEmail string) error {
	return repo.db.read(ctx, func(t *tables) error {
		for _, org := range t.orgs {
			if org.Name == name || org.BillingEmail == billingEmail {
				return saas.ErrOrganizationExists
			}
		}
		return nil
	})
}

func (repo *saasRepository) CreateOrganization(ctx context.Context, org saas.Organization) (saas.Organization, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		org.ID = uuid.New().String()
		org.SupportedCurriculum = copyStrings(org.SupportedCurriculum)
		t.orgs[org.ID] = org
		return nil
	})
	if err != nil {
		return saas.Organization{}, err
	}
	return org, nil
}

func (repo *saasRepository) GetOrganization(ctx context.Context, id string) (saas.Organization, error) {
	var org saas.Organization
	err := repo.db.read(ctx, func(t *tables) error {
		o, ok := t.orgs[id]
		if !ok {
			return saas.ErrNotFound
		}
		org = o
		return nil
	})
	return org, err
}

func (repo *saasRepository) QueryOrganizations(ctx context.Context) ([]saas.Organization, error) {
	var orgs []saas.Organization
	_ = repo.db.read(ctx, func(t *tables) error {
		orgs = make([]saas.Organization, 0, len(t.orgs))
		for _, o := range t.orgs {
			orgs = append(orgs, o)
		}
		return nil
	})
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].Name < orgs[j].Name })
	return orgs, nil
}

func (repo *saasRepository) SetSupportedCurriculum(ctx context.Context, orgID string, nodeIDs []string) error {
	return repo.db.write(ctx, func(t *tables) error {
		org, ok := t.orgs[orgID]
		if !ok {
			return saas.ErrNotFound
		}
		org.SupportedCurriculum = copyStrings(nodeIDs)
		t.orgs[orgID] = org
		return nil
	})
}

func (repo *saasRepository) GetUsageLimit(ctx context.Context, orgID string) (saas.UsageLimit, error) {
	var limit saas.UsageLimit
	err := repo.db.read(ctx, func(t *tables) error {
		l, ok := t.limits[orgID]
		if !ok {
			return saas.ErrUsageLimitNotFound
		}
		limit = l
		return nil
	})
	return limit, err
}

func (repo *saasRepository) SaveUsageLimit(ctx context.Context, limit saas.UsageLimit) (saas.UsageLimit, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.orgs[limit.OrganizationID]; !ok {
			return saas.ErrNotFound
		}
		t.limits[limit.OrganizationID] = limit
		return nil
	})
	if err != nil {
		return saas.UsageLimit{}, err
	}
	return limit, nil
}

func (repo *saasRepository) CreatePermission(ctx context.Context, perm saas.Permission) (saas.Permission, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.perms[perm.Codename]; ok {
			return saas.ErrPermissionExists
		}
		t.perms[perm.Codename] = perm
		return nil
	})
	if err != nil {
		return saas.Permission{}, err
	}
	return perm, nil
}

// QueryPermissions returns the known permissions among codenames, or all of them without codenames.
func (repo *saasRepository) QueryPermissions(ctx context.Context, codenames ...string) ([]saas.Permission, error) {
	var perms []saas.Permission
	_ = repo.db.read(ctx, func(t *tables) error {
		perms = make([]saas.Permission, 0)
		if len(codenames) == 0 {
			for _, p := range t.perms {
				perms = append(perms, p)
			}
			return nil
		}
		for _, c := range codenames {
			if p, ok := t.perms[c]; ok {
				perms = append(perms, p)
			}
		}
		return nil
	})
	sort.Slice(perms, func(i, j int) bool { return perms[i].Codename < perms[j].Codename })
	return perms, nil
}

func (repo *saasRepository) CreateGrant(ctx context.Context, grant saas.LicenseGrant) (saas.LicenseGrant, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.orgs[grant.OrganizationID]; !ok {
			return saas.ErrNotFound
		}
		grant.ID = uuid.New().String()
		grant.NodeIDs = copyStrings(grant.NodeIDs)
		grant.Permissions = copyStrings(grant.Permissions)
		t.grants[grant.ID] = grant
		return nil
	})
	if err != nil {
		return saas.LicenseGrant{}, err
	}
	return grant, nil
}

func (repo *saasRepository) GetGrant(ctx context.Context, id string) (saas.LicenseGrant, error) {
	var grant saas.LicenseGrant
	err := repo.db.read(ctx, func(t *tables) error {
		g, ok := t.grants[id]
		if !ok {
			return saas.ErrGrantNotFound
		}
		grant = g
		return nil
	})
	return grant, err
}

func (repo *saasRepository) QueryLicensingOrganizations(ctx context.Context, nodeIDs ...string) ([]string, error) {
	ids := core.NewStringSet(nodeIDs...)
	orgIDs := core.NewStringSet()
	_ = repo.db.read(ctx, func(t *tables) error {
		for _, g := range t.grants {
			for _, id := range g.NodeIDs {
				if ids.Has(id) {
					orgIDs.Add(g.OrganizationID)
					break
				}
			}
		}
		return nil
	})
	return orgIDs.Sorted(), nil
}

func (repo *saasRepository) QueryGrants(ctx context.Context, orgID string) ([]saas.LicenseGrant, error) {
	var grants []saas.LicenseGrant
	_ = repo.db.read(ctx, func(t *tables) error {
		grants = make([]saas.LicenseGrant, 0)
		for _, g := range t.grants {
			if g.OrganizationID == orgID {
				grants = append(grants, g)
			}
		}
		return nil
	})
	sort.Slice(grants, func(i, j int) bool {
		if !grants[i].PurchasedOn.Equal(grants[j].PurchasedOn) {
			return grants[i].PurchasedOn.Before(grants[j].PurchasedOn)
		}
		return grants[i].ID < grants[j].ID
	})
	return grants, nil
}

func (repo *saasRepository) UpdateGrant(ctx context.Context, grant saas.LicenseGrant) (saas.LicenseGrant, error) {
	var updated saas.LicenseGrant
	err := repo.db.write(ctx, func(t *tables) error {
		orig, ok := t.grants[grant.ID]
		if !ok {
			return saas.ErrGrantNotFound
		}
		orig.MaxQuestionPapers = grant.MaxQuestionPapers
		orig.QuestionPapersCreated = grant.QuestionPapersCreated
		orig.PurchasedOn = grant.PurchasedOn
		orig.ValidUntil = grant.ValidUntil
		t.grants[grant.ID] = orig
		updated = orig
		return nil
	})
	return updated, err
}

func (repo *saasRepository) SetGrantNodes(ctx context.Context, grantID string, nodeIDs []string) error {
	return repo.db.write(ctx, func(t *tables) error {
		g, ok := t.grants[grantID]
		if !ok {
			return saas.ErrGrantNotFound
		}
		g.NodeIDs = copyStrings(nodeIDs)
		t.grants[grantID] = g
		return nil
	})
}

func (repo *saasRepository) SetGrantPermissions(ctx context.Context, grantID string, codenames []string) error {
	return repo.db.write(ctx, func(t *tables) error {
		g, ok := t.grants[grantID]
		if !ok {
			return saas.ErrGrantNotFound
		}
		g.Permissions = copyStrings(codenames)
		t.grants[grantID] = g
		return nil
	})
}

func (repo *saasRepository) DeleteGrant(ctx context.Context, id string) error {
	return repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.grants[id]; !ok {
			return saas.ErrGrantNotFound
		}
		delete(t.grants, id)
		return nil
	})
}

func (repo *saasRepository) CreateGroup(ctx context.Context, group saas.Group) (saas.Group, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.orgs[group.OrganizationID]; !ok {
			return saas.ErrNotFound
		}
		group.ID = uuid.New().String()
		group.Permissions = copyStrings(group.Permissions)
		t.groups[group.ID] = group
		return nil
	})
	if err != nil {
		return saas.Group{}, err
	}
	return group, nil
}

func (repo *saasRepository) QueryGroups(ctx context.Context, orgID string) ([]saas.Group, error) {
	var groups []saas.Group
	_ = repo.db.read(ctx, func(t *tables) error {
		groups = make([]saas.Group, 0)
		for _, g := range t.groups {
			if g.OrganizationID == orgID {
				groups = append(groups, g)
			}
		}
		return nil
	})
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

func (repo *saasRepository) SetGroupPermissions(ctx context.Context, groupID string, codenames []string) error {
	return repo.db.write(ctx, func(t *tables) error {
		g, ok := t.groups[groupID]
		if !ok {
			return saas.ErrGroupNotFound
		}
		g.Permissions = copyStrings(codenames)
		t.groups[groupID] = g
		return nil
	})
}
