package saas

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/examinator/core"
)

var (
	// errors
	ErrNotFound           = errors.New("organization not found")
	ErrGrantNotFound      = errors.New("license grant not found")
	ErrGroupNotFound      = errors.New("organization group not found")
	ErrPermissionNotFound = errors.New("permission not found")
	ErrUsageLimitNotFound = errors.New("usage limit not configured")
	ErrOrganizationExists = errors.New("an organization with this name or billing email already exists")
	ErrPermissionExists   = errors.New("a permission with this codename already exists")
)

type (
	Repository interface {
		// Organizations
		CheckOrganizationUniqueness(ctx context.Context, name, billingEmail string) error
		CreateOrganization(ctx context.Context, org Organization) (Organization, error)
		GetOrganization(ctx context.Context, id string) (Organization, error)
		QueryOrganizations(ctx context.Context) ([]Organization, error)
		SetSupportedCurriculum(ctx context.Context, orgID string, nodeIDs []string) error

		// Usage limits
		GetUsageLimit(ctx context.Context, orgID string) (UsageLimit, error)
		SaveUsageLimit(ctx context.Context, limit UsageLimit) (UsageLimit, error)

		// Permissions
		CreatePermission(ctx context.Context, perm Permission) (Permission, error)
		QueryPermissions(ctx context.Context, codenames ...string) ([]Permission, error)

		// License grants
		CreateGrant(ctx context.Context, grant LicenseGrant) (LicenseGrant, error)
		GetGrant(ctx context.Context, id string) (LicenseGrant, error)
		// QueryLicensingOrganizations returns the IDs of the organizations with a grant, expired
		// or not, referencing any of nodeIDs.
		QueryLicensingOrganizations(ctx context.Context, nodeIDs ...string) ([]string, error)
		// QueryGrants returns every grant of the organization, expired ones included.
		QueryGrants(ctx context.Context, orgID string) ([]LicenseGrant, error)
		// UpdateGrant saves the scalar fields of grant (not its node or permission sets).
		UpdateGrant(ctx context.Context, grant LicenseGrant) (LicenseGrant, error)
		SetGrantNodes(ctx context.Context, grantID string, nodeIDs []string) error
		SetGrantPermissions(ctx context.Context, grantID string, codenames []string) error
		DeleteGrant(ctx context.Context, id string) error

		// Groups
		CreateGroup(ctx context.Context, group Group) (Group, error)
		QueryGroups(ctx context.Context, orgID string) ([]Group, error)
		SetGroupPermissions(ctx context.Context, groupID string, codenames []string) error
	}

	Service struct {
		repo Repository
		tx   core.Transactor
	}
)

func NewService(repo Repository, tx core.Transactor) *Service {
	return &Service{repo: repo, tx: tx}
}

// CreateOrganization creates the tenant together with its usage limit configuration.
func (svc *Service) CreateOrganization(ctx context.Context, no NewOrganization) (Organization, error) {
	if err := no.Validate(); err != nil {
		return Organization{}, err
	}

	var org Organization
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		if err := svc.repo.CheckOrganizationUniqueness(ctx, no.Name, no.BillingEmail); err != nil {
			if err == ErrOrganizationExists {
				return core.NewValidationError(err, core.FieldError{Field: "name", Error: err.Error()})
			}
			return pkgerrors.Wrap(err, "checking organization uniqueness")
		}

		var err error
		org, err = svc.repo.CreateOrganization(ctx, Organization{
			Name:                no.Name,
			BillingEmail:        no.BillingEmail,
			IsActive:            true,
			Address:             no.Address,
			PhoneNumber:         no.PhoneNumber,
			SupportedCurriculum: []string{},
			CreatedAt:           time.Now().UTC(),
		})
		if err != nil {
			return pkgerrors.Wrap(err, "creating organization")
		}

		maxUsers := no.MaxUsers
		if maxUsers == 0 {
			maxUsers = 1
		}
		maxDrafts := no.MaxQuestionPapersDrafts
		if maxDrafts == 0 {
			maxDrafts = 10
		}
		_, err = svc.repo.SaveUsageLimit(ctx, UsageLimit{
			OrganizationID:          org.ID,
			MaxUsers:                maxUsers,
			MaxQuestionPapersDrafts: maxDrafts,
		})
		return pkgerrors.Wrap(err, "saving usage limit")
	})
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (svc *Service) GetOrganization(ctx context.Context, id string) (Organization, error) {
	return svc.repo.GetOrganization(ctx, id)
}

func (svc *Service) QueryOrganizations(ctx context.Context) ([]Organization, error) {
	return svc.repo.QueryOrganizations(ctx)
}

func (svc *Service) SaveUsageLimit(ctx context.Context, limit UsageLimit) (UsageLimit, error) {
	if _, err := svc.repo.GetOrganization(ctx, limit.OrganizationID); err != nil {
		return UsageLimit{}, err
	}
	return svc.repo.SaveUsageLimit(ctx, limit)
}

func (svc *Service) CreatePermission(ctx context.Context, codename, name string) (Permission, error) {
	codename = core.CleanString(codename, true /* lower */)
	if codename == "" {
		return Permission{}, core.NewFieldValidationError("codename", errors.New("codename is required"))
	}
	return svc.repo.CreatePermission(ctx, Permission{Codename: codename, Name: core.CleanString(name)})
}

func (svc *Service) CreateGroup(ctx context.Context, orgID, name string, codenames []string) (Group, error) {
	if _, err := svc.repo.GetOrganization(ctx, orgID); err != nil {
		return Group{}, err
	}
	return svc.repo.CreateGroup(ctx, Group{
		OrganizationID: orgID,
		Name:           core.CleanString(name),
		Permissions:    core.Unique(codenames),
	})
}

func (svc *Service) QueryGroups(ctx context.Context, orgID string) ([]Group, error) {
	return svc.repo.QueryGroups(ctx, orgID)
}

func (svc *Service) QueryPermissions(ctx context.Context) ([]Permission, error) {
	return svc.repo.QueryPermissions(ctx)
}
