package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/curriculum"
	"github.com/trezcool/examinator/core/saas"
)

// LicensableKinds are the node kinds a grant may reference directly.
var LicensableKinds = []curriculum.Kind{
	curriculum.KindBoard,
	curriculum.KindCompetitive,
	curriculum.KindClass,
	curriculum.KindSubject,
}

func isLicensable(k curriculum.Kind) bool {
	for _, lk := range LicensableKinds {
		if k == lk {
			return true
		}
	}
	return false
}

type (
	// NewGrant contains information needed to license content to an organization.
	NewGrant struct {
		OrganizationID    string    `json:"organization_id" validate:"required"`
		NodeIDs           []string  `json:"node_ids"`
		Permissions       []string  `json:"permissions"`
		MaxQuestionPapers int       `json:"max_question_papers" validate:"min=0"`
		PurchasedOn       time.Time `json:"purchased_on"`
		ValidUntil        null.Time `json:"valid_until"`
	}

	// UpdateGrant changes the scalar fields of a grant. A nil ValidUntil keeps the current
	// expiry; NeverExpires clears it.
	UpdateGrant struct {
		MaxQuestionPapers *int       `json:"max_question_papers" validate:"omitempty,min=0"`
		ValidUntil        *time.Time `json:"valid_until"`
		NeverExpires      bool       `json:"never_expires"`
	}

	// Service owns every license grant mutation. Each one recomputes the owning organization
	// in the same transaction.
	Service struct {
		repo   saas.Repository
		tree   *curriculum.Tree
		engine *Engine
		tx     core.Transactor
	}
)

func (ng *NewGrant) Validate() error {
	ng.OrganizationID = core.CleanString(ng.OrganizationID)
	ng.NodeIDs = core.Unique(ng.NodeIDs)
	ng.Permissions = cleanCodenames(ng.Permissions)
	return core.Validate.Struct(ng)
}

func (ug *UpdateGrant) Validate() error {
	if ug.NeverExpires && ug.ValidUntil != nil {
		return core.NewFieldValidationError("valid_until", errors.New("cannot be set together with never_expires"))
	}
	return core.Validate.Struct(ug)
}

func NewService(repo saas.Repository, tree *curriculum.Tree, engine *Engine, tx core.Transactor) *Service {
	return &Service{repo: repo, tree: tree, engine: engine, tx: tx}
}

func (svc *Service) GetGrant(ctx context.Context, id string) (saas.LicenseGrant, error) {
	return svc.repo.GetGrant(ctx, id)
}

func (svc *Service) QueryGrants(ctx context.Context, orgID string) ([]saas.LicenseGrant, error) {
	return svc.repo.QueryGrants(ctx, orgID)
}

var _ curriculum.DeleteHook = (*Service)(nil) // interface compliance check

// BeforeDelete finds the organizations licensing any of the doomed nodes or an ancestor of them,
// and revokes what they lose once the nodes are gone. nodeIDs[0] is the subtree root.
func (svc *Service) BeforeDelete(ctx context.Context, nodeIDs []string) (func(ctx context.Context) error, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	root, err := svc.tree.Get(ctx, nodeIDs[0])
	if err != nil {
		return nil, pkgerrors.Wrap(err, "getting deleted node")
	}
	ancestors, err := svc.tree.Ancestors(ctx, root, false)
	if err != nil {
		return nil, err
	}
	lookup := copyOf(nodeIDs)
	for _, a := range ancestors {
		lookup = append(lookup, a.ID)
	}
	orgIDs, err := svc.repo.QueryLicensingOrganizations(ctx, lookup...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "querying licensing organizations")
	}
	if len(orgIDs) == 0 {
		return nil, nil
	}
	return func(ctx context.Context) error {
		for _, orgID := range orgIDs {
			if _, err := svc.engine.recompute(ctx, orgID, Revoke); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// Recompute is the administrative re-run for one organization.
func (svc *Service) Recompute(ctx context.Context, orgID string) (Result, error) {
	return svc.engine.Recompute(ctx, orgID, Revoke)
}

// Sweep is the administrative re-run for every organization.
func (svc *Service) Sweep(ctx context.Context) (SweepReport, error) {
	return svc.engine.Sweep(ctx)
}

func (svc *Service) CreateGrant(ctx context.Context, ng NewGrant) (saas.LicenseGrant, error) {
	if err := ng.Validate(); err != nil {
		return saas.LicenseGrant{}, err
	}
	if ng.PurchasedOn.IsZero() {
		ng.PurchasedOn = nowFunc()
	}

	var grant saas.LicenseGrant
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := svc.repo.GetOrganization(ctx, ng.OrganizationID); err != nil {
			if pkgerrors.Cause(err) == saas.ErrNotFound {
				return core.NewFieldValidationError("organization_id", err)
			}
			return pkgerrors.Wrap(err, "getting organization")
		}
		if err := svc.checkNodes(ctx, ng.NodeIDs); err != nil {
			return err
		}
		if err := svc.checkPermissions(ctx, ng.Permissions); err != nil {
			return err
		}

		var err error
		grant, err = svc.repo.CreateGrant(ctx, saas.LicenseGrant{
			OrganizationID:    ng.OrganizationID,
			NodeIDs:           ng.NodeIDs,
			Permissions:       ng.Permissions,
			MaxQuestionPapers: ng.MaxQuestionPapers,
			PurchasedOn:       ng.PurchasedOn.UTC(),
			ValidUntil:        dateOnly(ng.ValidUntil),
		})
		if err != nil {
			return pkgerrors.Wrap(err, "creating grant")
		}
		_, err = svc.engine.recompute(ctx, grant.OrganizationID, Grant)
		return err
	})
	if err != nil {
		return saas.LicenseGrant{}, err
	}
	return grant, nil
}

// UpdateGrant saves the scalar fields of a grant. Setting or shortening the expiry revokes,
// anything else grants.
func (svc *Service) UpdateGrant(ctx context.Context, id string, ug UpdateGrant) (saas.LicenseGrant, error) {
	if err := ug.Validate(); err != nil {
		return saas.LicenseGrant{}, err
	}
	return svc.mutate(ctx, id, func(ctx context.Context, g *saas.LicenseGrant) (Direction, error) {
		dir := Grant
		if ug.MaxQuestionPapers != nil {
			g.MaxQuestionPapers = *ug.MaxQuestionPapers
		}
		switch {
		case ug.NeverExpires:
			g.ValidUntil = null.Time{}
		case ug.ValidUntil != nil:
			until := core.Date(*ug.ValidUntil)
			if !g.ValidUntil.Valid || until.Before(core.Date(g.ValidUntil.Time)) {
				dir = Revoke
			}
			g.ValidUntil = null.TimeFrom(until)
		}

		updated, err := svc.repo.UpdateGrant(ctx, *g)
		if err != nil {
			return dir, pkgerrors.Wrap(err, "updating grant")
		}
		*g = updated
		return dir, nil
	})
}

// DeleteGrant removes the grant and revokes what only it provided.
func (svc *Service) DeleteGrant(ctx context.Context, id string) error {
	_, err := svc.mutate(ctx, id, func(ctx context.Context, g *saas.LicenseGrant) (Direction, error) {
		return Revoke, pkgerrors.Wrap(svc.repo.DeleteGrant(ctx, g.ID), "deleting grant")
	})
	return err
}

func (svc *Service) AddNodes(ctx context.Context, grantID string, nodeIDs ...string) (saas.LicenseGrant, error) {
	nodeIDs = core.Unique(nodeIDs)
	return svc.mutate(ctx, grantID, func(ctx context.Context, g *saas.LicenseGrant) (Direction, error) {
		if err := svc.checkNodes(ctx, nodeIDs); err != nil {
			return Grant, err
		}
		return Grant, svc.setNodes(ctx, g, core.Unique(append(copyOf(g.NodeIDs), nodeIDs...)))
	})
}

func (svc *Service) RemoveNodes(ctx context.Context, grantID string, nodeIDs ...string) (saas.LicenseGrant, error) {
	return svc.mutate(ctx, grantID, func(ctx context.Context, g *saas.LicenseGrant) (Direction, error) {
		return Revoke, svc.setNodes(ctx, g, without(g.NodeIDs, nodeIDs))
	})
}

func (svc *Service) ClearNodes(ctx context.Context, grantID string) (saas.LicenseGrant, error) {
	return svc.mutate(ctx, grantID, func(ctx context.Context, g *saas.LicenseGrant) (Direction, error) {
		return Revoke, svc.setNodes(ctx, g, []string{})
	})
}

// SetNodes replaces the node set of a grant. It revokes as soon as one node goes away.
func (svc *Service) SetNodes(ctx context.Context, grantID string, nodeIDs []string) (saas.LicenseGrant, error) {
	nodeIDs = core.Unique(nodeIDs)
	return svc.mutate(ctx, grantID, func(ctx context.Context, g *saas.LicenseGrant) (Direction, error) {
		if err := svc.checkNodes(ctx, nodeIDs); err != nil {
			return Grant, err
		}
		dir := Grant
		if len(without(g.NodeIDs, nodeIDs)) > 0 {
			dir = Revoke
		}
		return dir, svc.setNodes(ctx, g, nodeIDs)
	})
}

func (svc *Service) AddPermissions(ctx context.Context, grantID string, codenames ...string) (saas.LicenseGrant, error) {
	codenames = cleanCodenames(codenames)
	return svc.mutate(ctx, grantID, func(ctx context.Context, g *saas.LicenseGrant) (Direction, error) {
		if err := svc.checkPermissions(ctx, codenames); err != nil {
			return Grant, err
		}
		return Grant, svc.setPermissions(ctx, g, core.Unique(append(copyOf(g.Permissions), codenames...)))
	})
}

func (svc *Service) RemovePermissions(ctx context.Context, grantID string, codenames ...string) (saas.LicenseGrant, error) {
	codenames = cleanCodenames(codenames)
	return svc.mutate(ctx, grantID, func(ctx context.Context, g *saas.LicenseGrant) (Direction, error) {
		return Revoke, svc.setPermissions(ctx, g, without(g.Permissions, codenames))
	})
}

// ConsumeQuestionPaper records one more question paper created under the grant.
func (svc *Service) ConsumeQuestionPaper(ctx context.Context, grantID string) (saas.LicenseGrant, error) {
	var grant saas.LicenseGrant
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		g, err := svc.repo.GetGrant(ctx, grantID)
		if err != nil {
			return err
		}
		if !g.IsActive(nowFunc()) {
			return ErrGrantInactive
		}
		if g.QuestionPapersCreated+1 > g.MaxQuestionPapers {
			return ErrQuotaExceeded
		}
		g.QuestionPapersCreated++
		grant, err = svc.repo.UpdateGrant(ctx, g)
		return pkgerrors.Wrap(err, "updating grant")
	})
	if err != nil {
		return saas.LicenseGrant{}, err
	}
	return grant, nil
}

// mutate loads the grant, applies fn and recomputes the organization, all in one transaction.
func (svc *Service) mutate(
	ctx context.Context,
	grantID string,
	fn func(ctx context.Context, g *saas.LicenseGrant) (Direction, error),
) (saas.LicenseGrant, error) {
	var grant saas.LicenseGrant
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		g, err := svc.repo.GetGrant(ctx, grantID)
		if err != nil {
			return err
		}
		dir, err := fn(ctx, &g)
		if err != nil {
			return err
		}
		if _, err := svc.engine.recompute(ctx, g.OrganizationID, dir); err != nil {
			return err
		}
		grant = g
		return nil
	})
	if err != nil {
		return saas.LicenseGrant{}, err
	}
	return grant, nil
}

func (svc *Service) setNodes(ctx context.Context, g *saas.LicenseGrant, nodeIDs []string) error {
	if err := svc.repo.SetGrantNodes(ctx, g.ID, nodeIDs); err != nil {
		return pkgerrors.Wrap(err, "setting grant nodes")
	}
	g.NodeIDs = nodeIDs
	return nil
}

func (svc *Service) setPermissions(ctx context.Context, g *saas.LicenseGrant, codenames []string) error {
	if err := svc.repo.SetGrantPermissions(ctx, g.ID, codenames); err != nil {
		return pkgerrors.Wrap(err, "setting grant permissions")
	}
	g.Permissions = codenames
	return nil
}

func (svc *Service) checkNodes(ctx context.Context, nodeIDs []string) error {
	for _, id := range nodeIDs {
		node, err := svc.tree.Get(ctx, id)
		if err != nil {
			if pkgerrors.Cause(err) == curriculum.ErrNotFound {
				return core.NewFieldValidationError("node_ids", fmt.Errorf("node %s does not exist", id))
			}
			return pkgerrors.Wrapf(err, "getting node %s", id)
		}
		if !isLicensable(node.Kind) {
			return core.NewFieldValidationError("node_ids", fmt.Errorf("%s %q cannot be licensed", node.Kind, node.Name))
		}
	}
	return nil
}

func (svc *Service) checkPermissions(ctx context.Context, codenames []string) error {
	if len(codenames) == 0 {
		return nil
	}
	perms, err := svc.repo.QueryPermissions(ctx, codenames...)
	if err != nil {
		return pkgerrors.Wrap(err, "querying permissions")
	}
	known := core.NewStringSet()
	for _, p := range perms {
		known.Add(p.Codename)
	}
	for _, c := range codenames {
		if !known.Has(c) {
			return core.NewFieldValidationError("permissions", fmt.Errorf("unknown permission %q", c))
		}
	}
	return nil
}

func cleanCodenames(codenames []string) []string {
	out := make([]string, len(codenames))
	for i, c := range codenames {
		out[i] = core.CleanString(c, true /* lower */)
	}
	return core.Unique(out)
}

func dateOnly(t null.Time) null.Time {
	if !t.Valid {
		return t
	}
	return null.TimeFrom(core.Date(t.Time))
}

func copyOf(vals []string) []string {
	return append(make([]string, 0, len(vals)), vals...)
}

// without returns the members of vals not in drop.
func without(vals, drop []string) []string {
	dropped := core.NewStringSet(drop...)
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if !dropped.Has(v) {
			out = append(out, v)
		}
	}
	return out
}
