package license

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/curriculum"
	"github.com/trezcool/examinator/core/saas"
	"github.com/trezcool/examinator/core/user"
)

var nowFunc = time.Now // mockable

// Direction tells a recomputation which users to target.
type Direction int

const (
	// Grant targets only the organization admins.
	Grant Direction = iota
	// Revoke targets every user of the organization.
	Revoke
)

func (d Direction) String() string {
	if d == Revoke {
		return "revoke"
	}
	return "grant"
}

// Result describes what a recomputation wrote.
type Result struct {
	OrganizationID      string    `json:"organization_id"`
	Direction           Direction `json:"-"`
	ActiveGrants        int       `json:"active_grants"`
	Nodes               []string  `json:"nodes"`
	Permissions         []string  `json:"permissions"`
	Targets             []string  `json:"targets"`
	SupportedCurriculum []string  `json:"supported_curriculum"`
}

// SweepReport lists the outcome of a sweep per organization.
type SweepReport struct {
	Succeeded []string         `json:"succeeded"`
	Failed    map[string]error `json:"-"`
}

// Engine keeps user academic streams and permissions in line with the active license grants
// of their organization.
type Engine struct {
	tx      core.Transactor
	tree    *curriculum.Tree
	orgRepo saas.Repository
	usrRepo user.Repository
	cache   user.PermissionCache
	log     core.Logger
}

func NewEngine(
	tx core.Transactor,
	tree *curriculum.Tree,
	orgRepo saas.Repository,
	usrRepo user.Repository,
	cache user.PermissionCache,
	logger core.Logger,
) *Engine {
	return &Engine{
		tx:      tx,
		tree:    tree,
		orgRepo: orgRepo,
		usrRepo: usrRepo,
		cache:   cache,
		log:     logger,
	}
}

// Recompute re-derives the organization's accessible content and permissions from its active
// grants and writes them onto the targeted users, atomically.
func (e *Engine) Recompute(ctx context.Context, orgID string, dir Direction) (Result, error) {
	var res Result
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		res, err = e.recompute(ctx, orgID, dir)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Sweep recomputes every organization with the Revoke direction, catching grants that expired
// without any mutation. Each organization runs in its own transaction; a failure is logged and
// the sweep moves on.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{Succeeded: []string{}, Failed: map[string]error{}}

	orgs, err := e.orgRepo.QueryOrganizations(ctx)
	if err != nil {
		return report, errors.Wrap(err, "querying organizations")
	}
	for _, org := range orgs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, err := e.Recompute(ctx, org.ID, Revoke); err != nil {
			e.log.Error("license sweep failed", "org_id", org.ID, "error", err)
			report.Failed[org.ID] = err
			continue
		}
		report.Succeeded = append(report.Succeeded, org.ID)
	}

	e.log.Info("license sweep done", "succeeded", len(report.Succeeded), "failed", len(report.Failed))
	return report, nil
}

// recompute runs inside the caller's transaction.
func (e *Engine) recompute(ctx context.Context, orgID string, dir Direction) (Result, error) {
	res, err := e.apply(ctx, orgID, dir)
	if err == nil {
		return res, nil
	}
	var missing *MissingUsageConfigurationError
	var recErr *RecomputationError
	if errors.As(err, &missing) || errors.As(err, &recErr) {
		return Result{}, err
	}
	return Result{}, &RecomputationError{OrganizationID: orgID, Err: err}
}

func (e *Engine) apply(ctx context.Context, orgID string, dir Direction) (Result, error) {
	if _, err := e.orgRepo.GetOrganization(ctx, orgID); err != nil {
		return Result{}, errors.Wrap(err, "getting organization")
	}
	limit, err := e.orgRepo.GetUsageLimit(ctx, orgID)
	if err != nil {
		if errors.Cause(err) == saas.ErrUsageLimitNotFound {
			return Result{}, &MissingUsageConfigurationError{OrganizationID: orgID}
		}
		return Result{}, errors.Wrap(err, "getting usage limit")
	}

	// grants still valid today
	grants, err := e.orgRepo.QueryGrants(ctx, orgID)
	if err != nil {
		return Result{}, errors.Wrap(err, "querying grants")
	}
	today := core.Date(nowFunc())
	active := make([]saas.LicenseGrant, 0, len(grants))
	for _, g := range grants {
		if g.IsActive(today) {
			active = append(active, g)
		}
	}

	// licensed nodes, with their ancestors and descendants
	closure, err := e.nodeClosure(ctx, active)
	if err != nil {
		return Result{}, err
	}
	nodeIDs := make([]string, 0, len(closure))
	supported := make([]string, 0)
	for id, n := range closure {
		nodeIDs = append(nodeIDs, id)
		if n.IsRoot() && n.Kind.IsRoot() {
			supported = append(supported, id)
		}
	}
	nodeIDs = core.NewStringSet(nodeIDs...).Sorted()
	supported = core.NewStringSet(supported...).Sorted()

	// permissions of the active grants
	permSet := core.NewStringSet()
	for _, g := range active {
		permSet.Add(g.Permissions...)
	}
	perms := permSet.Sorted()

	// granting only reaches admins, revoking reaches everyone
	members, err := e.usrRepo.QueryUsers(ctx, user.QueryFilter{OrganizationID: orgID})
	if err != nil {
		return Result{}, errors.Wrap(err, "querying organization users")
	}
	var targets, admins, others []string
	activeUsers := 0
	for _, usr := range members {
		if usr.IsActive {
			activeUsers++
		}
		if dir == Grant && !usr.IsAdmin() {
			continue
		}
		targets = append(targets, usr.ID)
		if usr.IsAdmin() {
			admins = append(admins, usr.ID)
		} else {
			others = append(others, usr.ID)
		}
	}

	if len(targets) > 0 {
		if err := e.usrRepo.ReplaceAcademicStreams(ctx, targets, nodeIDs, len(active) > 0); err != nil {
			return Result{}, errors.Wrap(err, "replacing academic streams")
		}
	}
	if len(others) > 0 {
		if err := e.usrRepo.ReplacePermissions(ctx, others, []string{}); err != nil {
			return Result{}, errors.Wrap(err, "clearing permissions")
		}
	}
	if len(admins) > 0 {
		if err := e.usrRepo.ReplacePermissions(ctx, admins, perms); err != nil {
			return Result{}, errors.Wrap(err, "replacing admin permissions")
		}
	}
	pruned, err := e.pruneGroups(ctx, orgID, permSet)
	if err != nil {
		return Result{}, err
	}
	if err := e.orgRepo.SetSupportedCurriculum(ctx, orgID, supported); err != nil {
		return Result{}, errors.Wrap(err, "setting supported curriculum")
	}

	if limit.MaxUsers > 0 && activeUsers > limit.MaxUsers {
		e.log.Warn("organization exceeds its user limit",
			"org_id", orgID, "active_users", activeUsers, "max_users", limit.MaxUsers)
	}

	// stale cached permissions must not outlive the commit
	invalidated := targets
	if pruned {
		invalidated = make([]string, 0, len(members))
		for _, usr := range members {
			invalidated = append(invalidated, usr.ID)
		}
	}
	if len(invalidated) > 0 {
		core.OnCommit(ctx, func() {
			if err := e.cache.Invalidate(context.Background(), invalidated...); err != nil {
				e.log.Error("invalidating permission cache", "org_id", orgID, "error", err)
			}
		})
	}

	e.log.Info("licenses recomputed",
		"org_id", orgID,
		"direction", dir.String(),
		"active_grants", len(active),
		"nodes", len(nodeIDs),
		"permissions", len(perms),
		"targets", len(targets))

	if targets == nil {
		targets = []string{}
	}
	return Result{
		OrganizationID:      orgID,
		Direction:           dir,
		ActiveGrants:        len(active),
		Nodes:               nodeIDs,
		Permissions:         perms,
		Targets:             targets,
		SupportedCurriculum: supported,
	}, nil
}

// nodeClosure expands the licensed nodes with all their ancestors and descendants.
// A licensed node already inside an expanded subtree adds nothing and is skipped.
func (e *Engine) nodeClosure(ctx context.Context, grants []saas.LicenseGrant) (map[string]curriculum.Node, error) {
	closure := make(map[string]curriculum.Node)
	expanded := core.NewStringSet()

	for _, g := range grants {
		for _, id := range g.NodeIDs {
			if expanded.Has(id) {
				continue
			}
			node, err := e.tree.Get(ctx, id)
			if err != nil {
				return nil, errors.Wrapf(err, "getting licensed node %s", id)
			}
			ancestors, err := e.tree.Ancestors(ctx, node, false)
			if err != nil {
				return nil, err
			}
			subtree, err := e.tree.Descendants(ctx, node, true)
			if err != nil {
				return nil, err
			}
			for _, n := range ancestors {
				closure[n.ID] = n
			}
			for _, n := range subtree {
				closure[n.ID] = n
				expanded.Add(n.ID)
			}
		}
	}
	return closure, nil
}

// pruneGroups drops from every organization group the permissions no active grant provides.
// It reports whether any group lost a permission.
func (e *Engine) pruneGroups(ctx context.Context, orgID string, licensed core.StringSet) (bool, error) {
	groups, err := e.orgRepo.QueryGroups(ctx, orgID)
	if err != nil {
		return false, errors.Wrap(err, "querying groups")
	}
	pruned := false
	for _, g := range groups {
		kept := make([]string, 0, len(g.Permissions))
		for _, p := range g.Permissions {
			if licensed.Has(p) {
				kept = append(kept, p)
			}
		}
		if len(kept) == len(g.Permissions) {
			continue
		}
		if err := e.orgRepo.SetGroupPermissions(ctx, g.ID, kept); err != nil {
			return false, errors.Wrapf(err, "pruning permissions of group %s", g.ID)
		}
		pruned = true
		e.log.Debug("group permissions revoked",
			"org_id", orgID, "group_id", g.ID, "revoked", len(g.Permissions)-len(kept))
	}
	return pruned, nil
}
