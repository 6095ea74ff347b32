package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/examinator/core/license"
	"github.com/trezcool/examinator/core/saas"
	"github.com/trezcool/examinator/core/user"
)

type (
	saasAPI struct {
		svc      *saas.Service
		users    *user.Service
		licenses *license.Service
	}

	NewPermission struct {
		Codename string `json:"codename"`
		Name     string `json:"name"`
	}

	NewGroup struct {
		Name        string   `json:"name"`
		Permissions []string `json:"permissions"`
	}

	AccessResponse struct {
		Allowed bool `json:"allowed"`
	}

	UserGroups struct {
		GroupIDs []string `json:"group_ids"`
	}

	// PaperLimitsCheck asks whether one more question paper may be saved on a subject.
	PaperLimitsCheck struct {
		SubjectID string              `json:"subject_id"`
		Published bool                `json:"published"`
		Counts    license.PaperCounts `json:"counts"`
	}
)

func registerSaasAPI(g *echo.Group, svc *saas.Service, users *user.Service, licenses *license.Service) {
	api := saasAPI{svc: svc, users: users, licenses: licenses}

	og := g.Group("/organizations")
	og.GET("", api.queryOrganizations)
	og.POST("", api.createOrganization)
	og.GET("/:id", api.retrieveOrganization)
	og.PUT("/:id/usage-limit", api.saveUsageLimit)
	og.POST("/:id/recompute", api.recompute)
	og.POST("/:id/paper-limits", api.validatePaperLimits)
	og.GET("/:id/grants", api.queryGrants)
	og.GET("/:id/groups", api.queryGroups)
	og.POST("/:id/groups", api.createGroup)

	g.GET("/permissions", api.queryPermissions)
	g.POST("/permissions", api.createPermission)

	ug := g.Group("/users")
	ug.GET("", api.queryUsers)
	ug.POST("", api.createUser)
	ug.GET("/roles", api.queryRoles)
	ug.GET("/:id", api.retrieveUser)
	ug.DELETE("/:id", api.deleteUser)
	ug.GET("/:id/profile", api.retrieveProfile)
	ug.PUT("/:id/groups", api.setUserGroups)
	ug.GET("/:id/permissions/:codename", api.hasPermission)
	ug.GET("/:id/nodes/:nodeID", api.canAccessNode)
}

// Organizations

func (api *saasAPI) queryOrganizations(ctx echo.Context) error {
	orgs, err := api.svc.QueryOrganizations(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying organizations")
	}
	return ctx.JSON(http.StatusOK, orgs)
}

func (api *saasAPI) createOrganization(ctx echo.Context) error {
	var data saas.NewOrganization
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewOrganization")
	}
	org, err := api.svc.CreateOrganization(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, org)
}

func (api *saasAPI) retrieveOrganization(ctx echo.Context) error {
	org, err := api.svc.GetOrganization(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, org)
}

func (api *saasAPI) saveUsageLimit(ctx echo.Context) error {
	var data saas.UsageLimit
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UsageLimit")
	}
	data.OrganizationID = ctx.Param("id")
	limit, err := api.svc.SaveUsageLimit(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, limit)
}

// recompute re-runs license propagation for the organization, revoking what is no longer licensed.
func (api *saasAPI) recompute(ctx echo.Context) error {
	res, err := api.licenses.Recompute(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *saasAPI) validatePaperLimits(ctx echo.Context) error {
	var data PaperLimitsCheck
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PaperLimitsCheck")
	}
	err := api.licenses.ValidatePaperLimits(ctx.Request().Context(), ctx.Param("id"), data.SubjectID, data.Published, data.Counts)
	if err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *saasAPI) queryGrants(ctx echo.Context) error {
	c := ctx.Request().Context()
	if _, err := api.svc.GetOrganization(c, ctx.Param("id")); err != nil {
		return err
	}
	grants, err := api.licenses.QueryGrants(c, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying grants")
	}
	return ctx.JSON(http.StatusOK, grants)
}

func (api *saasAPI) queryGroups(ctx echo.Context) error {
	c := ctx.Request().Context()
	if _, err := api.svc.GetOrganization(c, ctx.Param("id")); err != nil {
		return err
	}
	groups, err := api.svc.QueryGroups(c, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying groups")
	}
	return ctx.JSON(http.StatusOK, groups)
}

func (api *saasAPI) createGroup(ctx echo.Context) error {
	var data NewGroup
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGroup")
	}
	group, err := api.svc.CreateGroup(ctx.Request().Context(), ctx.Param("id"), data.Name, data.Permissions)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, group)
}

// Permissions

func (api *saasAPI) queryPermissions(ctx echo.Context) error {
	perms, err := api.svc.QueryPermissions(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying permissions")
	}
	return ctx.JSON(http.StatusOK, perms)
}

func (api *saasAPI) createPermission(ctx echo.Context) error {
	var data NewPermission
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPermission")
	}
	perm, err := api.svc.CreatePermission(ctx.Request().Context(), data.Codename, data.Name)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, perm)
}

// Users

func (api *saasAPI) queryUsers(ctx echo.Context) error {
	var filter user.QueryFilter
	err := echo.QueryParamsBinder(ctx).
		String("organization_id", &filter.OrganizationID).
		Strings("role", &filter.Roles).
		BindError()
	if err != nil {
		return err
	}
	if ctx.QueryParam("is_active") != "" {
		var isActive bool
		if err := echo.QueryParamsBinder(ctx).Bool("is_active", &isActive).BindError(); err != nil {
			return err
		}
		filter.IsActive = &isActive
	}

	users, err := api.users.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	return ctx.JSON(http.StatusOK, users)
}

func (api *saasAPI) createUser(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	c := ctx.Request().Context()
	if data.OrganizationID != "" {
		if _, err := api.svc.GetOrganization(c, data.OrganizationID); err != nil {
			return err
		}
	}
	usr, err := api.users.Create(c, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (api *saasAPI) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, user.Roles)
}

func (api *saasAPI) retrieveUser(ctx echo.Context) error {
	usr, err := api.users.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *saasAPI) deleteUser(ctx echo.Context) error {
	if err := api.users.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *saasAPI) setUserGroups(ctx echo.Context) error {
	var data UserGroups
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UserGroups")
	}
	prof, err := api.users.SetGroups(ctx.Request().Context(), ctx.Param("id"), data.GroupIDs)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, prof)
}

func (api *saasAPI) retrieveProfile(ctx echo.Context) error {
	prof, err := api.users.GetProfile(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, prof)
}

func (api *saasAPI) hasPermission(ctx echo.Context) error {
	ok, err := api.users.HasPermission(ctx.Request().Context(), ctx.Param("id"), ctx.Param("codename"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, AccessResponse{Allowed: ok})
}

func (api *saasAPI) canAccessNode(ctx echo.Context) error {
	ok, err := api.users.CanAccessNode(ctx.Request().Context(), ctx.Param("id"), ctx.Param("nodeID"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, AccessResponse{Allowed: ok})
}
