package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/examinator/core/license"
	"github.com/trezcool/examinator/core/saas"
)

type (
	licenseAPI struct {
		svc *license.Service
	}

	NodesRequest struct {
		NodeIDs []string `json:"node_ids"`
	}

	PermissionsRequest struct {
		Permissions []string `json:"permissions"`
	}

	SweepResponse struct {
		Succeeded []string          `json:"succeeded"`
		Failed    map[string]string `json:"failed"`
	}
)

func registerLicenseAPI(g *echo.Group, svc *license.Service) {
	api := licenseAPI{svc: svc}

	lg := g.Group("/grants")
	lg.POST("", api.create)
	lg.GET("/:id", api.retrieve)
	lg.PATCH("/:id", api.update)
	lg.DELETE("/:id", api.destroy)
	lg.POST("/:id/nodes", api.addNodes)
	lg.PUT("/:id/nodes", api.setNodes)
	lg.POST("/:id/nodes/remove", api.removeNodes)
	lg.POST("/:id/nodes/clear", api.clearNodes)
	lg.POST("/:id/permissions", api.addPermissions)
	lg.POST("/:id/permissions/remove", api.removePermissions)
	lg.POST("/:id/consume", api.consume)

	g.POST("/sweep", api.sweep)
}

// Handlers

func (api *licenseAPI) create(ctx echo.Context) error {
	var data license.NewGrant
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGrant")
	}
	grant, err := api.svc.CreateGrant(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, grant)
}

func (api *licenseAPI) retrieve(ctx echo.Context) error {
	grant, err := api.svc.GetGrant(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, grant)
}

func (api *licenseAPI) update(ctx echo.Context) error {
	var data license.UpdateGrant
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateGrant")
	}
	grant, err := api.svc.UpdateGrant(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, grant)
}

func (api *licenseAPI) destroy(ctx echo.Context) error {
	if err := api.svc.DeleteGrant(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *licenseAPI) addNodes(ctx echo.Context) error {
	return api.withNodes(ctx, func(data NodesRequest) (saas.LicenseGrant, error) {
		return api.svc.AddNodes(ctx.Request().Context(), ctx.Param("id"), data.NodeIDs...)
	})
}

func (api *licenseAPI) setNodes(ctx echo.Context) error {
	return api.withNodes(ctx, func(data NodesRequest) (saas.LicenseGrant, error) {
		return api.svc.SetNodes(ctx.Request().Context(), ctx.Param("id"), data.NodeIDs)
	})
}

func (api *licenseAPI) removeNodes(ctx echo.Context) error {
	return api.withNodes(ctx, func(data NodesRequest) (saas.LicenseGrant, error) {
		return api.svc.RemoveNodes(ctx.Request().Context(), ctx.Param("id"), data.NodeIDs...)
	})
}

func (api *licenseAPI) withNodes(ctx echo.Context, fn func(data NodesRequest) (saas.LicenseGrant, error)) error {
	var data NodesRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NodesRequest")
	}
	grant, err := fn(data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, grant)
}

func (api *licenseAPI) clearNodes(ctx echo.Context) error {
	grant, err := api.svc.ClearNodes(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, grant)
}

func (api *licenseAPI) addPermissions(ctx echo.Context) error {
	return api.withPermissions(ctx, func(data PermissionsRequest) (saas.LicenseGrant, error) {
		return api.svc.AddPermissions(ctx.Request().Context(), ctx.Param("id"), data.Permissions...)
	})
}

func (api *licenseAPI) removePermissions(ctx echo.Context) error {
	return api.withPermissions(ctx, func(data PermissionsRequest) (saas.LicenseGrant, error) {
		return api.svc.RemovePermissions(ctx.Request().Context(), ctx.Param("id"), data.Permissions...)
	})
}

func (api *licenseAPI) withPermissions(ctx echo.Context, fn func(data PermissionsRequest) (saas.LicenseGrant, error)) error {
	var data PermissionsRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PermissionsRequest")
	}
	grant, err := fn(data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, grant)
}

func (api *licenseAPI) consume(ctx echo.Context) error {
	grant, err := api.svc.ConsumeQuestionPaper(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, grant)
}

func (api *licenseAPI) sweep(ctx echo.Context) error {
	report, err := api.svc.Sweep(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "sweeping licenses")
	}
	resp := SweepResponse{Succeeded: report.Succeeded, Failed: make(map[string]string, len(report.Failed))}
	for orgID, err := range report.Failed {
		resp.Failed[orgID] = err.Error()
	}
	return ctx.JSON(http.StatusOK, resp)
}
