package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/examinator/core/curriculum"
)

type (
	curriculumAPI struct {
		tree *curriculum.Tree
		svc  *curriculum.Service
	}

	// MoveRequest re-parents a node. An empty ParentID makes it a root.
	MoveRequest struct {
		ParentID string `json:"parent_id"`
		Order    *int   `json:"order"`
	}

	NodeDetail struct {
		curriculum.Node
		Path string `json:"path"`
	}
)

func registerCurriculumAPI(g *echo.Group, tree *curriculum.Tree, svc *curriculum.Service) {
	api := curriculumAPI{tree: tree, svc: svc}

	cg := g.Group("/curriculum")
	cg.GET("", api.roots)
	cg.POST("", api.create)
	cg.GET("/kinds", api.kinds)

	// detail endpoints
	cg.GET("/:id", api.retrieve)
	cg.PUT("/:id", api.update)
	cg.DELETE("/:id", api.destroy)
	cg.GET("/:id/tree", api.serialize)
	cg.GET("/:id/ancestors", api.ancestors)
	cg.GET("/:id/descendants", api.descendants)
	cg.GET("/:id/siblings", api.siblings)
	cg.POST("/:id/move", api.move)
}

// Handlers

func (api *curriculumAPI) roots(ctx echo.Context) error {
	roots, err := api.tree.Roots(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying roots")
	}
	return ctx.JSON(http.StatusOK, roots)
}

func (api *curriculumAPI) kinds(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, curriculum.Kinds)
}

func (api *curriculumAPI) create(ctx echo.Context) error {
	var data curriculum.NewNode
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewNode")
	}
	node, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, node)
}

func (api *curriculumAPI) retrieve(ctx echo.Context) error {
	c := ctx.Request().Context()
	node, err := api.tree.Get(c, ctx.Param("id"))
	if err != nil {
		return err
	}
	path, err := api.tree.PathDisplay(c, node, " > ")
	if err != nil {
		return errors.Wrap(err, "getting node path")
	}
	return ctx.JSON(http.StatusOK, NodeDetail{Node: node, Path: path})
}

func (api *curriculumAPI) update(ctx echo.Context) error {
	var data curriculum.UpdateNode
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateNode")
	}
	node, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, node)
}

func (api *curriculumAPI) destroy(ctx echo.Context) error {
	if _, err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// serialize renders the subtree, down to ?depth=N levels when given.
func (api *curriculumAPI) serialize(ctx echo.Context) error {
	var depth *int
	if ctx.QueryParam("depth") != "" {
		var d int
		if err := echo.QueryParamsBinder(ctx).Int("depth", &d).BindError(); err != nil {
			return err
		}
		depth = &d
	}

	c := ctx.Request().Context()
	node, err := api.tree.Get(c, ctx.Param("id"))
	if err != nil {
		return err
	}
	out, err := api.tree.Serialize(c, node, depth)
	if err != nil {
		return errors.Wrap(err, "serializing node")
	}
	return ctx.JSON(http.StatusOK, out)
}

func (api *curriculumAPI) ancestors(ctx echo.Context) error {
	return api.related(ctx, api.tree.Ancestors)
}

func (api *curriculumAPI) descendants(ctx echo.Context) error {
	return api.related(ctx, api.tree.Descendants)
}

func (api *curriculumAPI) siblings(ctx echo.Context) error {
	return api.related(ctx, api.tree.Siblings)
}

// related lists the nodes fn finds around the :id node, itself included with ?include_self=true.
func (api *curriculumAPI) related(
	ctx echo.Context,
	fn func(c context.Context, node curriculum.Node, includeSelf bool) ([]curriculum.Node, error),
) error {
	var includeSelf bool
	if err := echo.QueryParamsBinder(ctx).Bool("include_self", &includeSelf).BindError(); err != nil {
		return err
	}

	c := ctx.Request().Context()
	node, err := api.tree.Get(c, ctx.Param("id"))
	if err != nil {
		return err
	}
	nodes, err := fn(c, node, includeSelf)
	if err != nil {
		return errors.Wrap(err, "querying related nodes")
	}
	return ctx.JSON(http.StatusOK, nodes)
}

func (api *curriculumAPI) move(ctx echo.Context) error {
	var data MoveRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MoveRequest")
	}
	node, err := api.tree.MoveTo(ctx.Request().Context(), ctx.Param("id"), data.ParentID, data.Order)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, node)
}
