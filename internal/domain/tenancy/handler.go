package tenancy

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/winnersdraw91/pacs-v2/internal/domain/identity"
	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
	"github.com/winnersdraw91/pacs-v2/internal/platform/auth"
	"github.com/winnersdraw91/pacs-v2/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/centres", h.ListCentres)
	api.GET("/centres/:id", h.GetCentre)
	api.POST("/centres", h.CreateCentre, auth.RequireRole(identity.RoleAdmin))
	api.PATCH("/centres/:id", h.UpdateCentre, auth.RequireRole(identity.RoleAdmin))
	api.DELETE("/centres/:id", h.DeleteCentre, auth.RequireRole(identity.RoleAdmin))

	api.GET("/users/me", h.Me)
	api.GET("/users", h.ListUsers)
	api.GET("/users/:id", h.GetUser)
	api.POST("/users", h.CreateUser, auth.RequireRole(identity.RoleCentreOperator))
	api.PATCH("/users/:id", h.UpdateUser, auth.RequireRole(identity.RoleAdmin))
	api.DELETE("/users/:id", h.DeleteUser, auth.RequireRole(identity.RoleAdmin))

	api.GET("/imaging-sources", h.ListImagingSources)
	api.GET("/imaging-sources/:id", h.GetImagingSource)
	api.POST("/imaging-sources", h.CreateImagingSource)
	api.PATCH("/imaging-sources/:id", h.UpdateImagingSource)
	api.DELETE("/imaging-sources/:id", h.DeleteImagingSource)
}

func paramID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func queryID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

// -- Centres --

func (h *Handler) CreateCentre(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var centre Centre
	if err := c.Bind(&centre); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateCentre(c.Request().Context(), actor, &centre); err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusCreated, centre)
}

func (h *Handler) GetCentre(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	centre, err := h.svc.GetCentre(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, centre)
}

func (h *Handler) ListCentres(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCentres(c.Request().Context(), actor, pg.Limit, pg.Offset)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) UpdateCentre(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var up CentreUpdate
	if err := c.Bind(&up); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	centre, err := h.svc.UpdateCentre(c.Request().Context(), actor, id, up)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, centre)
}

func (h *Handler) DeleteCentre(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteCentre(c.Request().Context(), actor, id); err != nil {
		return apperror.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Users --

func (h *Handler) CreateUser(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var u User
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u.ID = uuid.Nil
	if role, err := identity.ParseRole(string(u.Role)); err == nil {
		u.Role = role
	}
	if err := h.svc.CreateUser(c.Request().Context(), actor, &u); err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) Me(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	u, err := h.svc.GetUser(c.Request().Context(), actor, actor.ID)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) GetUser(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	u, err := h.svc.GetUser(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListUsers(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var f UserFilter
	if f.CentreID, err = queryID(c, "centre_id"); err != nil {
		return err
	}
	if raw := c.QueryParam("role"); raw != "" {
		role, err := identity.ParseRole(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Role = &role
	}
	if raw := c.QueryParam("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active")
		}
		f.Active = &active
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListUsers(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) UpdateUser(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var up UserUpdate
	if err := c.Bind(&up); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.UpdateUser(c.Request().Context(), actor, id, up)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) DeleteUser(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteUser(c.Request().Context(), actor, id); err != nil {
		return apperror.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Imaging sources --

func (h *Handler) CreateImagingSource(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var src ImagingSource
	if err := c.Bind(&src); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if src.CentreID == uuid.Nil && actor.HasCentre() {
		src.CentreID = *actor.CentreID
	}
	if err := h.svc.CreateImagingSource(c.Request().Context(), actor, &src); err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusCreated, src)
}

func (h *Handler) GetImagingSource(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	src, err := h.svc.GetImagingSource(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, src)
}

func (h *Handler) ListImagingSources(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	centreID, err := queryID(c, "centre_id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListImagingSources(c.Request().Context(), actor, centreID, pg.Limit, pg.Offset)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) UpdateImagingSource(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var up ImagingSourceUpdate
	if err := c.Bind(&up); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	src, err := h.svc.UpdateImagingSource(c.Request().Context(), actor, id, up)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, src)
}

func (h *Handler) DeleteImagingSource(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteImagingSource(c.Request().Context(), actor, id); err != nil {
		return apperror.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
