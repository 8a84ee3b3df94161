package billing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/winnersdraw91/pacs-v2/internal/domain/identity"
	"github.com/winnersdraw91/pacs-v2/internal/domain/study"
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
	admin := auth.RequireRole(identity.RoleAdmin)

	api.POST("/billing", h.CreateBilling)
	api.GET("/billing", h.ListBillings)
	api.GET("/billing/:id", h.GetBilling)
	api.PATCH("/billing/:id/status", h.UpdateBillingStatus, admin)
	api.GET("/studies/:id/billing", h.GetBillingForStudy)

	api.POST("/pricing", h.CreatePricing, admin)
	api.GET("/pricing", h.ListPricing)
	api.GET("/pricing/:id", h.GetPricing)
	api.PATCH("/pricing/:id", h.UpdatePricing, admin)
}

func paramID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func queryCentre(c echo.Context) (*uuid.UUID, error) {
	raw := c.QueryParam("centre_id")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid centre_id")
	}
	return &id, nil
}

// -- Billing --

func (h *Handler) CreateBilling(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var in BillingInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.StudyID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "study_id is required")
	}
	if in.Currency != "" {
		cur, err := ParseCurrency(string(in.Currency))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		in.Currency = cur
	}
	b, err := h.svc.CreateBilling(c.Request().Context(), actor, in)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBilling(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBilling(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) GetBillingForStudy(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBillingForStudy(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBillings(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var f BillingFilter
	if f.CentreID, err = queryCentre(c); err != nil {
		return err
	}
	if raw := c.QueryParam("status"); raw != "" {
		f.Status = &raw
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListBillings(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) UpdateBillingStatus(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.UpdateBillingStatus(c.Request().Context(), actor, id, body.Status)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

// -- Pricing --

func (h *Handler) CreatePricing(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var p PricingConfig
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if p.Modality != "" {
		m, err := study.ParseModality(string(p.Modality))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		p.Modality = m
	}
	if p.Currency != "" {
		cur, err := ParseCurrency(string(p.Currency))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		p.Currency = cur
	}
	if err := h.svc.CreatePricing(c.Request().Context(), actor, &p); err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPricing(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPricing(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPricing(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	centreID, err := queryCentre(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPricing(c.Request().Context(), actor, centreID, pg.Limit, pg.Offset)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) UpdatePricing(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var up PricingUpdate
	if err := c.Bind(&up); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.UpdatePricing(c.Request().Context(), actor, id, up)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}
