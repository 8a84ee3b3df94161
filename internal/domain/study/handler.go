package study

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/winnersdraw91/pacs-v2/internal/domain/identity"
	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
	"github.com/winnersdraw91/pacs-v2/internal/platform/auth"
	"github.com/winnersdraw91/pacs-v2/pkg/pagination"
)

// UploadField is the multipart field carrying instance files.
const UploadField = "files"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/studies", h.CreateStudy)
	api.GET("/studies", h.ListStudies)
	api.GET("/studies/:id", h.GetStudy)
	api.PATCH("/studies/:id", h.UpdateStudy)
	api.POST("/studies/:id/assign", h.AssignRadiologist,
		auth.RequireRole(identity.RoleRadiologist, identity.RoleCentreOperator))
	api.POST("/studies/:id/status", h.TransitionStatus)
	api.POST("/studies/:id/enrich", h.Enrich)
	api.GET("/studies/:id/instances", h.ListInstances)
	api.GET("/studies/:id/instances/:index", h.FetchInstance)

	api.POST("/studies/:id/reports", h.CreateReport)
	api.GET("/studies/:id/reports", h.ListReports)
	api.GET("/studies/:id/automated-report", h.GetAutomatedReport)
	api.GET("/reports/:id", h.GetReport)
	api.PATCH("/reports/:id", h.UpdateReport)
	api.POST("/reports/:id/verify", h.VerifyReport, auth.RequireRole(identity.RoleRadiologist))
}

func paramID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func optionalString(c echo.Context, name string) *string {
	if v := c.FormValue(name); v != "" {
		return &v
	}
	return nil
}

// readUpload turns the multipart form into an Upload.
func readUpload(c echo.Context) (Upload, error) {
	var in Upload
	bad := func(format string, args ...any) error {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf(format, args...))
	}

	form, err := c.MultipartForm()
	if err != nil {
		return in, bad("expected multipart form: %v", err)
	}

	in.PatientName = c.FormValue("patient_name")
	in.PatientGender = optionalString(c, "patient_gender")
	in.StudyType = optionalString(c, "study_type")
	in.Description = optionalString(c, "description")

	if raw := c.FormValue("patient_age"); raw != "" {
		age, err := strconv.Atoi(raw)
		if err != nil {
			return in, bad("invalid patient_age")
		}
		in.PatientAge = &age
	}
	if raw := c.FormValue("modality"); raw != "" {
		m, err := ParseModality(raw)
		if err != nil {
			return in, bad("%v", err)
		}
		in.Modality = m
	}
	if raw := c.FormValue("is_urgent"); raw != "" {
		urgent, err := strconv.ParseBool(raw)
		if err != nil {
			return in, bad("invalid is_urgent")
		}
		in.IsUrgent = urgent
	}
	if raw := c.FormValue("centre_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return in, bad("invalid centre_id")
		}
		in.CentreID = &id
	}

	for _, fh := range form.File[UploadField] {
		data, err := readPart(fh)
		if err != nil {
			return in, err
		}
		in.Blobs = append(in.Blobs, data)
	}
	return in, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unreadable file "+fh.Filename)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// -- Studies --

func (h *Handler) CreateStudy(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	in, err := readUpload(c)
	if err != nil {
		return err
	}
	st, err := h.svc.CreateStudy(c.Request().Context(), actor, in)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusCreated, st)
}

func (h *Handler) GetStudy(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	st, err := h.svc.GetStudy(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ListStudies(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var f StudyFilter
	if raw := c.QueryParam("centre_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid centre_id")
		}
		f.CentreID = &id
	}
	if raw := c.QueryParam("status"); raw != "" {
		st := Status(raw)
		if !st.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		f.Status = &st
	}
	if raw := c.QueryParam("modality"); raw != "" {
		m, err := ParseModality(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Modality = &m
	}
	if raw := c.QueryParam("urgent"); raw != "" {
		urgent, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid urgent")
		}
		f.Urgent = &urgent
	}
	if raw := c.QueryParam("assigned_to"); raw != "" {
		var id uuid.UUID
		if raw == "me" {
			id = actor.ID
		} else if id, err = uuid.Parse(raw); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid assigned_to")
		}
		f.AssignedRadiologistID = &id
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListStudies(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) UpdateStudy(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var up StudyUpdate
	if err := c.Bind(&up); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.svc.UpdateStudy(c.Request().Context(), actor, id, up)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) AssignRadiologist(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var body struct {
		RadiologistID *uuid.UUID `json:"radiologist_id"`
	}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	st, err := h.svc.AssignRadiologist(c.Request().Context(), actor, id, body.RadiologistID)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) TransitionStatus(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var body struct {
		Status Status `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.svc.TransitionStatus(c.Request().Context(), actor, id, body.Status)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Enrich(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	queued, err := h.svc.RequestEnrichment(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{"study_id": id, "queued": queued})
}

func (h *Handler) ListInstances(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	list, err := h.svc.ListInstances(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) FetchInstance(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid index")
	}
	data, err := h.svc.FetchInstance(c.Request().Context(), actor, id, index)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.Blob(http.StatusOK, "application/dicom", data)
}

// -- Reports --

func (h *Handler) CreateReport(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var in ReportInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rp, err := h.svc.CreateReport(c.Request().Context(), actor, id, in)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusCreated, rp)
}

func (h *Handler) ListReports(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	list, err := h.svc.ListReports(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTP(err)
	}
	if list == nil {
		list = []*Report{}
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) GetAutomatedReport(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	rp, err := h.svc.GetAutomatedReport(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, rp)
}

func (h *Handler) GetReport(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	rp, err := h.svc.GetReport(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, rp)
}

func (h *Handler) UpdateReport(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var up ReportUpdate
	if err := c.Bind(&up); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rp, err := h.svc.UpdateReport(c.Request().Context(), actor, id, up)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, rp)
}

func (h *Handler) VerifyReport(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	rp, err := h.svc.VerifyReport(c.Request().Context(), actor, id)
	if err != nil {
		return apperror.HTTP(err)
	}
	return c.JSON(http.StatusOK, rp)
}
