package reminder

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Vikaumar/Prescripto/internal/platform/auth"
	"github.com/Vikaumar/Prescripto/pkg/pagination"
)

const (
	defaultUpcomingCount = 5
	defaultDueLookahead  = 10 * time.Minute
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	r := api.Group("/reminders")
	r.POST("", h.CreateReminder)
	r.GET("", h.ListReminders)
	r.GET("/today", h.GetToday)
	r.GET("/stats", h.GetStats)
	r.POST("/subscribe", h.Subscribe)
	r.GET("/:id", h.GetReminder)
	r.GET("/:id/upcoming", h.GetUpcoming)
	r.PUT("/:id", h.UpdateReminder)
	r.DELETE("/:id", h.DeleteReminder)
	r.PATCH("/:id/toggle", h.ToggleReminder)
	r.POST("/:id/log", h.LogDose)

	// Dispatcher endpoints
	d := api.Group("/doses", auth.RequireRole(auth.RoleDispatcher))
	d.GET("/due", h.ListDue)
	d.POST("/:id/notified", h.MarkNotified)
}

// fail maps service errors onto HTTP errors. Unexpected errors are logged
// and returned without detail.
func (h *Handler) fail(c echo.Context, err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Msg)
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	rid, _ := c.Get("request_id").(string)
	h.logger.Error().Err(err).
		Str("request_id", rid).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

func currentUser(c echo.Context) (string, error) {
	uid := auth.UserIDFromContext(c.Request().Context())
	if uid == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return uid, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func familyParam(c echo.Context) *string {
	if v := c.QueryParam("family_member_id"); v != "" {
		return &v
	}
	return nil
}

func (h *Handler) CreateReminder(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.CreateReminder(c.Request().Context(), uid, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListReminders(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := ListFilter{
		UserID:         uid,
		FamilyMemberID: familyParam(c),
		Limit:          pg.Limit,
		Offset:         pg.Offset,
	}
	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active")
		}
		f.ActiveOnly = active
	}
	items, total, err := h.svc.ListReminders(c.Request().Context(), f)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetToday(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	res, err := h.svc.DueToday(c.Request().Context(), uid, familyParam(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetStats(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var stats *Stats
	if from, to := c.QueryParam("from"), c.QueryParam("to"); from != "" || to != "" {
		fromT, err1 := time.Parse(time.RFC3339, from)
		toT, err2 := time.Parse(time.RFC3339, to)
		if err1 != nil || err2 != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "from and to must both be RFC 3339 timestamps")
		}
		stats, err = h.svc.StatsBetween(c.Request().Context(), uid, fromT, toT, familyParam(c))
	} else {
		stats, err = h.svc.Stats(c.Request().Context(), uid, ParsePeriod(c.QueryParam("period")), familyParam(c))
	}
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

type subscribeRequest struct {
	Subscription json.RawMessage `json:"subscription"`
}

func (h *Handler) Subscribe(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req subscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	n, err := h.svc.SavePushSubscription(c.Request().Context(), uid, req.Subscription)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}

func (h *Handler) GetReminder(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.GetReminder(c.Request().Context(), id, uid)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetUpcoming(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	count := defaultUpcomingCount
	if v := c.QueryParam("count"); v != "" {
		if count, err = strconv.Atoi(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid count")
		}
	}
	times, err := h.svc.UpcomingOccurrences(c.Request().Context(), id, uid, count)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"reminder_id": id,
		"count":       len(times),
		"data":        times,
	})
}

func (h *Handler) UpdateReminder(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	v, err := h.svc.UpdateReminder(c.Request().Context(), id, uid, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) DeleteReminder(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.DeleteReminder(c.Request().Context(), id, uid)
	if err != nil {
		return h.fail(c, err)
	}
	h.logger.Info().
		Str("reminder_id", id.String()).
		Int("doses_deleted", n).
		Msg("reminder deleted")
	return c.NoContent(http.StatusNoContent)
}

type toggleRequest struct {
	Field string `json:"field"`
}

func (h *Handler) ToggleReminder(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req toggleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	v, err := h.svc.ToggleReminder(c.Request().Context(), id, uid, req.Field)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) LogDose(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req LogDoseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d, err := h.svc.LogDose(c.Request().Context(), id, uid, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// -- Dispatcher --

func (h *Handler) ListDue(c echo.Context) error {
	lookahead := defaultDueLookahead
	if v := c.QueryParam("lookahead"); v != "" {
		var err error
		if lookahead, err = time.ParseDuration(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid lookahead")
		}
	}
	doses, err := h.svc.DueDoses(c.Request().Context(), lookahead)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count": len(doses),
		"data":  doses,
	})
}

func (h *Handler) MarkNotified(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.MarkNotified(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, d)
}
