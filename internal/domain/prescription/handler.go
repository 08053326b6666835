package prescription

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Vikaumar/Prescripto/internal/domain/reminder"
)

type Handler struct {
	analyzer Analyzer
	loc      *time.Location
	now      func() time.Time
	logger   zerolog.Logger
}

// NewHandler accepts a nil analyzer; the endpoint then answers 503.
func NewHandler(analyzer Analyzer, loc *time.Location, logger zerolog.Logger) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{analyzer: analyzer, loc: loc, now: time.Now, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/prescriptions/draft-reminders", h.DraftReminders)
}

type draftRequest struct {
	Text           string  `json:"text"`
	PrescriptionID *string `json:"prescription_id"`
}

type draftResponse struct {
	Analysis *Analysis                `json:"analysis"`
	Drafts   []reminder.CreateRequest `json:"drafts"`
}

func (h *Handler) DraftReminders(c echo.Context) error {
	if h.analyzer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, ErrUnavailable.Error())
	}
	var req draftRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	if len(text) < MinTextLength {
		return echo.NewHTTPError(http.StatusBadRequest, ErrTextTooShort.Error())
	}

	analysis, err := h.analyzer.Analyze(c.Request().Context(), text)
	if err != nil {
		if errors.Is(err, ErrTextTooShort) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		rid, _ := c.Get("request_id").(string)
		h.logger.Error().Err(err).Str("request_id", rid).Msg("prescription analysis failed")
		return echo.NewHTTPError(http.StatusBadGateway, "prescription analysis failed").SetInternal(err)
	}

	return c.JSON(http.StatusOK, draftResponse{
		Analysis: analysis,
		Drafts:   Drafts(analysis, req.PrescriptionID, h.now().In(h.loc)),
	})
}
