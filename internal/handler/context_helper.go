package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dronexam-api/internal/middleware"
	"github.com/noah-isme/dronexam-api/internal/models"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
	"github.com/noah-isme/dronexam-api/pkg/response"
)

// principalFromContext writes 401 and returns false when the route was not
// authenticated.
func principalFromContext(c *gin.Context) (models.Principal, bool) {
	principal, ok := middleware.Principal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Principal{}, false
	}
	return principal, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrBadRequest, name+" must be a positive integer"))
		return 0, false
	}
	return id, true
}

func bindError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrBadRequest.Code, http.StatusBadRequest, message)
}

// dateOrToday parses raw or falls back to today in the venue's zone.
func dateOrToday(c *gin.Context, raw string, today func() (time.Time, error)) (time.Time, bool) {
	if raw == "" {
		date, err := today()
		if err != nil {
			response.Error(c, err)
			return time.Time{}, false
		}
		return date, true
	}
	date, err := models.ParseDate(raw)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD"))
		return time.Time{}, false
	}
	return date, true
}
