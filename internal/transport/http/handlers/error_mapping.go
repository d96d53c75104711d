package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/social-platform-growth/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// growthErrorCases is shared by every growth handler. Order matters: the first match wins.
var growthErrorCases = []ErrorCase{
	{Err: usecase.ErrUserIDRequired, Status: http.StatusBadRequest, Message: "user id is required"},
	{Err: usecase.ErrReferralIDRequired, Status: http.StatusBadRequest, Message: "referral id is required"},
	{Err: usecase.ErrReviewerIDRequired, Status: http.StatusBadRequest, Message: "reviewer id is required"},
	{Err: usecase.ErrReferrerIDRequired, Status: http.StatusBadRequest, Message: "referrer id is required"},
	{Err: usecase.ErrReferredIDRequired, Status: http.StatusBadRequest, Message: "referred id is required"},
	{Err: usecase.ErrUnknownState, Status: http.StatusBadRequest, Message: "unknown lifecycle state"},
	{Err: usecase.ErrNotFound, Status: http.StatusNotFound, Message: "not found"},
	{Err: usecase.ErrAlreadyFinalized, Status: http.StatusConflict, Message: "referral already finalized"},
	{Err: usecase.ErrInvalidTransition, Status: http.StatusConflict, Message: "invalid lifecycle transition"},
	{Err: usecase.ErrReferralExists, Status: http.StatusConflict, Message: "referred user already has a referral"},
	{Err: usecase.ErrTransientConflict, Status: http.StatusServiceUnavailable, Message: "conflicting update, retry later"},
	{Err: usecase.ErrSignalUnavailable, Status: http.StatusServiceUnavailable, Message: "backing store unavailable"},
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			message := cs.Message
			// Name both ends so operators can see which edge was refused.
			var transitionErr *usecase.InvalidTransitionError
			if errors.As(err, &transitionErr) {
				message = transitionErr.Error()
			}
			c.JSON(cs.Status, NewErrorResponse(c, message))
			return
		}
	}

	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

func respondGrowthError(c *gin.Context, err error) {
	_ = c.Error(err)
	RespondWithMappedError(c, err, growthErrorCases, http.StatusInternalServerError, "internal error")
}
