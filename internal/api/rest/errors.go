package rest

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apierrors "github.com/rockfridrich/villa-sub002/internal/api/shared/errors"
	"github.com/rockfridrich/villa-sub002/internal/domain"
	"github.com/rockfridrich/villa-sub002/internal/logger"
)

// respondBadRequest responds with a bad request error
func respondBadRequest(c *gin.Context, message string, details ...string) {
	c.JSON(http.StatusBadRequest, apierrors.NewBadRequestError(message, details...))
}

// respondNotFound responds with a not found error
func respondNotFound(c *gin.Context, message string, details ...string) {
	c.JSON(http.StatusNotFound, apierrors.NewNotFoundError(message, details...))
}

// respondValidationError responds with a validation error
func respondValidationError(c *gin.Context, message string) {
	c.JSON(http.StatusUnprocessableEntity, apierrors.NewValidationError(message))
}

// respondInternalError responds with an internal server error and logs it
func respondInternalError(c *gin.Context, err error, message string) {
	logger.ErrorCtx(c.Request.Context(), err,
		zap.String("path", c.Request.URL.Path),
	)
	c.JSON(http.StatusInternalServerError, apierrors.NewInternalError(message))
}

// respondDomainError maps a service error onto the HTTP surface. The order
// matters: rate limiting carries a Retry-After hint, signature failures are
// client errors even though verification happens deep in the service, and
// anything unclassified is a 500.
func respondDomainError(c *gin.Context, err error) {
	var rateLimitErr *domain.RateLimitError

	switch {
	case errors.As(err, &rateLimitErr):
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(rateLimitErr)))
		c.JSON(http.StatusTooManyRequests, apierrors.NewRateLimitedError("Rate limit exceeded", err.Error()))

	case domain.IsSignatureError(err):
		c.JSON(http.StatusBadRequest, apierrors.NewInvalidSignatureError(err.Error()))

	case domain.IsPolicyError(err):
		c.JSON(http.StatusForbidden, apierrors.NewPolicyRejectedError("Nickname not allowed", err.Error()))

	case domain.IsConflictError(err) || errors.Is(err, domain.ErrInvalidStatusTransition):
		c.JSON(http.StatusConflict, apierrors.NewConflictError("Conflict", err.Error()))

	case domain.IsNotFoundError(err):
		respondNotFound(c, err.Error())

	case domain.IsInputError(err):
		respondValidationError(c, err.Error())

	default:
		respondInternalError(c, err, "Internal server error")
	}
}

// retryAfterSeconds converts the retry hint to whole seconds, rounding up so
// a client that waits exactly this long is never early
func retryAfterSeconds(err *domain.RateLimitError) int {
	seconds := int(math.Ceil(err.RetryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
