// Package common holds helpers shared by the HTTP handler packages.
package common

import (
	"errors"
	"net/http"

	apierrors "k2api-go/internal/errors"

	"github.com/gin-gonic/gin"
)

// AbortWithAPIError writes the OpenAI-style error envelope and aborts.
func AbortWithAPIError(c *gin.Context, err *apierrors.APIError) {
	if err == nil {
		err = apierrors.New(http.StatusInternalServerError, "server_error", "api_error", "unknown error")
	}
	c.AbortWithStatusJSON(safeStatus(err.HTTPStatus), err.Envelope())
}

// AbortWithError converts any error into the envelope, preserving an
// APIError's status when it is one.
func AbortWithError(c *gin.Context, err error) {
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		AbortWithAPIError(c, apiErr)
		return
	}
	AbortWithAPIError(c, apierrors.New(http.StatusInternalServerError, "server_error", "api_error", err.Error()))
}

// AbortBadRequest writes a 400 invalid_request_error.
func AbortBadRequest(c *gin.Context, message string) {
	AbortWithAPIError(c, apierrors.New(http.StatusBadRequest, "invalid_request", "invalid_request_error", message))
}

func safeStatus(status int) int {
	if status < 100 || status > 599 {
		return http.StatusInternalServerError
	}
	return status
}
