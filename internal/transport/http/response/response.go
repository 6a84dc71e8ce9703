package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"document-portal/internal/apperr"
)

const (
	CodeOK              = 0
	CodeBadRequest      = 40000
	CodeUnauthorized    = 40100
	CodeIndexNotFound   = 40401
	CodePayloadTooLarge = 41300
	CodeUnreadable      = 42200
	CodeEncrypted       = 42201
	CodeInternalServer  = 50000
	CodeIndexMismatch   = 50001
	CodeUpstream        = 50200
	CodeUpstreamFormat  = 50201
)

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}

// FromError writes the envelope for err, choosing status and code by its kind.
// Causes of unclassified and io errors are not echoed to the client.
func FromError(c *gin.Context, err error) {
	status, code := Classify(err)
	msg := err.Error()
	if code == CodeInternalServer {
		msg = "internal server error"
	}
	Error(c, status, code, msg)
}

func Classify(err error) (httpStatus, code int) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, apperr.ErrEncryptedDocument):
		return http.StatusUnprocessableEntity, CodeEncrypted
	case errors.Is(err, apperr.ErrUnreadableDocument):
		return http.StatusUnprocessableEntity, CodeUnreadable
	case errors.Is(err, apperr.ErrIndexNotFound):
		return http.StatusNotFound, CodeIndexNotFound
	case errors.Is(err, apperr.ErrIndexMismatch):
		return http.StatusInternalServerError, CodeIndexMismatch
	case errors.Is(err, apperr.ErrFormat):
		return http.StatusBadGateway, CodeUpstreamFormat
	case errors.Is(err, apperr.ErrExternalService):
		return http.StatusBadGateway, CodeUpstream
	default:
		return http.StatusInternalServerError, CodeInternalServer
	}
}
