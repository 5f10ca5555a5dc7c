package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Success escreve o corpo de sucesso sem envelope adicional.
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// Error escreve o envelope de erro padrão {error, message}.
func Error(c *gin.Context, status int, err error) {
	ErrorWithMessage(c, status, err.Error())
}

func ErrorWithMessage(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{
		"error":   errorLabel(status),
		"message": msg,
	})
}

func errorLabel(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusTooManyRequests:
		return "too_many_requests"
	default:
		return "internal_error"
	}
}
