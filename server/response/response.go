package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	errs "github.com/techagentng/citizenchat/errors"
)

// JSON writes the standard response envelope. err may be nil.
func JSON(c *gin.Context, message string, status int, data interface{}, err error) {
	errMessage := ""
	var kind errs.Kind
	var fields map[string]string
	if err != nil {
		e := errs.From(err)
		errMessage = e.Message
		kind = e.Kind
		fields = e.Fields
	}
	responsedata := gin.H{
		"message":   message,
		"data":      data,
		"errors":    errMessage,
		"status":    http.StatusText(status),
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if kind != "" {
		responsedata["kind"] = kind
	}
	if len(fields) > 0 {
		responsedata["fields"] = fields
	}

	c.JSON(status, responsedata)
}

// Error writes err with the status carried by its kind.
func Error(c *gin.Context, err error) {
	e := errs.From(err)
	JSON(c, "", e.Status, nil, e)
}
