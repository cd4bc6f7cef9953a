// Package httpapi exposes the pipeline over HTTP.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	chartsynth "github.com/lumaviz/chartsynth"
)

type APIError struct {
	Message    string   `json:"message"`
	Code       string   `json:"code,omitempty"`
	MissingID  string   `json:"missingId,omitempty"`
	SiblingIDs []string `json:"siblingIds,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	apiErr := APIError{
		Message: msg,
		Code:    code,
	}
	var perr *chartsynth.PipelineError
	if errors.As(err, &perr) {
		apiErr.MissingID = perr.MissingID
		apiErr.SiblingIDs = perr.SiblingIDs
	}
	c.JSON(status, ErrorEnvelope{Error: apiErr})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// respondPipelineError maps the error taxonomy onto HTTP status codes.
func respondPipelineError(c *gin.Context, err error) {
	var perr *chartsynth.PipelineError
	if !errors.As(err, &perr) {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}

	switch perr.Code {
	case chartsynth.ErrCodeValidation:
		RespondError(c, http.StatusBadRequest, perr.Code, err)
	case chartsynth.ErrCodeNotFound:
		RespondError(c, http.StatusNotFound, perr.Code, err)
	case chartsynth.ErrCodeExtraction:
		RespondError(c, http.StatusUnprocessableEntity, perr.Code, err)
	case chartsynth.ErrCodeTransport:
		RespondError(c, http.StatusBadGateway, perr.Code, err)
	case chartsynth.ErrCodeCancelled:
		RespondError(c, http.StatusRequestTimeout, perr.Code, err)
	default:
		RespondError(c, http.StatusInternalServerError, perr.Code, err)
	}
}
