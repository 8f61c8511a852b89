package server

import (
	"errors"
	"net/http"

	"github.com/vbeats/vbeats-api/internal/compositor"
	"github.com/vbeats/vbeats-api/internal/job"
	"github.com/vbeats/vbeats-api/internal/session"
	"github.com/vbeats/vbeats-api/internal/storage"
	"github.com/vbeats/vbeats-api/internal/trim"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// domainErrors maps sentinel errors to HTTP responses. Their messages are
// user-facing and returned as-is.
var domainErrors = []errorMapping{
	{session.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND"},
	{session.ErrInvalidTab, http.StatusBadRequest, "INVALID_TAB"},
	{job.ErrJobNotFound, http.StatusNotFound, "JOB_NOT_FOUND"},

	{compositor.ErrNoImage, http.StatusConflict, "NO_IMAGE"},
	{compositor.ErrEmptyText, http.StatusBadRequest, "EMPTY_TEXT"},
	{compositor.ErrInvalidColor, http.StatusBadRequest, "INVALID_COLOR"},
	{compositor.ErrInvalidRect, http.StatusBadRequest, "INVALID_RECT"},
	{compositor.ErrLayerIndex, http.StatusBadRequest, "INVALID_LAYER"},
	{compositor.ErrFilterOutOfRange, http.StatusBadRequest, "INVALID_FILTER"},
	{compositor.ErrUnsupportedImage, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA"},
	{compositor.ErrImageDecode, http.StatusUnprocessableEntity, "IMAGE_DECODE_FAILED"},

	{trim.ErrNoFile, http.StatusConflict, "NO_FILE"},
	{trim.ErrInvalidRange, http.StatusBadRequest, "INVALID_RANGE"},
	{trim.ErrTrimInProgress, http.StatusConflict, "TRIM_IN_PROGRESS"},
	{trim.ErrUnsupportedVideo, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA"},

	{storage.ErrS3NotConfigured, http.StatusServiceUnavailable, "PUBLISH_UNAVAILABLE"},
}

// errorResponse resolves err to a status, code and message. Unknown
// errors become a generic 500 so internals are not leaked.
func errorResponse(err error) (int, string, string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "upload exceeds the size limit"
	}
	for _, m := range domainErrors {
		if errors.Is(err, m.target) {
			return m.status, m.code, err.Error()
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
}
