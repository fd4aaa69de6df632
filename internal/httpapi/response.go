package httpapi

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/pvp-ladder/internal/domain"
	"github.com/park285/pvp-ladder/pkg/ladderdto"
)

func writeJSON(rc *fasthttp.RequestCtx, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		rc.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	rc.SetContentType("application/json")
	rc.SetStatusCode(status)
	rc.SetBody(b)
}

func (s *Server) writeError(rc *fasthttp.RequestCtx, err error) {
	code := domain.CodeOf(err)
	status := statusFor(code)
	if status >= fasthttp.StatusInternalServerError {
		s.log.Error("http_request_error",
			zap.ByteString("method", rc.Method()),
			zap.ByteString("path", rc.Path()),
			zap.Error(err),
		)
	}
	writeJSON(rc, status, ladderdto.DomainError{
		Code:      string(code),
		Message:   s.opts.Catalog.ErrorMessage(err),
		Retryable: code == domain.CodeStorageFailure,
	})
}

func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeInvalidCategory, domain.CodeSelfChallenge, domain.CodeNoFields, domain.CodeInvalidArgument:
		return fasthttp.StatusBadRequest
	case domain.CodePermissionDenied, domain.CodeBanned:
		return fasthttp.StatusForbidden
	case domain.CodeNotRegistered, domain.CodeNoSuchRecord, domain.CodeNoData, domain.CodeNotFound:
		return fasthttp.StatusNotFound
	case domain.CodeAlreadyRegistered, domain.CodeAlreadyBanned, domain.CodeNotBanned, domain.CodeInvalidState:
		return fasthttp.StatusConflict
	default:
		return fasthttp.StatusInternalServerError
	}
}
