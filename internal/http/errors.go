// Package http es la capa de transporte JSON: el panel del operador, la
// vista de amigos por token y los endpoints de auth del reverse proxy.
// Se importa como httpx desde los handlers para no chocar con net/http.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nelsonblaha/homepage/internal/integrations"
	"github.com/nelsonblaha/homepage/internal/store/core"
)

// AppError es el error estándar de la aplicación: código estable para el
// front, mensaje para humanos y causa original solo para logs.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetail devuelve una COPIA con detalle extra, para no mutar el catálogo.
func (e *AppError) WithDetail(detail string) *AppError {
	out := *e
	out.Detail = detail
	return &out
}

// WithCause devuelve una COPIA conservando la causa original.
func (e *AppError) WithCause(err error) *AppError {
	out := *e
	out.Err = err
	return &out
}

// Catálogo de errores. Los códigos son parte del contrato con el front.
var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "La solicitud contiene parámetros inválidos o faltantes.",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrInvalidJSON = &AppError{
		Code:       "INVALID_JSON",
		Message:    "El cuerpo de la solicitud no es un JSON válido.",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "No autorizado. Se requiere autenticación.",
		HTTPStatus: http.StatusUnauthorized,
	}
	ErrLinkLocked = &AppError{
		Code:       "LINK_LOCKED",
		Message:    "El enlace requiere verificación adicional.",
		HTTPStatus: http.StatusUnauthorized,
	}
	ErrLinkExpired = &AppError{
		Code:       "LINK_EXPIRED",
		Message:    "El enlace de acceso ha caducado.",
		HTTPStatus: http.StatusUnauthorized,
	}
	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "No tiene permisos para realizar esta acción.",
		HTTPStatus: http.StatusForbidden,
	}
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "El recurso solicitado no existe.",
		HTTPStatus: http.StatusNotFound,
	}
	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "La solicitud entra en conflicto con el estado actual.",
		HTTPStatus: http.StatusConflict,
	}
	ErrUnprocessable = &AppError{
		Code:       "UNPROCESSABLE",
		Message:    "No se pudo procesar la solicitud.",
		HTTPStatus: http.StatusUnprocessableEntity,
	}
	ErrRateLimited = &AppError{
		Code:       "RATE_LIMITED",
		Message:    "Demasiadas solicitudes. Intente más tarde.",
		HTTPStatus: http.StatusTooManyRequests,
	}
	ErrInternal = &AppError{
		Code:       "INTERNAL",
		Message:    "Ocurrió un error interno.",
		HTTPStatus: http.StatusInternalServerError,
	}

	// Errores de integraciones externas: el panel distingue "el servicio no
	// contesta" de "el servicio dijo que no" y de "falta configurarlo".
	ErrIntegrationUnreachable = &AppError{
		Code:       "INTEGRATION_UNREACHABLE",
		Message:    "El servicio externo no responde.",
		HTTPStatus: http.StatusBadGateway,
	}
	ErrIntegrationRejected = &AppError{
		Code:       "INTEGRATION_REJECTED",
		Message:    "El servicio externo rechazó la operación.",
		HTTPStatus: http.StatusUnprocessableEntity,
	}
	ErrIntegrationNotConfigured = &AppError{
		Code:       "INTEGRATION_NOT_CONFIGURED",
		Message:    "La integración no está configurada.",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)

// FromError normaliza cualquier error a *AppError: respeta los AppError,
// mapea los sentinel del store y de las integraciones, y el resto cae en 500.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, core.ErrNotFound):
		return ErrNotFound.WithCause(err)
	case errors.Is(err, core.ErrConflict):
		return ErrConflict.WithCause(err)
	case errors.Is(err, core.ErrInvalid):
		return ErrBadRequest.WithCause(err)
	case errors.Is(err, integrations.ErrTargetUnreachable):
		return ErrIntegrationUnreachable.WithCause(err)
	case errors.Is(err, integrations.ErrTargetRejected):
		return ErrIntegrationRejected.WithCause(err)
	case errors.Is(err, integrations.ErrConfigurationMissing):
		return ErrIntegrationNotConfigured.WithCause(err)
	}
	return ErrInternal.WithCause(err)
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError serializa el error como {"error":{code,message,detail}}.
// La causa original nunca viaja al cliente.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	}})
}

// WriteJSON responde JSON con el status dado.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodifica el body de forma tolerante (no falla por campos
// desconocidos), valida Content-Type y limita el tamaño a 1MB.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		WriteError(w, ErrInvalidJSON.WithDetail("Content-Type debe ser application/json"))
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err != io.EOF {
		WriteError(w, ErrInvalidJSON.WithCause(err))
		return false
	}
	return true
}
