package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/keithlinneman/diary/internal/log"
	"github.com/keithlinneman/diary/internal/xerrors"
)

type errorResponse struct {
	Error string `json:"error"`
}

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	validate        = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return v
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeError renders err as {"error": msg}. Only messages attached with
// xerrors.Public reach the client, server errors are logged with the chain.
func (api *API) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := xerrors.StatusOf(err)
	L := log.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		L.Error(ctx, xerrors.EnsureTrace(err), "request failed", "status", status)
	} else {
		L.Debug(ctx, "request rejected", "status", status, "error", err)
	}
	api.writeJSON(ctx, w, status, errorResponse{Error: xerrors.MessageOf(err)})
}

func badRequest(msg string) error {
	return xerrors.Public(nil, http.StatusBadRequest, msg)
}

// decodeJSON strictly decodes the body into dst and validates it. An empty
// body decodes as {}.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return xerrors.Public(err, http.StatusRequestEntityTooLarge, "Request body too large")
		}
		if strings.HasPrefix(err.Error(), "json: unknown field") {
			return xerrors.Public(err, http.StatusBadRequest, "Unrecognized key in request body")
		}
		return xerrors.Public(err, http.StatusBadRequest, "Invalid JSON body")
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return xerrors.Public(err, http.StatusBadRequest, "Invalid request")
	}
	return xerrors.Public(err, http.StatusBadRequest, fieldMessage(verrs[0]))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return "Invalid email"
	case "url", "http_url":
		return field + " must be a valid URL"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must have at most %s items", field, fe.Param())
		}
		if fe.Kind() == reflect.String {
			return field + " too long"
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must have at least %s items", field, fe.Param())
		}
		if fe.Kind() == reflect.String {
			return field + " too short"
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "username":
		return "Username may only contain letters, numbers and underscores"
	case "eqfield":
		return fmt.Sprintf("%s must match %s", field, fe.Param())
	default:
		return "Invalid " + field
	}
}
