package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tutorledger/tutorledger/internal/shared"
)

// Bind decodes the JSON body into target and validates its struct tags.
func Bind(r *http.Request, validate *validator.Validate, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return err
	}
	if err := validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+":"+fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrBadRequest, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// Int64Param reads a positive integer path parameter.
func Int64Param(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s %q", ErrBadRequest, name, raw)
	}
	return id, nil
}

// PathParam returns an unescaped path parameter.
func PathParam(r *http.Request, name string) (string, error) {
	value, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrBadRequest, name, err)
	}
	return value, nil
}

// Caller returns the trusted caller of the request.
func Caller(r *http.Request) (shared.Caller, error) {
	caller, ok := shared.CallerFromContext(r.Context())
	if !ok {
		return shared.Caller{}, ErrUnauthorized
	}
	return caller, nil
}

// ActorID returns the caller id, or zero for anonymous requests.
func ActorID(r *http.Request) int64 {
	caller, _ := shared.CallerFromContext(r.Context())
	return caller.ID
}
