package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeProblem = "application/problem+json"
)

// ProblemDetail is the RFC 7807 error body.
type ProblemDetail struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func write(w http.ResponseWriter, status int, contentType string, body any) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body == nil || status == http.StatusNoContent {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// JSON writes data with status.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, contentTypeJSON, data)
}

// Problem writes a problem body. Type stays about:blank since the title
// already names the category.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	write(w, status, contentTypeProblem, ProblemDetail{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// Attachment prepares w for a downloadable body of contentType.
func Attachment(w http.ResponseWriter, filename, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}

// DecodeJSON reads one JSON value into target and rejects unknown fields.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}
