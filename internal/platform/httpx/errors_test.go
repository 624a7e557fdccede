package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tutorledger/tutorledger/internal/shared"
)

func TestRespondErrorMapsCategories(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("students: student %w", shared.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("deactivated: %w", shared.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("insufficient: %w", shared.ErrPaymentRequired), http.StatusPaymentRequired},
		{fmt.Errorf("disabled: %w", shared.ErrLocked), http.StatusLocked},
		{fmt.Errorf("already used: %w", shared.ErrConflict), http.StatusConflict},
		{fmt.Errorf("must attend first: %w", shared.ErrInvalidState), http.StatusUnprocessableEntity},
		{fmt.Errorf("bad score: %w", shared.ErrValidation), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, tc.status, body.Status)
		if tc.status == http.StatusInternalServerError {
			require.Empty(t, body.Detail)
		} else {
			require.Equal(t, tc.err.Error(), body.Detail)
		}
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"attended":true,"bogus":1}`))
	var payload struct {
		Attended bool `json:"attended"`
	}
	err := DecodeJSON(req, &payload)
	require.ErrorIs(t, err, ErrBadRequest)

	rec := httptest.NewRecorder()
	RespondError(rec, err)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
