package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutcomeFollowsWrappedCategory(t *testing.T) {
	cases := map[string]error{
		"ok":               nil,
		"not_found":        fmt.Errorf("ledger: student 4: %w", ErrNotFound),
		"conflict":         ErrIdempotencyConflict,
		"payment_required": fmt.Errorf("credit: %w", ErrPaymentRequired),
		"locked":           fmt.Errorf("redemption: %w", ErrLocked),
		"invalid":          AuditLog{}.Validate(),
		"error":            errors.New("connection reset"),
	}
	for want, err := range cases {
		require.Equal(t, want, Outcome(err), "error %v", err)
	}
}

func TestPaginationClampsRequest(t *testing.T) {
	page := PageRequest{Page: 0, PerPage: 10_000}.Normalize()
	require.Equal(t, 1, page.Page)
	require.Equal(t, defaultPerPage, page.PerPage)
	require.Zero(t, page.Offset())

	require.Equal(t, 20, PageRequest{Page: 3, PerPage: 10}.Offset())

	p := NewPagination(PageRequest{Page: 2, PerPage: 2}, 5)
	require.Equal(t, Pagination{Page: 2, PerPage: 2, Total: 5, TotalPages: 3}, p)
	require.Zero(t, NewPagination(PageRequest{}, 0).TotalPages)
}

func TestCallerContextRoundTrip(t *testing.T) {
	_, ok := CallerFromContext(context.Background())
	require.False(t, ok)

	ctx := ContextWithCaller(context.Background(), Caller{ID: 7, Role: RoleAssistant})
	caller, ok := CallerFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, RoleAssistant, caller.Role)
	require.Equal(t, int64(7), caller.ID)
}

func TestNilStoresAreSafe(t *testing.T) {
	var idem *IdempotencyStore
	require.Error(t, idem.CheckAndInsert(context.Background(), "k", "m"))
	require.NoError(t, idem.Delete(context.Background(), "k"))

	var audit *AuditLogger
	require.Error(t, audit.Record(context.Background(), AuditLog{Action: "a", Entity: "e", EntityID: "1"}))
}
