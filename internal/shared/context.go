package shared

import "context"

// Role enumerates trusted caller roles supplied by the upstream gateway.
type Role string

const (
	// RoleAdmin manages credits, codes and resets.
	RoleAdmin Role = "admin"
	// RoleAssistant records attendance, homework and quizzes.
	RoleAssistant Role = "assistant"
	// RoleStudent redeems codes and watches content.
	RoleStudent Role = "student"
)

// Caller is the already-authenticated identity of a request.
type Caller struct {
	ID   int64
	Role Role
}

type callerContextKey struct{}

// ContextWithCaller stores the caller in context.
func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext extracts the caller from context.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerContextKey{}).(Caller)
	return caller, ok
}
