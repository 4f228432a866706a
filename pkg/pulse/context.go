// context.go carries the signed-in user through context.Context so error
// records can name who hit the failure.

package pulse

import "context"

type userIDKey struct{}

// WithUserID returns a context with the user ID attached.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext extracts the user ID from context.
// Returns empty string and false if not set or empty.
func UserIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok && id != ""
}
