package llm

import "context"

// RequestProfile carries optional per-request sampling preferences.
type RequestProfile struct {
	Temperature *float64
	Seed        *int
}

type requestProfileContextKey struct{}

// WithRequestProfile stores a request profile on the provided context.
func WithRequestProfile(ctx context.Context, profile RequestProfile) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestProfileContextKey{}, profile)
}

// RequestProfileFromContext retrieves a request profile from context if present.
func RequestProfileFromContext(ctx context.Context) (RequestProfile, bool) {
	if ctx == nil {
		return RequestProfile{}, false
	}
	profile, ok := ctx.Value(requestProfileContextKey{}).(RequestProfile)
	if !ok {
		return RequestProfile{}, false
	}
	return profile, true
}

// Deterministic returns a profile with temperature 0 and a fixed seed, used
// for plan generation.
func Deterministic() RequestProfile {
	temperature := 0.0
	seed := 42
	return RequestProfile{Temperature: &temperature, Seed: &seed}
}
