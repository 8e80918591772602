package llm

import (
	"context"
	"testing"
)

func TestRequestProfileFromContext(t *testing.T) {
	ctx := WithRequestProfile(context.Background(), Deterministic())

	profile, ok := RequestProfileFromContext(ctx)
	if !ok {
		t.Fatalf("expected request profile in context")
	}
	if profile.Temperature == nil || *profile.Temperature != 0 {
		t.Fatalf("expected temperature 0, got %v", profile.Temperature)
	}
	if profile.Seed == nil || *profile.Seed != 42 {
		t.Fatalf("expected seed 42, got %v", profile.Seed)
	}
}

func TestRequestProfileFromContextMissing(t *testing.T) {
	profile, ok := RequestProfileFromContext(context.Background())
	if ok {
		t.Fatalf("expected missing profile, got %+v", profile)
	}
}

func TestWithRequestProfileHandlesNilContext(t *testing.T) {
	ctx := WithRequestProfile(nil, RequestProfile{})
	if _, ok := RequestProfileFromContext(ctx); !ok {
		t.Fatalf("expected request profile in context")
	}
}

func TestMessageHelpers(t *testing.T) {
	if msg := System("rules"); msg.Role != RoleSystem || msg.Content != "rules" {
		t.Fatalf("unexpected system message %+v", msg)
	}
	if msg := User("hi"); msg.Role != RoleUser {
		t.Fatalf("unexpected user message %+v", msg)
	}
	if msg := Assistant("ok"); msg.Role != RoleAssistant {
		t.Fatalf("unexpected assistant message %+v", msg)
	}
}
