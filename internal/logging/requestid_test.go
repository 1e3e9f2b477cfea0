package logging

import (
	"context"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	if len(id) != 8 {
		t.Errorf("GenerateRequestID() length = %d, want 8", len(id))
	}

	// Verify uniqueness
	id2 := GenerateRequestID()
	if id == id2 {
		t.Errorf("GenerateRequestID() generated duplicate IDs: %s", id)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	id := "test1234"

	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID(empty context) = %q, want empty string", got)
	}

	ctx = WithRequestID(ctx, id)
	if got := GetRequestID(ctx); got != id {
		t.Errorf("GetRequestID() = %q, want %q", got, id)
	}
	if Ctx(ctx) == nil {
		t.Error("Ctx() returned nil logger")
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{name: "short", token: "sec_abc", want: "***"},
		{name: "empty", token: "", want: "***"},
		{name: "long", token: "waka_ref_0123456789abcdefXYZ123", want: "...XYZ123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskToken(tt.token); got != tt.want {
				t.Errorf("MaskToken(%q) = %q, want %q", tt.token, got, tt.want)
			}
		})
	}
}
