package tool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/chatcart-ai/chatcart/agent/contract"
	statex "github.com/chatcart-ai/chatcart/agent/state"
	"github.com/chatcart-ai/chatcart/pkg/occ"
)

func newTestInvoker(t *testing.T, specs ...Spec) *Invoker {
	t.Helper()
	reg := NewRegistry()
	for _, spec := range specs {
		reg.MustRegister(spec)
	}
	iv, err := NewInvoker(reg)
	if err != nil {
		t.Fatalf("NewInvoker: %v", err)
	}
	return iv
}

func TestInvokeUnknownTool(t *testing.T) {
	t.Parallel()

	iv := newTestInvoker(t)
	sess := newSession("sess-1")

	res := iv.Invoke(context.Background(), sess, contractx.ToolCallRequest{ID: "call-1", Tool: "nope"})
	if res.OK() {
		t.Fatal("expected failure for unknown tool")
	}
	if res.Failure.Kind != contractx.KindSchemaValidation {
		t.Fatalf("kind = %q, want %q", res.Failure.Kind, contractx.KindSchemaValidation)
	}
	if !strings.Contains(res.Failure.Message, "nope") {
		t.Fatalf("message %q does not name the tool", res.Failure.Message)
	}
	if res.Tool != "nope" || res.CallID != "call-1" {
		t.Fatalf("result echo = (%q, %q), want (nope, call-1)", res.Tool, res.CallID)
	}
}

func TestInvokeRejectsInvalidArgsBeforeRunning(t *testing.T) {
	t.Parallel()

	ran := false
	spec := newSpec("echo", "echo", map[string]*schema.ParameterInfo{
		"text": {Type: schema.String, Required: true},
	}, false, func(_ context.Context, _ *statex.Session, _ map[string]any) (any, error) {
		ran = true
		return nil, nil
	})
	iv := newTestInvoker(t, spec)

	res := iv.Invoke(context.Background(), newSession("sess-1"), contractx.ToolCallRequest{Tool: "echo"})
	if res.OK() {
		t.Fatal("expected failure for missing required argument")
	}
	if res.Failure.Kind != contractx.KindSchemaValidation {
		t.Fatalf("kind = %q, want %q", res.Failure.Kind, contractx.KindSchemaValidation)
	}
	if !strings.Contains(res.Failure.Message, "text") {
		t.Fatalf("message %q does not name the field", res.Failure.Message)
	}
	if ran {
		t.Fatal("runner executed despite invalid arguments")
	}
}

func TestInvokeSuccessCarriesPayload(t *testing.T) {
	t.Parallel()

	spec := newSpec("echo", "echo", map[string]*schema.ParameterInfo{
		"text": {Type: schema.String, Required: true},
	}, false, func(_ context.Context, _ *statex.Session, args map[string]any) (any, error) {
		return map[string]any{"echoed": args["text"]}, nil
	})
	iv := newTestInvoker(t, spec)

	res := iv.Invoke(context.Background(), newSession("sess-1"), contractx.ToolCallRequest{
		ID: "call-9", Tool: "echo", Args: map[string]any{"text": "hi"},
	})
	if !res.OK() {
		t.Fatalf("unexpected failure: %+v", res.Failure)
	}
	payload, ok := res.Payload.(map[string]any)
	if !ok || payload["echoed"] != "hi" {
		t.Fatalf("payload = %#v, want echoed hi", res.Payload)
	}
	if res.CallID != "call-9" {
		t.Fatalf("call id = %q, want call-9", res.CallID)
	}
}

func TestInvokeFailureKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want contractx.FailureKind
	}{
		{"ambiguous", occ.ErrAmbiguousOutcome, contractx.KindAmbiguousOutcome},
		{"invalid state", occ.ErrInvalidState, contractx.KindInvalidState},
		{"no active cart", statex.ErrNoActiveCart, contractx.KindInvalidState},
		{"not found", occ.ErrNotFound, contractx.KindNotFound},
		{"conflict", occ.ErrConflict, contractx.KindConflict},
		{"unauthorized", occ.ErrUnauthorized, contractx.KindUnauthorized},
		{"timeout", context.DeadlineExceeded, contractx.KindTimeout},
		{"remote unavailable", occ.ErrRemoteUnavailable, contractx.KindUpstream},
		{"unclassified", errors.New("boom"), contractx.KindUpstream},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			failErr := tc.err
			spec := newSpec("failing", "always fails", nil, false,
				func(_ context.Context, _ *statex.Session, _ map[string]any) (any, error) {
					return nil, failErr
				})
			iv := newTestInvoker(t, spec)

			res := iv.Invoke(context.Background(), newSession("sess-1"), contractx.ToolCallRequest{Tool: "failing"})
			if res.OK() {
				t.Fatal("expected failure")
			}
			if res.Failure.Kind != tc.want {
				t.Fatalf("kind = %q, want %q", res.Failure.Kind, tc.want)
			}
		})
	}
}

func TestInvokeMutatingToolSurvivesTurnCancel(t *testing.T) {
	t.Parallel()

	spec := newSpec("mutate", "mutating", nil, true,
		func(ctx context.Context, _ *statex.Session, _ map[string]any) (any, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return "applied", nil
		})
	iv := newTestInvoker(t, spec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := iv.Invoke(ctx, newSession("sess-1"), contractx.ToolCallRequest{Tool: "mutate"})
	if !res.OK() {
		t.Fatalf("mutating tool failed under cancelled turn: %+v", res.Failure)
	}
	if res.Payload != "applied" {
		t.Fatalf("payload = %v, want applied", res.Payload)
	}
}

func TestInvokeNonMutatingToolInheritsCancel(t *testing.T) {
	t.Parallel()

	spec := newSpec("read", "read only", nil, false,
		func(ctx context.Context, _ *statex.Session, _ map[string]any) (any, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return "read", nil
		})
	iv := newTestInvoker(t, spec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := iv.Invoke(ctx, newSession("sess-1"), contractx.ToolCallRequest{Tool: "read"})
	if res.OK() {
		t.Fatal("read tool should observe the cancelled turn")
	}
}

func TestInvokeMutationTimeoutStopsRunaway(t *testing.T) {
	t.Parallel()

	spec := newSpec("mutate", "mutating", nil, true,
		func(ctx context.Context, _ *statex.Session, _ map[string]any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
				return nil, errors.New("runner outlived its deadline")
			}
		})

	reg := NewRegistry()
	reg.MustRegister(spec)
	iv, err := NewInvoker(reg, WithMutationTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewInvoker: %v", err)
	}

	res := iv.Invoke(context.Background(), newSession("sess-1"), contractx.ToolCallRequest{Tool: "mutate"})
	if res.OK() {
		t.Fatal("expected timeout failure")
	}
	if res.Failure.Kind != contractx.KindTimeout {
		t.Fatalf("kind = %q, want %q", res.Failure.Kind, contractx.KindTimeout)
	}
}

func TestNewInvokerRequiresRegistry(t *testing.T) {
	t.Parallel()

	if _, err := NewInvoker(nil); err == nil {
		t.Fatal("expected error for nil registry")
	}
}
