package router

import (
	"context"
	"testing"

	"github.com/dgnsrekt/cayt_agent/internal/protocol"
)

func TestDispatchUnknownActionResponds(t *testing.T) {
	r := New("test")
	resp := r.Dispatch(context.Background(), Sender{}, protocol.Message{Action: "launchRockets"})
	if resp.Success {
		t.Fatal("Success = true; want false")
	}
	if resp.Code != protocol.CodeUnknownAction {
		t.Fatalf("Code = %q; want %q", resp.Code, protocol.CodeUnknownAction)
	}
}

func TestDispatchResolvesTab(t *testing.T) {
	tests := []struct {
		name   string
		sender Sender
		msgTab string
		want   string
	}{
		{name: "sender only", sender: Sender{TabID: "7"}, want: "7"},
		{name: "explicit wins", sender: Sender{TabID: "7"}, msgTab: "9", want: "9"},
		{name: "explicit without sender", msgTab: "9", want: "9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New("test")
			var got string
			r.Handle(protocol.ActionGetState, func(_ context.Context, req Request) (protocol.Response, error) {
				got = req.TabID
				return protocol.OK(), nil
			}, RequiresTab())

			resp := r.Dispatch(context.Background(), tt.sender, protocol.Message{Action: protocol.ActionGetState, TabID: tt.msgTab})
			if !resp.Success {
				t.Fatalf("response = %+v; want success", resp)
			}
			if got != tt.want {
				t.Fatalf("tab = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestDispatchRequiresTab(t *testing.T) {
	r := New("test")
	called := false
	r.Handle(protocol.ActionTranslate, func(context.Context, Request) (protocol.Response, error) {
		called = true
		return protocol.OK(), nil
	}, RequiresTab())

	resp := r.Dispatch(context.Background(), Sender{}, protocol.Message{Action: protocol.ActionTranslate})
	if called {
		t.Fatal("handler ran without a tab")
	}
	if resp.Code != protocol.CodeValidation {
		t.Fatalf("Code = %q; want %q", resp.Code, protocol.CodeValidation)
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	r := New("test")
	r.Handle(protocol.ActionCheckHealth, func(context.Context, Request) (protocol.Response, error) {
		panic("boom")
	})

	resp := r.Dispatch(context.Background(), Sender{}, protocol.Message{Action: protocol.ActionCheckHealth})
	if resp.Success || resp.Code != protocol.CodeInternal {
		t.Fatalf("response = %+v; want internal error", resp)
	}
}

func TestDispatchMapsHandlerError(t *testing.T) {
	r := New("test")
	r.Handle(protocol.ActionTranslate, func(context.Context, Request) (protocol.Response, error) {
		return protocol.Response{}, protocol.NewError(protocol.CodeDuplicateRequest, "pending", nil)
	})

	resp := r.Dispatch(context.Background(), Sender{TabID: "1"}, protocol.Message{Action: protocol.ActionTranslate})
	if resp.Code != protocol.CodeDuplicateRequest {
		t.Fatalf("Code = %q; want %q", resp.Code, protocol.CodeDuplicateRequest)
	}
	if resp.Error != "a request is already in progress" {
		t.Fatalf("Error = %q", resp.Error)
	}
}

func TestActionsSorted(t *testing.T) {
	r := New("test")
	noop := func(context.Context, Request) (protocol.Response, error) { return protocol.OK(), nil }
	r.Handle(protocol.ActionTranslate, noop)
	r.Handle(protocol.ActionCheckHealth, noop)

	got := r.Actions()
	if len(got) != 2 || got[0] != protocol.ActionCheckHealth || got[1] != protocol.ActionTranslate {
		t.Fatalf("Actions() = %v", got)
	}
}
