package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/cayt_agent/internal/background"
	"github.com/dgnsrekt/cayt_agent/internal/backend"
	"github.com/dgnsrekt/cayt_agent/internal/coordinator"
	"github.com/dgnsrekt/cayt_agent/internal/protocol"
	"github.com/dgnsrekt/cayt_agent/internal/relay"
	"github.com/dgnsrekt/cayt_agent/internal/router"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Service interface {
	Dispatch(ctx context.Context, sender router.Sender, msg protocol.Message) protocol.Response
	CheckHealth(ctx context.Context) (backend.Health, error)
	CancelTranslation(ctx context.Context, tabID string) (coordinator.CancelResult, error)
	Toggle(ctx context.Context, tabID string) (protocol.TabState, error)
	RemoveTab(ctx context.Context, tabID string) bool
	Tabs() []background.TabInfo
	Tab(tabID string) (background.TabInfo, bool)
	Options(ctx context.Context) (protocol.Options, error)
	SetOptions(ctx context.Context, msg protocol.Message) (protocol.Options, error)
	PageConnected(ctx context.Context, tabID string, peer background.Peer)
	PageDisconnected(tabID string, peer background.Peer)
}

// Config holds the HTTP surface settings.
type Config struct {
	CORSOrigins []string
	// Broker feeds /api/v1/events. The endpoint is omitted when nil.
	Broker *relay.Broker
}

type tabIDInput struct {
	TabID string `path:"tab_id" minLength:"1" doc:"Tab identifier"`
}

type tabOutput struct {
	Body background.TabInfo
}

type stateOutput struct {
	Body protocol.TabState
}

func NewServer(svc Service, cfg Config) http.Handler {
	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(requestLogger)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(corsOptions(cfg.CORSOrigins)))

	hcfg := huma.DefaultConfig("Subtitle Daemon API", "1.0.0")
	hcfg.DocsPath = ""
	api := humachi.New(mux, hcfg)

	mux.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	mux.Get("/ws", bridgeHandler(svc))
	if cfg.Broker != nil {
		mux.Get("/api/v1/events", relay.SSEHandler(cfg.Broker))
	}

	registerHealthHandlers(api, svc)
	registerTabHandlers(api, svc)
	registerMessageHandlers(api, svc)
	registerOptionHandlers(api, svc)

	return mux
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}
}

func registerHealthHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status       string `json:"status"`
			Backend      string `json:"backend"`
			BackendError string `json:"backend_error,omitempty"`
			Ollama       string `json:"ollama,omitempty"`
			Model        string `json:"model,omitempty"`
			STT          string `json:"stt,omitempty"`
			Tabs         int    `json:"tabs"`
			Pages        int    `json:"pages"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			tabs := svc.Tabs()
			out.Body.Tabs = len(tabs)
			for _, t := range tabs {
				if t.Connected {
					out.Body.Pages++
				}
			}

			h, err := svc.CheckHealth(ctx)
			switch {
			case err != nil:
				out.Body.Status = "degraded"
				out.Body.Backend = "unreachable"
				out.Body.BackendError = protocol.UserMessage(err)
			case !h.LLMConnected():
				out.Body.Status = "degraded"
				out.Body.Backend = h.Status
			default:
				out.Body.Backend = h.Status
			}
			out.Body.Ollama, out.Body.Model, out.Body.STT = h.Ollama, h.Model, h.STT
			return out, nil
		})
}

func registerTabHandlers(api huma.API, svc Service) {
	type listOutput struct {
		Body struct {
			Tabs []background.TabInfo `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List tab sessions", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listOutput, error) {
			out := &listOutput{}
			out.Body.Tabs = svc.Tabs()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-tab", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}", Summary: "Get a tab session", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*tabOutput, error) {
			info, ok := svc.Tab(input.TabID)
			if !ok {
				return nil, huma.Error404NotFound("unknown tab " + input.TabID)
			}
			return &tabOutput{Body: info}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "remove-tab", Method: http.MethodDelete, Path: "/api/v1/tabs/{tab_id}", Summary: "Drop a closed tab", Description: "Cancels in-flight work for the tab and forgets its session. Unknown tabs answer 404.", Tags: []string{"Tabs"}, DefaultStatus: http.StatusNoContent},
		func(ctx context.Context, input *tabIDInput) (*struct{}, error) {
			if !svc.RemoveTab(ctx, input.TabID) {
				return nil, huma.Error404NotFound("unknown tab " + input.TabID)
			}
			return nil, nil
		})

	huma.Register(api, huma.Operation{OperationID: "toggle-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/toggle", Summary: "Press the subtitle toggle in the tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*stateOutput, error) {
			state, err := svc.Toggle(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &stateOutput{Body: state}, nil
		})

	type cancelOutput struct {
		Body struct {
			TabID   string `json:"tabId"`
			VideoID string `json:"videoId,omitempty"`
			Message string `json:"message"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "cancel-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/cancel", Summary: "Cancel the tab's in-flight translation", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*cancelOutput, error) {
			res, err := svc.CancelTranslation(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &cancelOutput{}
			out.Body.TabID = input.TabID
			out.Body.VideoID = res.VideoID
			out.Body.Message = res.Message
			return out, nil
		})
}

func registerMessageHandlers(api huma.API, svc Service) {
	type messageInput struct {
		Body protocol.Message
	}
	type messageOutput struct {
		Body protocol.Response
	}
	huma.Register(api, huma.Operation{OperationID: "send-message", Method: http.MethodPost, Path: "/api/v1/message", Summary: "Dispatch a protocol message", Description: "Answers exactly like a page would be answered. Tab-scoped actions need tabId in the body.", Tags: []string{"Messages"}},
		func(ctx context.Context, input *messageInput) (*messageOutput, error) {
			return &messageOutput{Body: svc.Dispatch(ctx, router.Sender{}, input.Body)}, nil
		})
}

func registerOptionHandlers(api huma.API, svc Service) {
	type optionsOutput struct {
		Body protocol.Options
	}
	huma.Register(api, huma.Operation{OperationID: "get-options", Method: http.MethodGet, Path: "/api/v1/options", Summary: "Get display options", Tags: []string{"Options"}},
		func(ctx context.Context, input *struct{}) (*optionsOutput, error) {
			opts, err := svc.Options(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &optionsOutput{Body: opts}, nil
		})

	type setOptionsInput struct {
		Body struct {
			ShowOriginal *bool  `json:"showOriginal,omitempty"`
			SubtitleSize string `json:"subtitleSize,omitempty" doc:"small, medium or large"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "set-options", Method: http.MethodPut, Path: "/api/v1/options", Summary: "Update display options", Description: "Omitted fields keep their value. The result is pushed to every connected page.", Tags: []string{"Options"}},
		func(ctx context.Context, input *setOptionsInput) (*optionsOutput, error) {
			opts, err := svc.SetOptions(ctx, protocol.Message{
				Action:       protocol.ActionSetOption,
				ShowOriginal: input.Body.ShowOriginal,
				SubtitleSize: input.Body.SubtitleSize,
			})
			if err != nil {
				return nil, mapErr(err)
			}
			return &optionsOutput{Body: opts}, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *protocol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case protocol.CodeValidation, protocol.CodeUnknownAction:
			return huma.Error400BadRequest(coded.Message)
		case protocol.CodeDuplicateRequest:
			return huma.Error409Conflict(protocol.UserMessage(err))
		case protocol.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case protocol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case protocol.CodeBackendUnreachable, protocol.CodeBackendError, protocol.CodeCDPUnavailable, protocol.CodeEvalFailure:
			return huma.Error502BadGateway(protocol.UserMessage(err))
		case protocol.CodeBackendUnhealthy, protocol.CodePageUnavailable:
			return huma.Error503ServiceUnavailable(protocol.UserMessage(err))
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
