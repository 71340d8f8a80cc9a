package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pushrpc/prpc/channel"
	"github.com/pushrpc/prpc/proto"
)

// RPC error codes carried on the structured error branch.
const (
	CodeParseError     = "PARSE_ERROR"
	CodeBadRequest     = "BAD_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeInternalServer = "INTERNAL_SERVER_ERROR"
)

// ServerOptions configures the HTTP surface.
type ServerOptions struct {
	// Webhooks receives validated broker delivery-confirmation events.
	// Leaving it nil (or empty) rejects webhook callbacks outright.
	Webhooks *Dispatcher

	// OnError observes authorization and webhook failures after the HTTP
	// response is decided. Useful for metrics; may be nil.
	OnError func(error)

	Logger *slog.Logger
}

// Server is the backend HTTP surface: channel authorization, webhook
// intake and the RPC execution endpoint.
type Server struct {
	router   *Router
	webhooks *Dispatcher
	onError  func(error)
	log      *slog.Logger
}

// NewServer wraps a route registry in its HTTP surface.
func NewServer(rt *Router, opts ServerOptions) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	onError := opts.OnError
	if onError == nil {
		onError = func(error) {}
	}
	return &Server{router: rt, webhooks: opts.Webhooks, onError: onError, log: log}
}

// Handler returns the mountable HTTP handler. The caller chooses the
// mount prefix, conventionally /api/prpc.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/auth", s.handleAuth)
	r.Post("/webhook", s.handleWebhook)
	r.Post("/rpc/{procedure}", s.handleRPC)
	return r
}

// authRequestBody is the channel-authorization request. Unknown fields
// become auth params after coercion.
type authRequestBody struct {
	SocketID    string `json:"socket_id"`
	ChannelName string `json:"channel_name"`
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	var req authRequestBody
	if err := json.Unmarshal(raw, &req); err != nil || req.SocketID == "" || req.ChannelName == "" {
		http.Error(w, "malformed authorization request", http.StatusBadRequest)
		return
	}

	ch := channel.Parse(req.ChannelName)
	if !ch.Type.HasMembers() {
		// Nothing to sign for channels without membership.
		writeJSON(w, http.StatusOK, json.RawMessage("null"))
		return
	}

	route := s.router.route(ch.Name)
	if route == nil || route.auth == nil {
		http.Error(w, "unknown channel route", http.StatusNotFound)
		return
	}

	appCtx, err := s.router.ctxFn(r)
	if err != nil {
		s.onError(err)
		http.Error(w, "context unavailable", http.StatusInternalServerError)
		return
	}

	var params map[string]any
	if err := json.Unmarshal(raw, &params); err == nil {
		delete(params, "socket_id")
		delete(params, "channel_name")
	}

	grant, err := route.auth(r.Context(), appCtx, AuthRequest{
		SocketID: req.SocketID,
		Channel:  ch,
		Params:   CoerceParams(params),
	})
	if err != nil || grant == nil {
		if err == nil {
			err = errors.New("authorization denied")
		}
		s.onError(err)
		s.log.Warn("Channel authorization denied",
			"channel", req.ChannelName, "socket_id", req.SocketID, "error", err)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if grant.UserID == "" {
		grant.UserID = uuid.NewString()
	}

	signed, err := s.router.api.AuthorizeChannel(req.SocketID, req.ChannelName, grant)
	if err != nil {
		s.onError(err)
		s.log.Error("Channel grant signing failed", "channel", req.ChannelName, "error", err)
		http.Error(w, "signing failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, signed)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhooks.empty() {
		http.Error(w, "no webhook handlers registered", http.StatusUnauthorized)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	hook := s.router.api.Webhook(r.Header, raw)
	if !hook.IsValid() {
		if err := hook.Err(); err != nil {
			s.onError(err)
		}
		s.log.Warn("Rejecting webhook with invalid signature")
		http.Error(w, "invalid signature", http.StatusPaymentRequired)
		return
	}

	appCtx, err := s.router.ctxFn(r)
	if err != nil {
		s.onError(err)
		http.Error(w, "context unavailable", http.StatusInternalServerError)
		return
	}

	if err := s.webhooks.Dispatch(r.Context(), appCtx, hook.Data()); err != nil {
		s.onError(err)
		s.log.Error("Webhook dispatch failed", "error", err)
		http.Error(w, "dispatch failed", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	procedure := chi.URLParam(r, "procedure")
	routeName, event, ok := strings.Cut(procedure, ".")
	if !ok || routeName == "" || event == "" {
		s.writeRPCError(w, procedure, &proto.ResponseError{
			Code: CodeBadRequest, HTTPStatus: http.StatusBadRequest,
			Stack: "procedure must be route.event",
		})
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeRPCError(w, procedure, &proto.ResponseError{
			Code: CodeParseError, HTTPStatus: http.StatusBadRequest,
			Stack: "unreadable body",
		})
		return
	}
	call, err := proto.ParseCallBody(raw)
	if err != nil {
		s.writeRPCError(w, procedure, &proto.ResponseError{
			Code: CodeParseError, HTTPStatus: http.StatusBadRequest,
			Stack: err.Error(),
		})
		return
	}

	route := s.router.route(routeName)
	if route == nil {
		s.writeRPCError(w, procedure, &proto.ResponseError{
			Code: CodeNotFound, HTTPStatus: http.StatusNotFound,
			Stack: "no such route",
		})
		return
	}
	handler := route.handler(event)
	if handler == nil {
		s.writeRPCError(w, procedure, &proto.ResponseError{
			Code: CodeNotFound, HTTPStatus: http.StatusNotFound,
			Stack: "no such event",
		})
		return
	}
	if route.typ.HasMembers() && call.Env.Me == nil {
		s.writeRPCError(w, procedure, &proto.ResponseError{
			Code: CodeBadRequest, HTTPStatus: http.StatusBadRequest,
			Stack: "member-capable route requires membership context",
		})
		return
	}

	appCtx, err := s.router.ctxFn(r)
	if err != nil {
		s.onError(err)
		s.writeRPCError(w, procedure, &proto.ResponseError{
			Code: CodeInternalServer, HTTPStatus: http.StatusInternalServerError,
			Stack: "context unavailable",
		})
		return
	}

	result, err := handler(r.Context(), &Call{
		Env:     call.Env,
		Payload: call.Payload,
		AppCtx:  appCtx,
		Trigger: newTrigger(s.router.api, route, call.Env),
	})
	if err != nil {
		var respErr *proto.ResponseError
		if !errors.As(err, &respErr) {
			respErr = &proto.ResponseError{
				Code: CodeInternalServer, HTTPStatus: http.StatusInternalServerError,
				Stack: err.Error(),
			}
		}
		s.log.Error("Route handler failed", "procedure", procedure, "error", err)
		s.writeRPCError(w, procedure, respErr)
		return
	}

	s.writeRPCResult(w, route, call.Env, result)
}

// writeRPCResult emits the single-entry batched success array. Provenance
// is attributed from the call envelope so subscribers can tell who the
// result came from.
func (s *Server) writeRPCResult(w http.ResponseWriter, route *Route, env proto.Envelope, result any) {
	from := newTrigger(s.router.api, route, env).From()

	body := []map[string]any{{
		"result": map[string]any{
			"data": map[string]any{
				"json": map[string]any{"result": result, "from": from},
			},
		},
	}}
	writeJSONValue(w, http.StatusOK, body)
}

func (s *Server) writeRPCError(w http.ResponseWriter, procedure string, respErr *proto.ResponseError) {
	if respErr.Path == "" {
		respErr.Path = procedure
	}
	body := []map[string]any{{
		"error": map[string]any{
			"json": map[string]any{"data": respErr},
		},
	}}
	writeJSONValue(w, respErr.HTTPStatus, body)
}

func writeJSON(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeJSONValue(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
