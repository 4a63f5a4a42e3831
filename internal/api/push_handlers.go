package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pushbridge/pushbridge/internal/push"
)

// handlePush handles POST /push — deliver one notification to one device.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req push.Request
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	app, verr := s.dispatcher.Validate(&req)
	if verr != nil {
		slog.Info("push request rejected",
			"app_id", req.AppID,
			"platform", req.Platform,
			"error", verr.Message,
		)
		writeError(w, verr.Code, verr.Message)
		return
	}

	requestID := req.RequestID()
	slog.Info("incoming push request",
		"request_id", requestID,
		"event", req.Event,
		"to", req.SipTo,
		"host", r.RemoteAddr,
	)

	if s.cfg.ReturnAsync {
		go s.dispatcher.Dispatch(context.Background(), app, &req, requestID)
		writeEnvelope(w, envelope{
			Code:        http.StatusAccepted,
			Description: "accepted for delivery",
			Data:        struct{}{},
		})
		return
	}

	res := s.dispatcher.Dispatch(r.Context(), app, &req, requestID)
	writeEnvelope(w, envelope{
		Code:        res.Code,
		Description: "push notification response",
		Data:        res,
	})
}

// handleAccountPush handles POST /v2/tokens/{account}/push and its
// /{device} variant — fan the notification out to the account's devices.
func (s *Server) handleAccountPush(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	device := chi.URLParam(r, "device")

	var req push.Request
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	slog.Info("incoming push request",
		"request_id", fmt.Sprintf("%s-%s-%s", req.Event, account, req.CallID),
		"event", req.Event,
		"account", account,
		"device", device,
		"host", r.RemoteAddr,
	)

	if s.cfg.ReturnAsync {
		go s.dispatcher.Fanout(context.Background(), account, device, &req)
		writeEnvelope(w, envelope{
			Code:        http.StatusAccepted,
			Description: "accepted for delivery",
			Data:        struct{}{},
		})
		return
	}

	out := s.dispatcher.Fanout(r.Context(), account, device, &req)
	writeEnvelope(w, envelope{
		Code:        out.Code,
		Description: out.Description,
		Data:        out.Data,
	})
}
