package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pushbridge/pushbridge/internal/dispatch"
	"github.com/pushbridge/pushbridge/internal/push"
	"github.com/pushbridge/pushbridge/internal/store"
)

// handleAddToken handles POST /v2/tokens/{account} — register a device
// token. The stored registration is echoed back on success.
func (s *Server) handleAddToken(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	var req push.AddRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if verr := s.dispatcher.ValidateAdd(&req); verr != nil {
		slog.Info("token add rejected",
			"account", account,
			"app_id", req.AppID,
			"error", verr.Message,
		)
		writeError(w, verr.Code, verr.Message)
		return
	}

	requestID := req.AppID + "-" + req.DeviceID
	slog.Info("incoming token add request",
		"request_id", requestID,
		"account", account,
		"platform", req.Platform,
		"host", r.RemoteAddr,
	)

	if req.Silent == nil {
		silent := true
		req.Silent = &silent
	}
	rec := store.DeviceRecord{
		DeviceID:  req.DeviceID,
		AppID:     req.AppID,
		Platform:  req.Platform,
		Token:     req.Token,
		Silent:    *req.Silent,
		UserAgent: req.UserAgent,
	}

	if s.cfg.ReturnAsync {
		go func() {
			if err := s.store.Add(context.Background(), account, rec); err != nil {
				slog.Error("failed to store token", "request_id", requestID, "error", err)
			}
		}()
		writeJSON(w, http.StatusOK, req)
		return
	}

	if err := s.store.Add(r.Context(), account, rec); err != nil {
		slog.Error("failed to store token", "request_id", requestID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error: storage")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handleRemoveToken handles DELETE /v2/tokens/{account} — unregister a
// device token. In synchronous mode absent accounts and devices yield 404;
// in asynchronous mode the removal is scheduled and the request echoed.
func (s *Server) handleRemoveToken(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	var req push.RemoveRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if verr := dispatch.ValidateRemove(&req); verr != nil {
		slog.Info("token remove rejected", "account", account, "error", verr.Message)
		writeError(w, verr.Code, verr.Message)
		return
	}

	requestID := req.DeviceID + "-" + req.AppID
	slog.Info("incoming token remove request",
		"request_id", requestID,
		"account", account,
		"host", r.RemoteAddr,
	)

	if s.cfg.ReturnAsync {
		go func() {
			if err := s.store.Remove(context.Background(), account, req.AppID, req.DeviceID); err != nil {
				slog.Error("failed to remove token", "request_id", requestID, "error", err)
			}
		}()
		writeJSON(w, http.StatusOK, req)
		return
	}

	records, err := s.store.Get(r.Context(), account)
	if err != nil {
		slog.Error("failed to load account tokens", "request_id", requestID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error: storage")
		return
	}
	if len(records) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"result": "User not found"})
		return
	}

	rec, ok := records[req.AppID+"-"+req.DeviceID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"result": "Not found"})
		return
	}

	if err := s.store.Remove(r.Context(), account, req.AppID, req.DeviceID); err != nil {
		slog.Error("failed to remove token", "request_id", requestID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error: storage")
		return
	}
	slog.Debug("removed device", "request_id", requestID, "device", rec.DeviceID, "account", account)
	writeJSON(w, http.StatusOK, req)
}
