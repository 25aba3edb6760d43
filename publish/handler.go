package publish

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/gameforge/publish-worker/publishclient/publishapi"
)

const maxBodySize = 64 << 10

type httpHandler struct {
	s         Service
	workerKey string
}

func (h httpHandler) init(m *http.ServeMux) {
	m.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, publishapi.TriggerResponse{Success: true, Message: "ok"})
	})
	m.HandleFunc("/", h.Trigger)
}

func (h httpHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, publishapi.ErrMethodNotAllowed)
		return
	}
	if h.workerKey != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(publishapi.WorkerKeyHeader)), []byte(h.workerKey)) != 1 {
		writeErr(w, http.StatusUnauthorized, publishapi.ErrUnauthorized)
		return
	}

	defer func() {
		_ = r.Body.Close()
	}()
	var req publishapi.TriggerRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	// an empty or malformed body means "take the oldest queued job"
	if len(body) > 0 {
		if err = json.Unmarshal(body, &req); err != nil {
			log.Debug("ignore malformed trigger body", zap.Error(err))
			req = publishapi.TriggerRequest{}
		}
	}

	// processing continues after the caller disconnects
	outcome, err := h.s.Process(context.WithoutCancel(r.Context()), req.JobId)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, publishapi.TriggerResponse{JobId: outcome.JobId, Error: err.Error()})
		return
	}
	if outcome.NoJob {
		writeJSON(w, http.StatusOK, publishapi.TriggerResponse{Success: true, Message: "No queued jobs"})
		return
	}
	writeJSON(w, http.StatusOK, publishapi.TriggerResponse{
		Success: true,
		JobId:   outcome.JobId,
		Message: publishedMessage(outcome.Source),
	})
}

func writeJSON(w http.ResponseWriter, status int, resp publishapi.TriggerResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, _ := json.Marshal(resp)
	_, _ = w.Write(data)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, publishapi.TriggerResponse{Error: err.Error()})
}
