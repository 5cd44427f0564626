package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/addrintel/internal/address"
	"github.com/JonMunkholm/addrintel/internal/batch"
	"github.com/JonMunkholm/addrintel/internal/core"
	"github.com/JonMunkholm/addrintel/internal/platform/validator"
)

// ValidateRequest is the body of POST /api/validate-single.
type ValidateRequest struct {
	Address string `json:"address" validate:"required,max=1000"`
	Country string `json:"country" validate:"omitempty,max=64"`
	Contact string `json:"contact" validate:"omitempty,max=32"`
}

// BatchRequest is the JSON body of POST /api/validate-batch.
type BatchRequest struct {
	CSVContent string `json:"csv_content"`
	Country    string `json:"country" validate:"omitempty,max=64"`
}

// TriggerRequest is the body of POST /api/trigger-agent.
type TriggerRequest struct {
	ResultID   string `json:"result_id" validate:"required,max=64"`
	ActionType string `json:"action_type" validate:"required"`
}

// TriggerResponse acknowledges a confirmation request.
type TriggerResponse struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference"`
	Action    string `json:"action_type"`
	State     string `json:"state"`
}

// CancelResponse reports the state of a job after cancellation.
type CancelResponse struct {
	JobID     string       `json:"job_id"`
	Status    batch.Status `json:"status"`
	Cancelled bool         `json:"cancelled"`
	Processed int          `json:"processed"`
	Total     int          `json:"total"`
}

// decodeJSON reads a size-limited JSON body into dst and validates it.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return core.InvalidRequest("empty body")
		}
		return core.InvalidRequest(err.Error())
	}
	if err := s.validate.Struct(dst); err != nil {
		return core.InvalidRequest(validator.Describe(err))
	}
	return nil
}

// handleValidateSingle validates one address.
func (s *Server) handleValidateSingle(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err, 0)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	res, err := s.service.ValidateSingle(ctx, address.Query{
		Address: req.Address,
		Country: req.Country,
		Contact: req.Contact,
	})
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	writeJSON(w, r, http.StatusOK, res)
}

// handleValidateBatch accepts a CSV as a multipart "file" field or as JSON
// csv_content and starts a batch job.
func (s *Server) handleValidateBatch(w http.ResponseWriter, r *http.Request) {
	body, country, cleanup, err := s.batchUpload(w, r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	defer cleanup()

	rows, err := s.service.ParseBatch(body, country)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	ticket, err := s.service.SubmitBatch(ctx, rows)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	writeJSON(w, r, http.StatusAccepted, ticket)
}

// batchUpload returns the CSV stream of a batch request.
func (s *Server) batchUpload(w http.ResponseWriter, r *http.Request) (io.Reader, string, func(), error) {
	noop := func() {}
	limit := s.cfg.Batch.MaxUploadBytes

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
		if err := r.ParseMultipartForm(limit); err != nil {
			return nil, "", noop, uploadError(err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, "", noop, core.ErrNoFile
		}
		cleanup := func() {
			file.Close()
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}
		return file, r.FormValue("country"), cleanup, nil
	}

	var req BatchRequest
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, "", noop, core.ErrNoFile
		}
		return nil, "", noop, uploadError(err)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, "", noop, core.InvalidRequest(validator.Describe(err))
	}
	if strings.TrimSpace(req.CSVContent) == "" {
		return nil, "", noop, core.ErrNoFile
	}
	return strings.NewReader(req.CSVContent), req.Country, noop, nil
}

// uploadError maps body size overruns to ErrFileTooLarge.
func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: %v", core.ErrFileTooLarge, err)
	}
	return core.InvalidRequest(err.Error())
}

// handleBatchStatus returns the current state of a job.
func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.BatchStatus(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, snap)
}

// handleCancelBatch stops dispatching rows of a job.
func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.CancelBatch(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, CancelResponse{
		JobID:     snap.ID,
		Status:    snap.Status,
		Cancelled: snap.Cancelled,
		Processed: snap.Processed,
		Total:     snap.Total,
	})
}

// handleBatchResults downloads the results of a finished job as CSV.
func (s *Server) handleBatchResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var buf bytes.Buffer
	if err := s.service.ExportBatch(&buf, jobID); err != nil {
		respondError(w, r, err, 0)
		return
	}

	filename := fmt.Sprintf("batch_%s_results.csv", jobID)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// handleBatchEvents streams job progress as server-sent events.
func (s *Server) handleBatchEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	progressCh, err := s.service.SubscribeBatch(jobID)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				final, err := s.service.BatchStatus(jobID)
				if err == nil {
					data, _ := json.Marshal(batch.Progress{
						ID: final.ID, Status: final.Status, Total: final.Total,
						Processed: final.Processed, Percent: final.Progress,
					})
					fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				} else {
					fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				}
				_ = rc.Flush()
				return
			}

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			// Client disconnected
			return
		}
	}
}

// handleTriggerAgent asks the confirmation agent to verify a result.
func (s *Server) handleTriggerAgent(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err, 0)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	rec, err := s.service.TriggerAgent(ctx, req.ResultID, req.ActionType)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	writeJSON(w, r, http.StatusOK, TriggerResponse{
		Success:   true,
		Reference: rec.Reference,
		Action:    string(rec.Action),
		State:     string(rec.State),
	})
}

// handleConfirmedAddress reports the confirmation state of a result.
func (s *Server) handleConfirmedAddress(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.ConfirmedAddress(r.Context(), chi.URLParam(r, "resultID"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, st)
}

// handleCountries lists the countries with rule documents.
func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.Countries()
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Stats(r.Context())
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, st)
}

// handleHealth reports service health. Degraded services answer 503 so
// load balancers stop routing to them.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.service.Health(r.Context())
	status := http.StatusOK
	if h.Status != core.HealthOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, h)
}
