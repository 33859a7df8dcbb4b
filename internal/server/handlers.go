package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/manash/timebooth/internal/capture"
	"github.com/manash/timebooth/internal/provider"
	"github.com/manash/timebooth/internal/security"
	"github.com/manash/timebooth/internal/session"
	"github.com/manash/timebooth/pkg/models"
)

const (
	maxJSONBytes = 64 << 10
	// a base64 data URI is 4/3 the size of the photo plus its header
	maxPhotoBodyBytes = security.MaxPhotoBytes*4/3 + 4<<10
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps session and adapter errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, provider.ErrCapture):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrEmptyInstruction),
		errors.Is(err, models.ErrUnknownEra),
		errors.Is(err, models.ErrUnknownPreset),
		errors.Is(err, models.ErrNoImageData):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrAnalysis),
		errors.Is(err, provider.ErrGeneration),
		errors.Is(err, provider.ErrEdit):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respond writes the fresh snapshot, or the error that prevented the
// transition.
func (s *Server) respond(w http.ResponseWriter, err error) {
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("request failed", "error", err)
		}
		Error(w, status, err.Error())
		return
	}
	JSON(w, http.StatusOK, s.controller.Snapshot())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// workContext detaches adapter calls from the request so a client that
// disconnects mid-generation does not abort the shared session's call.
func workContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, s.controller.Snapshot())
}

type eraView struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

func (s *Server) handleEras(w http.ResponseWriter, _ *http.Request) {
	eras := models.AllEras()
	out := make([]eraView, 0, len(eras))
	for _, era := range eras {
		out = append(out, eraView{ID: era.Slug(), Label: era.String(), Description: era.Description()})
	}
	JSON(w, http.StatusOK, out)
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, models.Presets())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := s.controller.History()

	q := r.URL.Query().Get("era")
	if q == "" {
		JSON(w, http.StatusOK, history.Entries())
		return
	}

	era, err := models.ParseEra(q)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	JSON(w, http.StatusOK, history.Versions(era))
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		Error(w, http.StatusNotFound, "usage tracking is disabled")
		return
	}
	summary, err := s.ledger.Summary(r.Context())
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read usage")
		return
	}
	JSON(w, http.StatusOK, summary)
}

// handlePhoto accepts either a multipart upload in the "photo" field or a
// JSON body {"image": "<data URI>"}.
func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	src, ok := s.photoSource(w, r)
	if !ok {
		return
	}

	ctx := workContext(r)
	uri, err := capture.Capture(ctx, src, s.captureOpts)
	if err != nil {
		s.respond(w, err)
		return
	}
	s.respond(w, s.controller.SubmitPhoto(ctx, uri))
}

func (s *Server) photoSource(w http.ResponseWriter, r *http.Request) (capture.Source, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, security.MaxPhotoBytes+1<<20)
		file, header, err := r.FormFile("photo")
		if err != nil {
			Error(w, http.StatusBadRequest, fmt.Sprintf("missing photo upload: %v", err))
			return nil, false
		}
		return capture.ReaderSource(file, header.Filename), true
	}

	var body struct {
		Image string `json:"image"`
	}
	if !decodeJSON(w, r, maxPhotoBodyBytes, &body) {
		return nil, false
	}
	if strings.TrimSpace(body.Image) == "" {
		Error(w, http.StatusBadRequest, models.ErrNoImageData.Error())
		return nil, false
	}
	return capture.DataURISource(body.Image), true
}

func (s *Server) handleEra(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Era string `json:"era"`
	}
	if !decodeJSON(w, r, maxJSONBytes, &body) {
		return
	}

	era, err := models.ParseEra(body.Era)
	if err != nil {
		s.respond(w, err)
		return
	}
	s.respond(w, s.controller.ChooseEra(workContext(r), era))
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Instruction string `json:"instruction"`
	}
	if !decodeJSON(w, r, maxJSONBytes, &body) {
		return
	}
	s.respond(w, s.controller.EditImage(workContext(r), body.Instruction))
}

func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Preset string `json:"preset"`
	}
	if !decodeJSON(w, r, maxJSONBytes, &body) {
		return
	}
	s.respond(w, s.controller.ApplyPreset(workContext(r), body.Preset))
}

func (s *Server) handleBack(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, s.controller.GoBackToEraChoice())
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, s.controller.Reset())
}
