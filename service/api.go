package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timzifer/mbusdconf/editor"
	"github.com/timzifer/mbusdconf/form"
)

type sectionView struct {
	ID     string            `json:"id"`
	Name   string            `json:"name,omitempty"`
	Values map[string]string `json:"values"`
}

type sectionsResponse struct {
	Sections []sectionView `json:"sections"`
	Dirty    bool          `json:"dirty"`
}

type validateResponse struct {
	Valid  bool               `json:"valid"`
	Errors []*form.FieldError `json:"errors"`
}

type fieldUpdateRequest struct {
	Value *string `json:"value"`
}

type fieldUpdateResponse struct {
	Section string `json:"section"`
	Field   string `json:"field"`
	Value   string `json:"value"`
}

type moveRequest struct {
	Index *int `json:"index"`
}

type errorResponse struct {
	Error  string             `json:"error"`
	Errors []*form.FieldError `json:"errors,omitempty"`
}

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/form", s.handleForm)
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/sections", s.handleSections)
	mux.HandleFunc("/api/sections/", s.handleSection)
	mux.HandleFunc("/api/validate", s.handleValidate)
	mux.HandleFunc("/api/save", s.handleSave)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *Service) handleForm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var desc form.Descriptor
	if err := s.WithSession(func(session *editor.Session) error {
		desc = session.Form().Render()
		return nil
	}); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, desc)
}

func (s *Service) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	devices := s.Devices()
	if devices == nil {
		devices = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"devices": devices})
}

func (s *Service) handleSections(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var resp sectionsResponse
		if err := s.WithSession(func(session *editor.Session) error {
			resp = sectionsOf(session)
			return nil
		}); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var view sectionView
		if err := s.WithSession(func(session *editor.Session) error {
			view = viewOf(session, session.Add())
			return nil
		}); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, view)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Service) handleSection(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sections/")
	parts := strings.Split(rest, "/")
	if parts[0] == "" || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.WithSession(func(session *editor.Session) error {
			return session.Remove(id)
		}); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 2 && parts[1] == "move" && r.Method == http.MethodPost:
		s.handleMove(w, r, id)
	case len(parts) == 2 && r.Method == http.MethodPut:
		s.handleFieldUpdate(w, r, id, parts[1])
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Service) handleMove(w http.ResponseWriter, r *http.Request, id string) {
	defer r.Body.Close()
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
		http.Error(w, "index required", http.StatusBadRequest)
		return
	}
	var resp sectionsResponse
	if err := s.WithSession(func(session *editor.Session) error {
		if err := session.Move(id, *req.Index); err != nil {
			return err
		}
		resp = sectionsOf(session)
		return nil
	}); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleFieldUpdate(w http.ResponseWriter, r *http.Request, id, key string) {
	defer r.Body.Close()
	var req fieldUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		http.Error(w, "value required", http.StatusBadRequest)
		return
	}
	var resp fieldUpdateResponse
	if err := s.WithSession(func(session *editor.Session) error {
		if _, err := session.Set(id, key, *req.Value); err != nil {
			return err
		}
		resp = fieldUpdateResponse{Section: id, Field: key, Value: session.FormValue(id, key)}
		return nil
	}); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := validateResponse{Errors: []*form.FieldError{}}
	if err := s.WithSession(func(session *editor.Session) error {
		if errs := session.Validate(); len(errs) > 0 {
			resp.Errors = errs
		}
		return nil
	}); err != nil {
		s.writeError(w, err)
		return
	}
	resp.Valid = len(resp.Errors) == 0
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := s.Save(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.Load(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	var resp sectionsResponse
	_ = s.WithSession(func(session *editor.Session) error {
		resp = sectionsOf(session)
		return nil
	})
	s.writeJSON(w, http.StatusOK, resp)
}

func sectionsOf(session *editor.Session) sectionsResponse {
	sections := session.Sections()
	resp := sectionsResponse{Sections: make([]sectionView, 0, len(sections)), Dirty: session.Dirty()}
	for _, sec := range sections {
		resp.Sections = append(resp.Sections, viewOf(session, sec))
	}
	return resp
}

func viewOf(session *editor.Session, sec *editor.Section) sectionView {
	view := sectionView{ID: sec.ID, Name: sec.Name, Values: make(map[string]string)}
	for _, opt := range session.Grid().Options {
		view.Values[opt.Key] = session.FormValue(sec.ID, opt.Key)
	}
	return view
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	var fieldErr *form.FieldError
	var validationErr *editor.ValidationError
	switch {
	case errors.As(err, &fieldErr):
		s.writeJSON(w, http.StatusUnprocessableEntity, fieldErr)
	case errors.As(err, &validationErr):
		s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Errors: validationErr.Fields})
	case errors.Is(err, editor.ErrUnknownSection), errors.Is(err, editor.ErrUnknownField):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		s.logger.Error().Err(err).Msg("request failed")
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("encode response")
	}
}
