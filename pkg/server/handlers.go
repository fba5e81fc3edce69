package server

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ajitpratap0/trellis/pkg/display"
	"github.com/ajitpratap0/trellis/pkg/errors"
	jsonpool "github.com/ajitpratap0/trellis/pkg/json"
	"github.com/ajitpratap0/trellis/pkg/metrics"
	"github.com/ajitpratap0/trellis/pkg/state"
	"github.com/ajitpratap0/trellis/pkg/views"
)

const maxBodyBytes = 1 << 20

type api struct {
	root   string
	logger *zap.Logger
}

type errorBody struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

type viewBody struct {
	Description string      `json:"description"`
	State       state.State `json:"state"`
}

func (a *api) listDisplays(w http.ResponseWriter, r *http.Request) {
	x, err := display.ReadIndex(a.root)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, x)
}

func (a *api) getDisplay(w http.ResponseWriter, r *http.Request) {
	info, err := display.ReadInfo(a.root, chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// computeView runs a posted state against the display's rows
func (a *api) computeView(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var s state.State
	if err := decodeBody(r, &s); err != nil {
		a.fail(w, err)
		return
	}
	d, err := display.Load(a.root, name)
	if err != nil {
		a.fail(w, err)
		return
	}
	if err := state.Validate(d.Frame, s); err != nil {
		a.fail(w, err)
		return
	}

	timer := metrics.NewTimer("compute_view")
	page := state.Compute(d.Frame, s)
	metrics.ComputeViewLatency.Observe(float64(timer.Stop().Nanoseconds()))
	metrics.MatchingRows.WithLabelValues(name).Set(float64(page.Total))

	writeJSON(w, http.StatusOK, page)
}

func (a *api) listViews(w http.ResponseWriter, r *http.Request) {
	names, err := a.store(r).List()
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (a *api) getView(w http.ResponseWriter, r *http.Request) {
	v, err := a.store(r).Get(chi.URLParam(r, "view"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *api) putView(w http.ResponseWriter, r *http.Request) {
	var body viewBody
	if err := decodeBody(r, &body); err != nil {
		a.fail(w, err)
		return
	}
	view := chi.URLParam(r, "view")
	store := a.store(r)
	if err := store.SaveView(state.NamedView{Name: view, Description: body.Description, State: body.State}); err != nil {
		a.fail(w, err)
		return
	}
	saved, err := store.Get(view)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (a *api) deleteView(w http.ResponseWriter, r *http.Request) {
	if err := a.store(r).Delete(chi.URLParam(r, "view")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) store(r *http.Request) *views.Store {
	return views.Open(a.root, chi.URLParam(r, "name"), views.WithLogger(a.logger))
}

func (a *api) fail(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Type: string(errors.TypeOf(err))})
}

func statusOf(err error) int {
	switch errors.TypeOf(err) {
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeValidation, errors.ErrorTypeUnknownVariable, errors.ErrorTypeTypeMismatch, errors.ErrorTypeConfig:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "failed to read request body")
	}
	if len(data) > maxBodyBytes {
		return errors.New(errors.ErrorTypeValidation, "request body too large")
	}
	if err := jsonpool.Unmarshal(data, v); err != nil {
		if errors.TypeOf(err) != errors.ErrorTypeInternal {
			return err
		}
		return errors.Wrap(err, errors.ErrorTypeValidation, "malformed request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonpool.MarshalToWriter(w, v)
}
