package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"bilancio/internal/core"
)

// writeError maps the core error taxonomy onto HTTP statuses. Invalid input
// is correctable in place, missing rows are 404, violated invariants are
// conflicts; anything else is a storage failure the caller may retry.
func writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrInvalidMonth),
		errors.Is(err, core.ErrEmptyName):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrConstraintViolation):
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			slog.Error("Failed to encode response", "error", err)
		}
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func parseDate(s string) (core.Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return core.Date{}, core.ErrInvalidDate
	}
	return core.Date{Time: t}, nil
}

// queryYearMonth reads year and month parameters, defaulting to the current month.
func queryYearMonth(r *http.Request) (int, int, error) {
	now := time.Now()
	year, month := now.Year(), int(now.Month())
	if v := r.URL.Query().Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, core.ErrInvalidDate
		}
		year = y
	}
	if v := r.URL.Query().Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			return 0, 0, core.ErrInvalidMonth
		}
		month = m
	}
	return year, month, nil
}

type entryResponse struct {
	ID                 int64  `json:"id"`
	Date               string `json:"date"`
	Amount             string `json:"amount"`
	AmountCents        int64  `json:"amount_cents"`
	SubcategoryID      int64  `json:"subcategory_id"`
	Description        string `json:"description"`
	Archived           bool   `json:"archived"`
	DepositEnvelopeID  *int64 `json:"deposit_envelope_id,omitempty"`
	FinancedEnvelopeID *int64 `json:"financed_envelope_id,omitempty"`
}

func toEntryResponse(e core.Entry) entryResponse {
	return entryResponse{
		ID:                 e.ID,
		Date:               e.Date.Format("2006-01-02"),
		Amount:             strconv.FormatFloat(e.Amount.Euros(), 'f', 2, 64),
		AmountCents:        e.Amount.Cents,
		SubcategoryID:      e.SubcategoryID,
		Description:        e.Description,
		Archived:           e.Archived,
		DepositEnvelopeID:  e.DepositEnvelopeID,
		FinancedEnvelopeID: e.FinancedEnvelopeID,
	}
}

func (s *Server) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubcategoryID int64  `json:"subcategory_id"`
		Amount        string `json:"amount"`
		Description   string `json:"description"`
		Date          string `json:"date"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, err)
		return
	}

	id, err := s.entries.AddEntry(r.Context(), req.SubcategoryID, core.Money{Cents: cents}, req.Description, date)
	if err != nil {
		writeError(w, err)
		return
	}

	s.coverageCache.Purge()
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	var (
		entries []core.Entry
		err     error
	)
	if fromParam := r.URL.Query().Get("from"); fromParam != "" {
		var from, to core.Date
		if from, err = parseDate(fromParam); err != nil {
			writeError(w, err)
			return
		}
		if to, err = parseDate(r.URL.Query().Get("to")); err != nil {
			writeError(w, err)
			return
		}
		entries, err = s.entries.ListRange(r.Context(), from, to)
	} else {
		var year, month int
		if year, month, err = queryYearMonth(r); err != nil {
			writeError(w, err)
			return
		}
		entries, err = s.entries.ListMonth(r.Context(), year, month)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAmendAmount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid entry id"})
		return
	}

	var req struct {
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.entries.AmendAmount(r.Context(), id, core.Money{Cents: cents}); err != nil {
		writeError(w, err)
		return
	}

	s.coverageCache.Purge()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArchiveEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid entry id"})
		return
	}

	var req struct {
		Archived bool `json:"archived"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	if err := s.entries.SetArchived(r.Context(), id, req.Archived); err != nil {
		writeError(w, err)
		return
	}

	s.coverageCache.Purge()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid entry id"})
		return
	}

	if err := s.entries.DeleteEntry(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	s.coverageCache.Purge()
	w.WriteHeader(http.StatusNoContent)
}

type envelopeResponse struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Color      string  `json:"color"`
	Target     *string `json:"target,omitempty"`
	Saldo      string  `json:"saldo"`
	SaldoCents int64   `json:"saldo_cents"`
	Finished   *string `json:"finished,omitempty"`
	Closed     *string `json:"closed,omitempty"`
}

func toEnvelopeResponse(env core.Envelope) envelopeResponse {
	resp := envelopeResponse{
		ID:         env.ID,
		Name:       env.Name,
		Color:      env.Color,
		Saldo:      strconv.FormatFloat(env.Saldo.Euros(), 'f', 2, 64),
		SaldoCents: env.Saldo.Cents,
	}
	if env.Target != nil {
		t := strconv.FormatFloat(env.Target.Euros(), 'f', 2, 64)
		resp.Target = &t
	}
	if env.Finished != nil {
		f := env.Finished.Format("2006-01-02")
		resp.Finished = &f
	}
	if env.Closed != nil {
		c := env.Closed.Format("2006-01-02")
		resp.Closed = &c
	}
	return resp
}

func (s *Server) handleCreateEnvelope(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Color   string `json:"color"`
		Target  string `json:"target,omitempty"`
		Opening string `json:"opening,omitempty"`
		Date    string `json:"date,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	var target *core.Money
	if req.Target != "" {
		cents, err := core.ParseDecimalToCents(req.Target)
		if err != nil {
			writeError(w, err)
			return
		}
		target = &core.Money{Cents: cents}
	}

	var opening *core.Money
	date := core.Date{Time: time.Now().UTC().Truncate(24 * time.Hour)}
	if req.Opening != "" {
		cents, err := core.ParseDecimalToCents(req.Opening)
		if err != nil {
			writeError(w, err)
			return
		}
		opening = &core.Money{Cents: cents}
		if req.Date != "" {
			date, err = parseDate(req.Date)
			if err != nil {
				writeError(w, err)
				return
			}
		}
	}

	env, err := s.envelopes.CreateEnvelope(r.Context(), req.Name, req.Color, target, opening, date)
	if err != nil {
		writeError(w, err)
		return
	}

	s.coverageCache.Purge()
	writeJSON(w, http.StatusCreated, toEnvelopeResponse(env))
}

func (s *Server) handleListEnvelopes(w http.ResponseWriter, r *http.Request) {
	envs, err := s.envelopes.ListActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]envelopeResponse, 0, len(envs))
	for _, env := range envs {
		out = append(out, toEnvelopeResponse(env))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid envelope id"})
		return
	}

	var req struct {
		Amount string `json:"amount"`
		Date   string `json:"date"`
		Note   string `json:"note,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, err)
		return
	}

	entryID, err := s.envelopes.Deposit(r.Context(), id, core.Money{Cents: cents}, date, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}

	s.coverageCache.Purge()
	writeJSON(w, http.StatusCreated, map[string]int64{"entry_id": entryID})
}

func (s *Server) handleDeleteEnvelope(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid envelope id"})
		return
	}

	if err := s.envelopes.DeleteEnvelope(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CategoryID int64  `json:"category_id"`
		Year       *int   `json:"year,omitempty"`
		Month      *int   `json:"month,omitempty"`
		Limit      string `json:"limit"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	cents, err := core.ParseDecimalToCents(req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}

	id, err := s.limits.SetLimit(r.Context(), core.CategoryLimit{
		CategoryID: req.CategoryID,
		Year:       req.Year,
		Month:      req.Month,
		Limit:      core.Money{Cents: cents},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleRemoveLimit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit id"})
		return
	}

	if err := s.limits.RemoveLimit(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	categoryID, err := strconv.ParseInt(r.URL.Query().Get("category_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid category_id"})
		return
	}
	year, month, err := queryYearMonth(r)
	if err != nil {
		writeError(w, err)
		return
	}

	usage, err := s.limits.ComputeUsage(r.Context(), categoryID, year, month)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := struct {
		UsedCents  int64   `json:"used_cents"`
		LimitCents int64   `json:"limit_cents"`
		HasLimit   bool    `json:"has_limit"`
		Percent    float64 `json:"percent"`
		LeftCents  int64   `json:"left_cents"`
	}{
		UsedCents:  usage.Used.Cents,
		LimitCents: usage.Limit.Cents,
		HasLimit:   usage.HasLimit,
		Percent:    usage.Percent,
		LeftCents:  usage.Left.Cents,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	year, month, err := queryYearMonth(r)
	if err != nil {
		writeError(w, err)
		return
	}

	key := strconv.Itoa(year) + "-" + strconv.Itoa(month)
	if cached, ok := s.coverageCache.Get(key); ok {
		slog.DebugContext(r.Context(), "Coverage cache hit", "year", year, "month", month)
		writeJSON(w, http.StatusOK, cached)
		return
	}

	coverage, err := s.series.Coverage(r.Context(), year, month)
	if err != nil {
		writeError(w, err)
		return
	}

	s.coverageCache.Set(key, coverage)
	writeJSON(w, http.StatusOK, coverage)
}
