package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/usageledger/internal/server/ingest"
	"github.com/dmitrijs2005/usageledger/internal/server/models"
)

type batchRequest struct {
	Sessions []models.SessionEvent `json:"sessions"`
}

type itemResponse struct {
	Status      ingest.Status `json:"status"`
	Fingerprint string        `json:"fingerprint"`
}

type verifyResponse struct {
	AccountID   string    `json:"account_id"`
	DisplayName string    `json:"display_name"`
	KeyPrefix   string    `json:"key_prefix"`
	IsPrivate   bool      `json:"is_private"`
	CreatedAt   time.Time `json:"created_at"`
}

type dailyRow struct {
	Day string `json:"day"`
	models.Totals
	Tools models.ToolBreakdown `json:"tools"`
}

type dailyResponse struct {
	AccountID string     `json:"account_id"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Days      []dailyRow `json:"days"`
}

func decodeJSONStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("body must contain a single JSON value")
	}
	return nil
}

// writeIngestError maps ingestion failures to responses.
func (s *Server) writeIngestError(w http.ResponseWriter, r *http.Request, err error) {
	if ve, ok := ingest.AsValidationError(err); ok {
		code := CodeValidationFailed
		if ve.TooLarge {
			code = CodeBatchTooLarge
		}
		WriteProblem(w, http.StatusBadRequest, Problem{
			Code:    code,
			Message: "one or more fields are invalid",
			Errors:  ve.Fields,
		})
		return
	}
	s.logger.Error(r.Context(), "ingestion failed", "error", err)
	writeInternal(w)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.logger.Warn(r.Context(), "readiness check failed", "error", err)
			WriteProblem(w, http.StatusServiceUnavailable, Problem{Code: CodeNotReady, Message: "database not reachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleIngestOne(w http.ResponseWriter, r *http.Request) {
	var ev models.SessionEvent
	if err := decodeJSONStrict(r, &ev); err != nil {
		writeMalformed(w, err)
		return
	}

	item, err := s.ingest.IngestOne(r.Context(), accountFrom(r.Context()), ev)
	if err != nil {
		s.writeIngestError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, itemResponse{Status: item.Status, Fingerprint: item.Fingerprint})
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		writeMalformed(w, err)
		return
	}

	res, err := s.ingest.IngestBatch(r.Context(), accountFrom(r.Context()), req.Sessions)
	if err != nil {
		s.writeIngestError(w, r, err)
		return
	}
	if res.Items == nil {
		res.Items = []ingest.ItemResult{}
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	a := accountFrom(r.Context())
	writeJSON(w, http.StatusOK, verifyResponse{
		AccountID:   a.ID,
		DisplayName: a.DisplayName,
		KeyPrefix:   a.KeyPrefix,
		IsPrivate:   a.IsPrivate,
		CreatedAt:   a.CreatedAt,
	})
}

func (s *Server) handleDailyUsage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fields := map[string][]string{}

	parse := func(name string) time.Time {
		v := q.Get(name)
		if v == "" {
			fields[name] = append(fields[name], "is required")
			return time.Time{}
		}
		t, err := time.Parse(models.DayLayout, v)
		if err != nil {
			fields[name] = append(fields[name], "must be YYYY-MM-DD")
		}
		return t
	}
	from, to := parse("from"), parse("to")
	if len(fields) > 0 {
		WriteProblem(w, http.StatusBadRequest, Problem{Code: CodeValidationFailed, Message: "invalid range", Errors: fields})
		return
	}

	a := accountFrom(r.Context())
	rows, err := s.ingest.DailyUsage(r.Context(), a.ID, from, to)
	if err != nil {
		var ve *ingest.ValidationError
		if errors.As(err, &ve) {
			WriteProblem(w, http.StatusBadRequest, Problem{Code: CodeValidationFailed, Message: "invalid range", Errors: ve.Fields})
			return
		}
		s.logger.Error(r.Context(), "daily usage failed", "error", err)
		writeInternal(w)
		return
	}

	out := dailyResponse{
		AccountID: a.ID,
		From:      from.Format(models.DayLayout),
		To:        to.Format(models.DayLayout),
		Days:      make([]dailyRow, 0, len(rows)),
	}
	for _, row := range rows {
		tools := row.Tools
		if tools == nil {
			tools = models.ToolBreakdown{}
		}
		out.Days = append(out.Days, dailyRow{Day: row.Day.Format(models.DayLayout), Totals: row.Totals, Tools: tools})
	}
	writeJSON(w, http.StatusOK, out)
}
