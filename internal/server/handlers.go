package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scopesignal/internal/batch"
	"github.com/sells-group/scopesignal/internal/classify"
	"github.com/sells-group/scopesignal/internal/compliance"
	"github.com/sells-group/scopesignal/internal/model"
)

const maxBodyBytes = 4 << 20

type classifyRequest struct {
	Text    string                   `json:"text"`
	Trade   string                   `json:"trade"`
	Agency  string                   `json:"agency,omitempty"`
	Profile *model.ComplianceProfile `json:"profile,omitempty"`
}

type classifyResponse struct {
	Result      model.ClassificationResult `json:"result"`
	Proof       model.DecisionProof        `json:"proof"`
	Feasibility *model.FeasibilityResult   `json:"feasibility,omitempty"`
}

type failureResponse struct {
	Error      string               `json:"error"`
	Attempts   int                  `json:"attempts"`
	LastReason string               `json:"last_reason"`
	Proof      *model.DecisionProof `json:"proof,omitempty"`
}

type feasibilityRequest struct {
	Result  model.ClassificationResult `json:"result"`
	Trade   string                     `json:"trade"`
	Agency  string                     `json:"agency,omitempty"`
	Profile model.ComplianceProfile    `json:"profile"`
	AsOf    string                     `json:"as_of,omitempty"`
}

type batchItem struct {
	ID      string                   `json:"id,omitempty"`
	Text    string                   `json:"text"`
	Trade   string                   `json:"trade"`
	Agency  string                   `json:"agency,omitempty"`
	Profile *model.ComplianceProfile `json:"profile,omitempty"`
}

type batchRequest struct {
	Items []batchItem `json:"items"`
}

type countResponse struct {
	Removed int `json:"removed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var body classifyRequest
	if !decodeBody(w, r, &body) {
		return
	}
	trade, err := model.ParseTrade(body.Trade)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req := model.ClassificationRequest{Text: body.Text, Trade: trade, Agency: body.Agency}

	res, proof, err := s.deps.Classifier.Classify(r.Context(), req)
	if err != nil {
		s.writeClassifyError(w, err)
		return
	}

	out := classifyResponse{Result: res, Proof: proof}
	if body.Profile != nil && s.deps.Scorer != nil {
		f := s.deps.Scorer.Score(compliance.Request{
			Result:  res,
			Trade:   trade,
			Agency:  body.Agency,
			Profile: *body.Profile,
		})
		out.Feasibility = &f
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeClassifyError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var ce *classify.ClassificationError
	if errors.As(err, &ce) {
		proof := ce.Proof
		writeJSON(w, http.StatusBadGateway, failureResponse{
			Error:      ce.Error(),
			Attempts:   ce.Attempts,
			LastReason: ce.LastReason,
			Proof:      &proof,
		})
		return
	}
	zap.L().Error("server: classify failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err)
}

func (s *Server) handleFeasibility(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scorer == nil {
		writeError(w, http.StatusNotImplemented, eris.New("feasibility scoring is not configured"))
		return
	}
	var body feasibilityRequest
	if !decodeBody(w, r, &body) {
		return
	}
	trade, err := model.ParseTrade(body.Trade)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := body.Result.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid result"))
		return
	}
	req := compliance.Request{Result: body.Result, Trade: trade, Agency: body.Agency, Profile: body.Profile}
	if body.AsOf != "" {
		asOf, err := time.Parse(time.DateOnly, body.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid as_of"))
			return
		}
		req.AsOf = asOf
	}
	writeJSON(w, http.StatusOK, s.deps.Scorer.Score(req))
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		writeError(w, http.StatusNotImplemented, eris.New("batch runner is not configured"))
		return
	}
	var body batchRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.Items) == 0 {
		writeError(w, http.StatusBadRequest, eris.New("items is empty"))
		return
	}
	if len(body.Items) > s.deps.MaxBatchItems {
		writeError(w, http.StatusRequestEntityTooLarge, eris.Errorf("batch exceeds %d items", s.deps.MaxBatchItems))
		return
	}

	items := make([]batch.Item, len(body.Items))
	for i, it := range body.Items {
		// An unknown trade fails that item only, through request validation.
		trade, err := model.ParseTrade(it.Trade)
		if err != nil {
			trade = model.Trade(it.Trade)
		}
		items[i] = batch.Item{
			ID:      it.ID,
			Request: model.ClassificationRequest{Text: it.Text, Trade: trade, Agency: it.Agency},
			Profile: it.Profile,
		}
	}
	writeJSON(w, http.StatusOK, s.deps.Runner.Run(r.Context(), items))
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Cache.Stats(r.Context())
	if err != nil {
		writeCacheError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Cache.Clear(r.Context())
	if err != nil {
		writeCacheError(w, err)
		return
	}
	zap.L().Info("server: cache cleared", zap.Int("removed", n))
	writeJSON(w, http.StatusOK, countResponse{Removed: n})
}

func (s *Server) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Cache.Purge(r.Context())
	if err != nil {
		writeCacheError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Removed: n})
}

func writeCacheError(w http.ResponseWriter, err error) {
	zap.L().Warn("server: cache operation failed", zap.Error(err))
	writeError(w, http.StatusServiceUnavailable, eris.Wrap(classify.ErrCacheUnavailable, err.Error()))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}
