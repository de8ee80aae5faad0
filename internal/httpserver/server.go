package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/deep60/nexus-security/internal/auth"
	"github.com/deep60/nexus-security/internal/engine"
	"github.com/deep60/nexus-security/internal/errs"
	"github.com/deep60/nexus-security/internal/models"
	"github.com/deep60/nexus-security/internal/store"
	"github.com/deep60/nexus-security/internal/validate"
)

type Server struct {
	engine   *engine.Engine
	store    store.Store
	verifier *auth.Verifier
}

// New builds the HTTP surface. verifier may be nil, which disables auth
// (tests and local development).
func New(eng *engine.Engine, st store.Store, verifier *auth.Verifier) *Server {
	return &Server{engine: eng, store: st, verifier: verifier}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/bounties", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.verifier != nil {
				r.Use(s.verifier.Middleware)
			}
			r.Post("/", s.handleCreateBounty)
			r.Post("/{bountyID}/submissions", s.handleSubmit)
			r.Post("/{bountyID}/resolve", s.handleResolve)
		})
		r.Get("/{bountyID}", s.handleGetBounty)
		r.Get("/{bountyID}/submissions/{participant}", s.handleGetSubmission)
	})

	r.Route("/participants", func(r chi.Router) {
		r.Get("/{participant}/reputation", s.handleGetReputation)
		r.Group(func(r chi.Router) {
			if s.verifier != nil {
				r.Use(s.verifier.Middleware)
			}
			r.Post("/{participant}/reputation/decay", s.handleApplyDecay)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

type createBountyRequest struct {
	Creator       string    `json:"creator"`
	ArtifactRef   string    `json:"artifactRef"`
	Description   string    `json:"description"`
	RewardAmount  int64     `json:"rewardAmount"`
	MinStake      int64     `json:"minStake"`
	MinReputation int64     `json:"minReputation"`
	Deadline      time.Time `json:"deadline"`
}

func (s *Server) handleCreateBounty(w http.ResponseWriter, r *http.Request) {
	var req createBountyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.actorAllowed(r, req.Creator) {
		respondError(w, http.StatusForbidden, "token subject does not match creator")
		return
	}
	b, err := s.engine.CreateBounty(r.Context(), engine.CreateBountyRequest{
		Creator:       req.Creator,
		ArtifactRef:   req.ArtifactRef,
		Description:   req.Description,
		RewardAmount:  req.RewardAmount,
		MinStake:      req.MinStake,
		MinReputation: req.MinReputation,
		Deadline:      req.Deadline,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

type submitRequest struct {
	Participant string `json:"participant"`
	Verdict     string `json:"verdict"`
	Confidence  int    `json:"confidence"`
	Stake       int64  `json:"stake"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	bountyID, err := uuid.Parse(chi.URLParam(r, "bountyID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid bounty id")
		return
	}
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.actorAllowed(r, req.Participant) {
		respondError(w, http.StatusForbidden, "token subject does not match participant")
		return
	}
	sub, err := s.engine.SubmitAnalysis(r.Context(), engine.SubmitRequest{
		BountyID:    bountyID,
		Participant: req.Participant,
		Verdict:     models.Verdict(req.Verdict),
		Confidence:  req.Confidence,
		Stake:       req.Stake,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	bountyID, err := uuid.Parse(chi.URLParam(r, "bountyID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid bounty id")
		return
	}
	report, err := s.engine.ResolveBounty(r.Context(), bountyID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetBounty(w http.ResponseWriter, r *http.Request) {
	bountyID, err := uuid.Parse(chi.URLParam(r, "bountyID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid bounty id")
		return
	}
	b, err := s.engine.GetBounty(r.Context(), bountyID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	bountyID, err := uuid.Parse(chi.URLParam(r, "bountyID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid bounty id")
		return
	}
	sub, err := s.engine.GetSubmission(r.Context(), bountyID, chi.URLParam(r, "participant"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (s *Server) handleGetReputation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.GetReputation(r.Context(), chi.URLParam(r, "participant"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleApplyDecay(w http.ResponseWriter, r *http.Request) {
	participant := chi.URLParam(r, "participant")
	if !s.actorAllowed(r, participant) {
		respondError(w, http.StatusForbidden, "token subject does not match participant")
		return
	}
	rec, err := s.engine.ApplyDecay(r.Context(), participant)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// actorAllowed compares the authenticated subject with the acting party.
// With auth disabled every actor is allowed.
func (s *Server) actorAllowed(r *http.Request, actor string) bool {
	if s.verifier == nil {
		return true
	}
	p := auth.FromContext(r.Context())
	return p != nil && p.Subject == actor
}

func respondEngineError(w http.ResponseWriter, err error) {
	var (
		valErr     *validate.Error
		stateErr   *errs.StateError
		authErr    *errs.AuthorizationError
		custodyErr *errs.CustodyError
		invariant  *errs.InvariantViolation
	)
	switch {
	case errors.As(err, &valErr):
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": valErr.Error(), "code": string(valErr.Code)})
	case errors.As(err, &stateErr):
		respondError(w, http.StatusConflict, stateErr.Error())
	case errors.As(err, &authErr):
		respondError(w, http.StatusForbidden, authErr.Error())
	case errors.As(err, &custodyErr):
		respondError(w, http.StatusBadGateway, custodyErr.Error())
	case errors.As(err, &invariant):
		// Programming fault, not user error. Surface loudly.
		log.Printf("[http] INVARIANT VIOLATION: %v", invariant)
		respondError(w, http.StatusInternalServerError, invariant.Error())
	case errors.Is(err, errs.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
