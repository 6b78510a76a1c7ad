package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/audit"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/auth"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/billing"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/contracts"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/controlplane"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/emergency"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/problem"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/split"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/store"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	if _, err := s.svc.KillSwitch().State(r.Context()); err != nil {
		s.logger.ErrorContext(r.Context(), "kill switch state unavailable", "error", err)
		problem.Write(w, r, http.StatusServiceUnavailable, "Service Unavailable", "kill switch state store unreachable")
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Statistics(r.Context())
	if err != nil {
		problem.Internal(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, st)
}

func (s *Server) verifyAudit(w http.ResponseWriter, r *http.Request) {
	as := s.svc.Log().Store()
	err := s.svc.Log().Sync(r.Context())
	if err == nil {
		err = as.VerifyChain()
	}
	if err != nil {
		if errors.Is(err, store.ErrChainBroken) {
			problem.Conflict(w, r, err.Error())
			return
		}
		problem.Internal(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"valid":      true,
		"sequence":   as.GetSequence(),
		"chain_head": as.GetChainHead(),
	})
}

func (s *Server) failsafeEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events, err := s.svc.Log().FailsafeEvents(audit.FailsafeFilter{
		Kind:            contracts.ErrorCode(strings.ToUpper(q.Get("kind"))),
		Severity:        contracts.Severity(strings.ToUpper(q.Get("severity"))),
		PartyID:         q.Get("party_id"),
		QuarantinedOnly: q.Get("quarantined") == "true",
	})
	if err != nil {
		problem.Internal(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) killSwitchState(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.KillSwitch().State(r.Context())
	if err != nil {
		problem.Internal(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, st)
}

func (s *Server) checkRevenue(w http.ResponseWriter, r *http.Request) {
	var evt contracts.RevenueEvent
	if !decode(w, r, &evt) {
		return
	}
	res, err := s.svc.ScreenRevenue(r.Context(), evt)
	if err != nil {
		problem.Internal(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
}

type multiplierRequest struct {
	Multiplier float64 `json:"multiplier"`
	Region     string  `json:"region"`
}

func (s *Server) checkMultiplier(w http.ResponseWriter, r *http.Request) {
	var req multiplierRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.Revenue().ValidatePurchasingPowerMultiplier(r.Context(), req.Multiplier, req.Region)
	if err != nil {
		problem.Internal(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) checkSplit(w http.ResponseWriter, r *http.Request) {
	var sp split.Split
	if !decode(w, r, &sp) {
		return
	}
	res, err := s.svc.CheckSplit(r.Context(), sp)
	if err != nil {
		problem.Internal(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) checkFloor(w http.ResponseWriter, r *http.Request) {
	var b contracts.CommissionBreakdown
	if !decode(w, r, &b) {
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.svc.CheckFloor(b))
}

func (s *Server) finalizeBreakdown(w http.ResponseWriter, r *http.Request) {
	var in controlplane.Settlement
	if !decode(w, r, &in) {
		return
	}
	d, err := s.svc.FinalizeBreakdown(r.Context(), in)
	if err != nil {
		problem.Internal(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, d)
}

type chargeRequest struct {
	SubjectID string `json:"subject_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

func (s *Server) checkCharge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SubjectID == "" {
		problem.BadRequest(w, r, "subject_id is required")
		return
	}
	res, err := s.svc.ScreenCharge(r.Context(), req.SubjectID, req.Amount, req.Reason)
	if err != nil {
		problem.Internal(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) checkPayout(w http.ResponseWriter, r *http.Request) {
	var t billing.Transfer
	if !decode(w, r, &t) {
		return
	}
	res, err := s.svc.ScreenPayout(r.Context(), t)
	if err != nil {
		problem.Internal(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
}

type commissionRequest struct {
	Total int64 `json:"total"`
}

func (s *Server) applyCommission(w http.ResponseWriter, r *http.Request) {
	var req commissionRequest
	if !decode(w, r, &req) {
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.svc.Overrides().ApplyOperatorCommission(req.Total))
}

// operatorID is the authenticated subject. Operator endpoints never take an
// operator ID from the request body.
func operatorID(r *http.Request) string {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		return ""
	}
	return p.GetID()
}

// writeResult maps an emergency Result onto HTTP: refused authority is 403,
// any other refusal 422.
func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, res emergency.Result, err error) {
	switch {
	case err != nil:
		problem.Internal(w, r, err)
	case res.Unauthorized():
		problem.Forbidden(w, r, res.Message)
	case !res.Success:
		problem.Write(w, r, http.StatusUnprocessableEntity, "Unprocessable Entity", res.Message)
	default:
		s.writeJSON(w, r, http.StatusOK, res)
	}
}

type activateRequest struct {
	Reason     string                   `json:"reason"`
	Components []contracts.ComponentTag `json:"components,omitempty"`
}

func (s *Server) activateKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		problem.BadRequest(w, r, "reason is required")
		return
	}
	res, err := s.svc.KillSwitch().Activate(r.Context(), operatorID(r), req.Reason, req.Components...)
	s.writeResult(w, r, res, err)
}

func (s *Server) deactivateKillSwitch(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.KillSwitch().Deactivate(r.Context(), operatorID(r))
	s.writeResult(w, r, res, err)
}

type allowRequest struct {
	PartyID string `json:"party_id"`
}

func (s *Server) allowParty(w http.ResponseWriter, r *http.Request) {
	var req allowRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.KillSwitch().AddAllowedParty(r.Context(), operatorID(r), req.PartyID)
	s.writeResult(w, r, res, err)
}

//nolint:govet // fieldalignment: struct layout is human-readable
type splitOverrideRequest struct {
	TransactionID   string             `json:"transaction_id"`
	Original        map[string]float64 `json:"original"`
	New             map[string]float64 `json:"new"`
	Reason          string             `json:"reason"`
	AffectedPartyID string             `json:"affected_party_id,omitempty"`
}

func (s *Server) overrideSplit(w http.ResponseWriter, r *http.Request) {
	var req splitOverrideRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TransactionID == "" || len(req.New) == 0 {
		problem.BadRequest(w, r, "transaction_id and new are required")
		return
	}
	res, err := s.svc.Overrides().OverrideSplit(r.Context(), operatorID(r), req.TransactionID,
		req.Original, req.New, req.Reason, req.AffectedPartyID)
	s.writeResult(w, r, res, err)
}

type payoutAdjustmentRequest struct {
	PartyID  string `json:"party_id"`
	Original int64  `json:"original"`
	New      int64  `json:"new"`
	Reason   string `json:"reason"`
}

func (s *Server) adjustPayout(w http.ResponseWriter, r *http.Request) {
	var req payoutAdjustmentRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PartyID == "" {
		problem.BadRequest(w, r, "party_id is required")
		return
	}
	res, err := s.svc.Overrides().AdjustPayout(r.Context(), operatorID(r), req.PartyID, req.Original, req.New, req.Reason)
	s.writeResult(w, r, res, err)
}

type rateRequest struct {
	Rate *float64 `json:"rate"`
}

func (s *Server) setCommissionRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Rate == nil {
		problem.BadRequest(w, r, "rate is required")
		return
	}
	res, err := s.svc.Overrides().SetOperatorCommissionRate(r.Context(), operatorID(r), *req.Rate)
	s.writeResult(w, r, res, err)
}
