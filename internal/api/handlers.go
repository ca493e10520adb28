/**
 * @description
 * This file contains the HTTP handlers for the certification service. Handlers
 * parse and validate requests, resolve the community reference, call the
 * application service and write the JSON response.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - internal/app: Certification engine, rankings and the penalty sweeper.
 * - internal/ratelimit: Certify throttling per community member.
 */

package api

import (
	"fmt"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/app"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/calendar"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/domain"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/ratelimit"
	"go.uber.org/zap"
)

// Handlers holds the application services used by the HTTP layer.
type Handlers struct {
	service *app.Service
	sweeper *app.Sweeper
	clock   calendar.Clock
	limiter ratelimit.Limiter
	logger  *zap.Logger
}

// NewHandlers creates the handler set. Certify requests are not throttled
// until SetCertifyRateLimiter is called.
func NewHandlers(service *app.Service, sweeper *app.Sweeper, clock calendar.Clock, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		service: service,
		sweeper: sweeper,
		clock:   clock,
		limiter: ratelimit.Noop{},
		logger:  logger.Named("api"),
	}
}

// SetCertifyRateLimiter enables throttling of certify calls per account and
// community.
func (h *Handlers) SetCertifyRateLimiter(limiter ratelimit.Limiter) {
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	h.limiter = limiter
}

type createCommunityRequest struct {
	Slug              string   `json:"slug" validate:"required,max=64,slug"`
	Name              string   `json:"name" validate:"required,max=100"`
	Description       string   `json:"description" validate:"max=2000"`
	ScheduledWeekdays []string `json:"scheduled_weekdays" validate:"max=7"`
	CutoffTime        string   `json:"cutoff_time" validate:"required"`
	IconURL           *string  `json:"icon_url" validate:"omitempty,url"`
}

type updateScheduleRequest struct {
	ScheduledWeekdays []string `json:"scheduled_weekdays" validate:"max=7"`
	CutoffTime        string   `json:"cutoff_time" validate:"required"`
}

type joinCommunityRequest struct {
	Nickname    string `json:"nickname" validate:"required,max=50"`
	Description string `json:"description" validate:"max=500"`
}

type certifyRequest struct {
	MediaRef  string   `json:"media_ref" validate:"required,max=2048"`
	Latitude  *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
}

type sweepRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type certifiedTodayResponse struct {
	Certified  bool               `json:"certified"`
	Submission *domain.Submission `json:"submission,omitempty"`
}

type rankingsResponse struct {
	CommunityID uuid.UUID             `json:"community_id"`
	Rankings    []domain.RankedMember `json:"rankings"`
}

type sweepResponse struct {
	app.SweepSummary
	FailedCommunities map[string]string `json:"failed_communities,omitempty"`
}

// ProvisionAccount makes sure the authenticated caller has an account row,
// creating it with the starting score on the first request.
func (h *Handlers) ProvisionAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := GetAccountID(r.Context())
		if !ok {
			respondWithError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
			return
		}
		if _, err := h.service.EnsureAccount(r.Context(), accountID, GetDisplayName(r.Context())); err != nil {
			respondWithServiceError(w, h.logger, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MeHandler returns the caller's account, including the current score.
func (h *Handlers) MeHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}
	account, err := h.service.GetAccount(r.Context(), accountID)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, account)
}

// CreateCommunityHandler opens a new community.
func (h *Handlers) CreateCommunityHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}

	var req createCommunityRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	community, err := h.service.CreateCommunity(r.Context(), domain.CreateCommunityRequest{
		Slug:              req.Slug,
		Name:              req.Name,
		Description:       req.Description,
		ScheduledWeekdays: req.ScheduledWeekdays,
		CutoffTime:        req.CutoffTime,
		IconURL:           req.IconURL,
	})
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	h.logger.Debug("community created by account", zap.Stringer("account_id", accountID), zap.Stringer("community_id", community.ID))
	respondWithJSON(w, http.StatusCreated, community)
}

// JoinCommunityHandler adds the caller to the community.
func (h *Handlers) JoinCommunityHandler(w http.ResponseWriter, r *http.Request) {
	accountID, community, ok := h.resolveRequest(w, r)
	if !ok {
		return
	}

	var req joinCommunityRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	membership, err := h.service.JoinCommunity(r.Context(), domain.JoinCommunityRequest{
		AccountID:   accountID,
		CommunityID: community.ID,
		Nickname:    req.Nickname,
		Description: req.Description,
	})
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, membership)
}

// UpdateScheduleHandler replaces the community's weekdays and cutoff.
func (h *Handlers) UpdateScheduleHandler(w http.ResponseWriter, r *http.Request) {
	accountID, community, ok := h.resolveRequest(w, r)
	if !ok {
		return
	}

	var req updateScheduleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	updated, err := h.service.UpdateSchedule(r.Context(), accountID, community.ID, req.ScheduledWeekdays, req.CutoffTime)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

// CertifyHandler records today's certification for the caller.
func (h *Handlers) CertifyHandler(w http.ResponseWriter, r *http.Request) {
	accountID, community, ok := h.resolveRequest(w, r)
	if !ok {
		return
	}
	if !h.allowCertify(w, r, ratelimit.CertifyKey{AccountID: accountID, CommunityID: community.ID}) {
		return
	}

	var req certifyRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	submission, err := h.service.Certify(r.Context(), domain.CertifyRequest{
		AccountID:   accountID,
		CommunityID: community.ID,
		MediaRef:    req.MediaRef,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	})
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, submission)
}

// CertifiedTodayHandler reports whether the caller has certified today.
func (h *Handlers) CertifiedTodayHandler(w http.ResponseWriter, r *http.Request) {
	accountID, community, ok := h.resolveRequest(w, r)
	if !ok {
		return
	}

	submission, err := h.service.IsCertifiedToday(r.Context(), accountID, community.ID)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, certifiedTodayResponse{Certified: submission != nil, Submission: submission})
}

// WithdrawHandler deletes one of the caller's submissions.
func (h *Handlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}
	submissionID, err := uuid.Parse(chi.URLParam(r, "submissionID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "invalid submission id")
		return
	}

	if err := h.service.Withdraw(r.Context(), accountID, submissionID); err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RankingsHandler returns the community leaderboard.
func (h *Handlers) RankingsHandler(w http.ResponseWriter, r *http.Request) {
	_, community, ok := h.resolveRequest(w, r)
	if !ok {
		return
	}

	ranked, err := h.service.Rankings(r.Context(), community.ID)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rankingsResponse{CommunityID: community.ID, Rankings: ranked})
}

// HallOfShameHandler lists members who missed the most recent scheduled day.
func (h *Handlers) HallOfShameHandler(w http.ResponseWriter, r *http.Request) {
	_, community, ok := h.resolveRequest(w, r)
	if !ok {
		return
	}

	board, err := h.service.HallOfShame(r.Context(), community.ID)
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, board)
}

// RunSweepHandler runs the penalty sweep for a given date, or for the day
// before now when no date is supplied.
func (h *Handlers) RunSweepHandler(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var (
		summary app.SweepSummary
		err     error
	)
	if req.Date == "" {
		summary, err = h.sweeper.Run(r.Context(), h.clock.Now())
	} else {
		var target civil.Date
		target, err = civil.ParseDate(req.Date)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid date %q", req.Date))
			return
		}
		summary, err = h.sweeper.SweepFor(r.Context(), target)
	}
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return
	}

	resp := sweepResponse{SweepSummary: summary}
	if len(summary.Errors) > 0 {
		resp.FailedCommunities = make(map[string]string, len(summary.Errors))
		for id, sweepErr := range summary.Errors {
			resp.FailedCommunities[id.String()] = sweepErr.Error()
		}
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// resolveRequest pulls the authenticated account and resolves the
// {communityRef} path parameter. It writes the error response itself.
func (h *Handlers) resolveRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, *domain.Community, bool) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return uuid.Nil, nil, false
	}
	community, err := h.service.ResolveCommunity(r.Context(), chi.URLParam(r, "communityRef"))
	if err != nil {
		respondWithServiceError(w, h.logger, err)
		return uuid.Nil, nil, false
	}
	return accountID, community, true
}

func (h *Handlers) allowCertify(w http.ResponseWriter, r *http.Request, key ratelimit.CertifyKey) bool {
	decision, err := h.limiter.AllowCertify(r.Context(), key)
	if err != nil {
		// Fail open: a limiter outage must not block certifications.
		h.logger.Warn("certify rate limiter unavailable", zap.Error(err))
		return true
	}
	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds()))
		respondWithError(w, http.StatusTooManyRequests, "rate_limited", "too many certification attempts")
		return false
	}
	return true
}
