package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/query"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/syncer"
)

const maxBodyBytes = 1 << 16

type route struct {
	name   string
	method string
	path   string
	fn     runtime.HandlerFunc
}

type handlers struct {
	deps Deps
}

func (h *handlers) routes() []route {
	return []route{
		{"balance", http.MethodGet, "/v1/balance", h.getBalance},
		{"daily_gains", http.MethodGet, "/v1/daily-gains", h.getDailyGains},
		{"session", http.MethodPost, "/v1/session", h.postSession},
		{"sync", http.MethodPost, "/v1/sync", h.postSync},
		{"withdraw", http.MethodPost, "/v1/withdraw", h.postWithdraw},
		{"admin_correct", http.MethodPost, "/v1/admin/correct", h.postCorrect},
		{"history", http.MethodGet, "/v1/history", h.getHistory},
		{"history_daily", http.MethodGet, "/v1/history/daily", h.getDailyTotals},
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *handlers) instrument(name string, fn runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r, params)
		h.deps.Metrics.QueryObserved(name, rec.status, time.Since(start).Seconds())
	}
}

func (h *handlers) getBalance(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, query.BalanceFromState(h.deps.Ledger.Snapshot()))
}

type dailyGainsResponse struct {
	DailyGains decimal.Decimal `json:"daily_gains"`
	DailyCap   decimal.Decimal `json:"daily_cap"`
	Remaining  decimal.Decimal `json:"remaining"`
	WindowDate string          `json:"window_date"`
}

func (h *handlers) getDailyGains(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	// DailyGains runs the rollover check before the snapshot is taken.
	gains := h.deps.Ledger.DailyGains()
	s := h.deps.Ledger.Snapshot()
	writeJSON(w, http.StatusOK, dailyGainsResponse{
		DailyGains: gains,
		DailyCap:   s.DailyCap,
		Remaining:  s.Remaining(),
		WindowDate: s.WindowDate.String(),
	})
}

type sessionRequest struct {
	UserID string `json:"user_id"`
}

func (h *handlers) postSession(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, status.Errorf(codes.InvalidArgument, "invalid body: %v", err))
		return
	}

	if strings.TrimSpace(req.UserID) == "" {
		h.deps.Sessions.Logout()
	} else {
		h.deps.Sessions.Login(req.UserID)
	}
	writeJSON(w, http.StatusOK, query.BalanceFromState(h.deps.Ledger.Snapshot()))
}

type syncResponse struct {
	Outcome string          `json:"outcome"`
	Reason  string          `json:"reason,omitempty"`
	Local   decimal.Decimal `json:"local"`
	Remote  decimal.Decimal `json:"remote"`
	Balance decimal.Decimal `json:"balance"`
}

func (h *handlers) postSync(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	out := h.deps.Syncer.SyncNow(r.Context(), true)
	resp := syncResponse{
		Outcome: string(out.Kind),
		Reason:  string(out.Reason),
		Local:   out.Local,
		Remote:  out.Remote,
		Balance: h.deps.Ledger.Snapshot().Displayed(),
	}

	code := http.StatusOK
	switch out.Kind {
	case syncer.OutcomeSkipped:
		code = runtime.HTTPStatusFromCode(codes.FailedPrecondition)
	case syncer.OutcomeFailed:
		// The loop retries user-initiated syncs with backoff.
		h.deps.Syncer.RequestSync()
		code = runtime.HTTPStatusFromCode(codes.Unavailable)
	}
	writeJSON(w, code, resp)
}

type withdrawResponse struct {
	Acknowledged bool            `json:"acknowledged"`
	Retryable    bool            `json:"retryable,omitempty"`
	Balance      decimal.Decimal `json:"balance"`
	Error        string          `json:"error,omitempty"`
}

func (h *handlers) postWithdraw(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if err := h.deps.Ledger.Reset("withdrawal"); err != nil {
		writeError(w, ledgerStatus(err))
		return
	}

	balance := h.deps.Ledger.Snapshot().Displayed()
	if err := h.deps.Syncer.PushReset(r.Context()); err != nil {
		h.deps.Logger.Warn().Err(err).Msg("withdrawal not acknowledged by remote store")
		if errors.Is(err, syncer.ErrResetNotAcknowledged) {
			h.deps.Syncer.RequestSync()
		}
		writeJSON(w, runtime.HTTPStatusFromCode(codes.Unavailable), withdrawResponse{
			Retryable: true,
			Balance:   balance,
			Error:     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{Acknowledged: true, Balance: balance})
}

type correctRequest struct {
	Balance string `json:"balance"`
	Reason  string `json:"reason"`
}

func (h *handlers) postCorrect(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if err := h.authorizeAdmin(r); err != nil {
		writeError(w, err)
		return
	}

	var req correctRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, status.Errorf(codes.InvalidArgument, "invalid body: %v", err))
		return
	}
	value, err := ledger.ParseAmount(req.Balance)
	if err != nil {
		writeError(w, status.Errorf(codes.InvalidArgument, "invalid balance: %v", err))
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, status.Error(codes.InvalidArgument, "reason is required"))
		return
	}

	if err := h.deps.Ledger.Correct(value, "admin: "+req.Reason); err != nil {
		writeError(w, ledgerStatus(err))
		return
	}
	h.deps.Syncer.RequestSync()
	writeJSON(w, http.StatusOK, query.BalanceFromState(h.deps.Ledger.Snapshot()))
}

func (h *handlers) getHistory(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	userID, err := h.historyUser()
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			writeError(w, status.Errorf(codes.InvalidArgument, "invalid limit: %v", err))
			return
		}
	}
	var before *time.Time
	if v := q.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, status.Errorf(codes.InvalidArgument, "invalid before: %v", err))
			return
		}
		before = &t
	}

	page, err := h.deps.History.History(r.Context(), userID, limit, before)
	if err != nil {
		h.deps.Logger.Error().Err(err).Msg("history query failed")
		writeError(w, status.Error(codes.Internal, "history query failed"))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) getDailyTotals(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	userID, err := h.historyUser()
	if err != nil {
		writeError(w, err)
		return
	}

	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if days, err = strconv.Atoi(v); err != nil {
			writeError(w, status.Errorf(codes.InvalidArgument, "invalid days: %v", err))
			return
		}
	}

	totals, err := h.deps.History.DailyTotals(r.Context(), userID, days, h.deps.Location, h.deps.Now())
	if err != nil {
		h.deps.Logger.Error().Err(err).Msg("daily totals query failed")
		writeError(w, status.Error(codes.Internal, "daily totals query failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "days": totals})
}

func (h *handlers) historyUser() (string, error) {
	if h.deps.History == nil {
		return "", status.Error(codes.Unimplemented, "change journal is not configured")
	}
	userID := h.deps.Ledger.Snapshot().UserID
	if userID == "" {
		return "", status.Error(codes.FailedPrecondition, "no user bound")
	}
	return userID, nil
}

func (h *handlers) authorizeAdmin(r *http.Request) error {
	if h.deps.AdminToken == "" {
		return status.Error(codes.PermissionDenied, "admin routes are disabled")
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.deps.AdminToken)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid admin token")
	}
	return nil
}

// ledgerStatus maps the ledger error taxonomy onto gRPC codes.
func ledgerStatus(err error) error {
	kind, ok := ledger.KindOf(err)
	if !ok {
		return status.Error(codes.Internal, err.Error())
	}
	switch kind {
	case ledger.KindInvalidAmount:
		return status.Error(codes.InvalidArgument, err.Error())
	case ledger.KindUnbound:
		return status.Error(codes.FailedPrecondition, err.Error())
	case ledger.KindLimitReached:
		return status.Error(codes.ResourceExhausted, err.Error())
	case ledger.KindDuplicate:
		return status.Error(codes.AlreadyExists, err.Error())
	case ledger.KindStale:
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{
		Code:    st.Code().String(),
		Message: st.Message(),
	})
}
