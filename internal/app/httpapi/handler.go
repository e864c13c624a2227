// Package httpapi exposes the relayer over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	app "github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/domain/relay"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/services/relayer"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/app/storage"
	svcerrors "github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/errors"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/httputil"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/logging"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/middleware"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/pkg/intent"
)

// Options configures the router.
type Options struct {
	// WatcherToken protects GET /api/relay/watcher when set.
	WatcherToken string
	// ReadRPS and ReadBurst throttle read endpoints per client IP; 0 disables.
	ReadRPS   int
	ReadBurst int
	// ReadThrottle overrides the limiter built from ReadRPS.
	ReadThrottle   *middleware.RateLimiter
	AllowedOrigins []string
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logging.Logger
}

// NewHandler returns the router exposing the relay API.
func NewHandler(application *app.Application, opts Options, log *logging.Logger) http.Handler {
	if log == nil {
		log = logging.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := mux.NewRouter()
	r.Use(
		middleware.RecoveryMiddleware(log),
		middleware.LoggingMiddleware(log),
		middleware.MetricsMiddleware(application.Metrics),
		middleware.NewCORSMiddleware(opts.AllowedOrigins).Handler,
	)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, r, svcerrors.NotFound("route", r.URL.Path))
	})

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", application.Metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/relay/execute", h.execute).Methods(http.MethodPost, http.MethodOptions)
	api.Handle("/relay/watcher", middleware.RequireBearer(opts.WatcherToken, log)(http.HandlerFunc(h.watcher))).
		Methods(http.MethodGet, http.MethodPost)

	reads := api.NewRoute().Subrouter()
	throttle := opts.ReadThrottle
	if throttle == nil && opts.ReadRPS > 0 {
		throttle = middleware.NewRateLimiter(opts.ReadRPS, opts.ReadBurst, log).WithMetrics(application.Metrics)
	}
	if throttle != nil {
		reads.Use(throttle.Handler)
	}
	reads.HandleFunc("/nonce", h.nonce).Methods(http.MethodGet)
	reads.HandleFunc("/transactions/{id}", h.transaction).Methods(http.MethodGet)
	reads.HandleFunc("/proposals/{proposalId}/transactions", h.proposalTransactions).Methods(http.MethodGet)

	return r
}

// =============================================================================
// Relay
// =============================================================================

// executePayload accepts nonce and deadline as JSON numbers or numeric strings.
type executePayload struct {
	Executor   string          `json:"executor"`
	ProposalID string          `json:"proposalId"`
	Nonce      json.RawMessage `json:"nonce"`
	Deadline   json.RawMessage `json:"deadline"`
	Signature  string          `json:"signature"`
}

func (h *handler) execute(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	rel, err := h.app.RelayerService()
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	// the limiter runs before validation so malformed requests still spend
	// the caller's IP quota
	var payload executePayload
	decodeErr := httputil.DecodeJSON(r, &payload)

	decision, err := h.app.Limiter.Check(r.Context(), strings.TrimSpace(payload.Executor), middleware.ClientIP(r))
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Error("rate limit check failed")
		httputil.WriteError(w, r, svcerrors.Transient("rate limit check", err))
		return
	}
	if !decision.Allowed {
		httputil.WriteError(w, r, svcerrors.RateLimitExceeded(decision.Reason).WithDetails("scope", decision.Scope))
		return
	}
	if decodeErr != nil {
		httputil.WriteError(w, r, decodeErr)
		return
	}
	req, err := payload.toRequest()
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	res, err := rel.Execute(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (p executePayload) toRequest() (relayer.Request, error) {
	var missing []string
	if strings.TrimSpace(p.Executor) == "" {
		missing = append(missing, "executor")
	}
	if strings.TrimSpace(p.ProposalID) == "" {
		missing = append(missing, "proposalId")
	}
	nonce, okNonce, err := parseUint(p.Nonce)
	if err != nil {
		return relayer.Request{}, svcerrors.InvalidParameter("nonce", err.Error())
	}
	if !okNonce {
		missing = append(missing, "nonce")
	}
	deadline, okDeadline, err := parseUint(p.Deadline)
	if err != nil {
		return relayer.Request{}, svcerrors.InvalidParameter("deadline", err.Error())
	}
	if !okDeadline {
		missing = append(missing, "deadline")
	}
	if strings.TrimSpace(p.Signature) == "" {
		missing = append(missing, "signature")
	}
	if len(missing) > 0 {
		return relayer.Request{}, svcerrors.MissingParameters(missing...)
	}
	if deadline > uint64(1<<63-1) {
		return relayer.Request{}, svcerrors.InvalidParameter("deadline", "out of range")
	}
	return relayer.Request{
		Executor:   p.Executor,
		ProposalID: p.ProposalID,
		Nonce:      nonce,
		Deadline:   int64(deadline),
		Signature:  p.Signature,
	}, nil
}

// parseUint reads a JSON number or numeric string. It reports false when the
// field is absent or null.
func parseUint(raw json.RawMessage) (uint64, bool, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false, nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false, nil
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false, errors.New("must be a non-negative integer")
	}
	return n, true, nil
}

func (h *handler) watcher(w http.ResponseWriter, r *http.Request) {
	watcher, err := h.app.WatcherService()
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	summary, err := watcher.Run(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// =============================================================================
// Reads
// =============================================================================

func (h *handler) nonce(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		httputil.WriteError(w, r, svcerrors.MissingParameters("address"))
		return
	}
	if !common.IsHexAddress(address) {
		httputil.WriteError(w, r, svcerrors.InvalidParameter("address", "not a hex address"))
		return
	}
	executor := common.HexToAddress(address)
	n, err := h.app.Nonces.Peek(r.Context(), executor)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"address": executor.Hex(),
		"nonce":   n,
	})
}

func (h *handler) transaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	tx, err := h.app.Store.GetTransaction(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, storeError("transaction", id, err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tx)
}

type proposalTransactions struct {
	ProposalID   string               `json:"proposalId"`
	Status       relay.ProposalStatus `json:"status"`
	Transactions []relay.Transaction  `json:"transactions"`
}

func (h *handler) proposalTransactions(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["proposalId"]
	pid, err := intent.ParseProposalID(raw)
	if err != nil {
		httputil.WriteError(w, r, svcerrors.InvalidParameter("proposalId", err.Error()))
		return
	}
	id := pid.Hex()

	proposal, err := h.app.Store.GetProposal(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, storeError("proposal", id, err))
		return
	}
	txs, err := h.app.Store.ListTransactionsByProposal(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, storeError("proposal", id, err))
		return
	}
	if txs == nil {
		txs = []relay.Transaction{}
	}
	httputil.WriteJSON(w, http.StatusOK, proposalTransactions{
		ProposalID:   id,
		Status:       proposal.Status,
		Transactions: txs,
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	}
	rel, err := h.app.RelayerService()
	switch {
	case err != nil:
		body["status"] = "degraded"
		body["relayer"] = map[string]any{"error": err.Error()}
	default:
		health, herr := rel.Health(r.Context())
		if herr != nil {
			body["status"] = "degraded"
			body["relayer"] = map[string]any{"error": herr.Error()}
		} else {
			if !health.Funded {
				body["status"] = "degraded"
			}
			body["relayer"] = health
		}
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

func storeError(resource, id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return svcerrors.NotFound(resource, id)
	}
	return svcerrors.Persistence("load "+resource, err)
}
