package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hq-analytics/hqbridge/pkg/async"
	"github.com/hq-analytics/hqbridge/pkg/httputil"
	"github.com/hq-analytics/hqbridge/pkg/observability"
)

// MaxChangeBodyBytes is the largest change envelope we accept
const MaxChangeBodyBytes = 10 << 20

// TokenExpirySeconds is the expires_in value reported to HQ
const TokenExpirySeconds = 86400

// Handler serves the change webhook and the token endpoint HQ calls
type Handler struct {
	clients   *ClientStore
	tokens    *TokenStore
	processor *Processor
	queue     *async.TaskQueue
	metrics   *observability.Metrics
}

// NewHandler creates a webhook handler. Accepted changes are applied on the
// given queue, off the request goroutine.
func NewHandler(clients *ClientStore, tokens *TokenStore, processor *Processor, queue *async.TaskQueue, metrics *observability.Metrics) *Handler {
	return &Handler{
		clients:   clients,
		tokens:    tokens,
		processor: processor,
		queue:     queue,
		metrics:   metrics,
	}
}

// RegisterRoutes attaches the webhook endpoints to a router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/hq_webhook/change/", h.HandleChange).Methods(http.MethodPost)
	r.HandleFunc("/oauth/token", h.HandleToken).Methods(http.MethodPost)
}

// HandleChange accepts a dataset change envelope. The declared body size is
// checked before any parsing happens; the bearer token's scope decides
// which tenant the change lands in.
func (h *Handler) HandleChange(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())

	bearer := httputil.BearerToken(r)
	domain, err := h.tokens.Validate(r.Context(), bearer)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			httputil.WriteUnauthorized(w, "Invalid client")
			return
		}
		log.WithError(err).Error("token validation failed")
		httputil.WriteInternalError(w)
		return
	}

	if r.ContentLength > MaxChangeBodyBytes {
		httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "Entity is too large")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxChangeBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "Entity is too large")
			return
		}
		httputil.WriteValidationError(w, "Could not read request body")
		return
	}

	var change DataSetChange
	if err := json.Unmarshal(body, &change); err != nil {
		httputil.WriteValidationError(w, "Invalid JSON syntax")
		return
	}
	if err := change.Validate(); err != nil {
		httputil.WriteValidationError(w, "Could not parse change request")
		return
	}

	if _, err := h.queue.Submit(func(ctx context.Context) error {
		return h.processor.Apply(ctx, domain, change)
	}); err != nil {
		log.WithError(err).Error("failed to queue dataset change")
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "Try again later")
		return
	}

	httputil.WriteAccepted(w, "Dataset change accepted")
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// HandleToken implements the client-credentials grant for per-domain
// webhook clients. Issuing revokes the client's previous tokens.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())

	if err := r.ParseForm(); err != nil {
		httputil.WriteValidationError(w, "invalid_request")
		return
	}

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID = r.PostFormValue("client_id")
		clientSecret = r.PostFormValue("client_secret")
	}

	if grant := r.PostFormValue("grant_type"); grant != "client_credentials" {
		httputil.WriteValidationError(w, "unsupported_grant_type")
		return
	}

	client, err := h.clients.GetByClientID(r.Context(), clientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			httputil.WriteUnauthorized(w, "Invalid client")
			return
		}
		log.WithError(err).Error("client lookup failed")
		httputil.WriteInternalError(w)
		return
	}
	if !h.clients.VerifySecret(client, clientSecret) {
		httputil.WriteUnauthorized(w, "Invalid client")
		return
	}

	// a requested scope must match the client's own domain
	if scope := r.PostFormValue("scope"); scope != "" && scope != client.Domain {
		httputil.WriteValidationError(w, "invalid_scope")
		return
	}

	tok, err := h.tokens.Issue(r.Context(), client.ClientID, client.Domain)
	if err != nil {
		log.WithError(err).Error("token issue failed")
		httputil.WriteInternalError(w)
		return
	}
	if h.metrics != nil {
		h.metrics.TokensIssuedTotal.Inc()
	}

	httputil.WriteSuccess(w, tokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   TokenExpirySeconds,
		Scope:       tok.Scope,
	})
}
