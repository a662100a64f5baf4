package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.vocdoni.io/dvote/log"

	"github.com/veilpay/veilpay-go/engine"
	"github.com/veilpay/veilpay-go/ledger"
)

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host   string
	Port   int
	Engine *engine.Engine
}

// API exposes the engine flows over HTTP.
type API struct {
	router *chi.Mux
	engine *engine.Engine
}

// New creates a new API instance with the given configuration and starts
// the HTTP server.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Engine == nil {
		return nil, fmt.Errorf("missing engine instance")
	}
	a := &API{
		engine: conf.Engine,
	}
	a.initRouter()
	go func() {
		log.Infow("starting API server", "host", conf.Host, "port", conf.Port)
		if err := http.ListenAndServe(fmt.Sprintf("%s:%d", conf.Host, conf.Port), a.router); err != nil {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// registerHandlers registers all the API handlers.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	log.Infow("register handler", "endpoint", DepositsEndpoint, "method", "POST")
	a.router.Post(DepositsEndpoint, a.deposit)
	log.Infow("register handler", "endpoint", WithdrawalsEndpoint, "method", "POST")
	a.router.Post(WithdrawalsEndpoint, a.withdraw)
	log.Infow("register handler", "endpoint", TransfersEndpoint, "method", "POST")
	a.router.Post(TransfersEndpoint, a.transfer)
	log.Infow("register handler", "endpoint", ExternalTransfersEndpoint, "method", "POST")
	a.router.Post(ExternalTransfersEndpoint, a.externalTransfer)
	log.Infow("register handler", "endpoint", BalanceEndpoint, "method", "GET")
	a.router.Get(BalanceEndpoint, a.balance)
	log.Infow("register handler", "endpoint", AuthorizationsEndpoint, "method", "POST")
	a.router.Post(AuthorizationsEndpoint, a.createAuthorization)
	log.Infow("register handler", "endpoint", AuthorizationEndpoint, "method", "GET")
	a.router.Get(AuthorizationEndpoint, a.authorization)
	log.Infow("register handler", "endpoint", AuthorizationSettleEndpoint, "method", "POST")
	a.router.Post(AuthorizationSettleEndpoint, a.settleAuthorization)
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}).Handler)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.Timeout(10 * time.Minute)) // proofs take a while

	a.registerHandlers()
}

// flowError translates an engine failure into an API error.
func flowError(err error) Error {
	switch engine.KindOf(err) {
	case engine.InsufficientFunds:
		return ErrInsufficientFunds.WithErr(err)
	case engine.MalformedNote:
		return ErrMalformedBody.WithErr(err)
	case 0:
		return ErrGenericInternalServerError.WithErr(err)
	default:
		return ErrFlowFailed.WithErr(err)
	}
}

func flowResponse(res *engine.Result) *FlowResponse {
	out := &FlowResponse{
		Signature:   res.Signature,
		SpentLeaves: res.SpentLeaves,
	}
	for _, n := range res.NewNotes {
		out.NewLeaves = append(out.NewLeaves, n.LeafIndex)
	}
	return out
}

func parseAsset(s string) (ledger.Address, error) {
	return ledger.ParseAddress(s)
}

func recipientKey(tagHash, pubX, pubY *big.Int) (*engine.RecipientKey, error) {
	if tagHash == nil || pubX == nil || pubY == nil {
		return nil, errors.New("missing recipient key fields")
	}
	return &engine.RecipientKey{TagHash: tagHash, PubX: pubX, PubY: pubY}, nil
}

func (a *API) deposit(w http.ResponseWriter, r *http.Request) {
	req := &DepositRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	mint, err := parseAsset(req.Asset)
	if err != nil {
		ErrMalformedAsset.WithErr(err).Write(w)
		return
	}
	if req.Amount == 0 {
		ErrMalformedAmount.Write(w)
		return
	}
	res, err := a.engine.Deposit(r.Context(), mint, req.Amount)
	if err != nil {
		flowError(err).Write(w)
		return
	}
	httpWriteJSON(w, flowResponse(res))
}

func (a *API) withdraw(w http.ResponseWriter, r *http.Request) {
	a.unshield(w, r, false)
}

func (a *API) externalTransfer(w http.ResponseWriter, r *http.Request) {
	a.unshield(w, r, true)
}

func (a *API) unshield(w http.ResponseWriter, r *http.Request, external bool) {
	req := &WithdrawRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	mint, err := parseAsset(req.Asset)
	if err != nil {
		ErrMalformedAsset.WithErr(err).Write(w)
		return
	}
	recipientATA, err := ledger.ParseAddress(req.RecipientATA)
	if err != nil {
		ErrMalformedRecipient.WithErr(err).Write(w)
		return
	}
	var feeATA ledger.Address
	if req.RelayerFeeATA != "" {
		if feeATA, err = ledger.ParseAddress(req.RelayerFeeATA); err != nil {
			ErrMalformedRecipient.WithErr(err).Write(w)
			return
		}
	}
	var res *engine.Result
	if external {
		res, err = a.engine.ExternalTransfer(r.Context(), mint, req.Amount, recipientATA, feeATA)
	} else {
		res, err = a.engine.Withdraw(r.Context(), mint, req.Amount, recipientATA, feeATA)
	}
	if err != nil {
		flowError(err).Write(w)
		return
	}
	httpWriteJSON(w, flowResponse(res))
}

func (a *API) transfer(w http.ResponseWriter, r *http.Request) {
	req := &TransferRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	mint, err := parseAsset(req.Asset)
	if err != nil {
		ErrMalformedAsset.WithErr(err).Write(w)
		return
	}
	recipient, err := recipientKey(req.TagHash.MathBigInt(), req.PubKeyX.MathBigInt(), req.PubKeyY.MathBigInt())
	if err != nil {
		ErrMalformedRecipient.WithErr(err).Write(w)
		return
	}
	res, err := a.engine.InternalTransfer(r.Context(), mint, req.Amount, recipient)
	if err != nil {
		flowError(err).Write(w)
		return
	}
	httpWriteJSON(w, flowResponse(res))
}

func (a *API) balance(w http.ResponseWriter, r *http.Request) {
	mint, err := parseAsset(chi.URLParam(r, AssetURLParam))
	if err != nil {
		ErrMalformedAsset.WithErr(err).Write(w)
		return
	}
	balance, err := a.engine.Balance(r.Context(), mint)
	if err != nil {
		flowError(err).Write(w)
		return
	}
	httpWriteJSON(w, &BalanceResponse{Asset: mint.String(), Balance: balance})
}

func (a *API) createAuthorization(w http.ResponseWriter, r *http.Request) {
	req := &AuthorizationRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	mint, err := parseAsset(req.Asset)
	if err != nil {
		ErrMalformedAsset.WithErr(err).Write(w)
		return
	}
	payee, err := recipientKey(req.TagHash.MathBigInt(), req.PubKeyX.MathBigInt(), req.PubKeyY.MathBigInt())
	if err != nil {
		ErrMalformedRecipient.WithErr(err).Write(w)
		return
	}
	auth, err := a.engine.CreateAuthorization(r.Context(), mint, payee, req.Amount)
	if err != nil {
		flowError(err).Write(w)
		return
	}
	httpWriteJSON(w, authorizationResponse(auth))
}

func (a *API) authorization(w http.ResponseWriter, r *http.Request) {
	hash, ok := new(big.Int).SetString(chi.URLParam(r, IntentURLParam), 10)
	if !ok {
		ErrMalformedBody.With("intent hash must be a decimal string").Write(w)
		return
	}
	auth, err := a.engine.Authorization(hash)
	if err != nil {
		if errors.Is(err, engine.ErrAuthorizationNotFound) {
			ErrIntentNotFound.Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, authorizationResponse(auth))
}

func (a *API) settleAuthorization(w http.ResponseWriter, r *http.Request) {
	hash, ok := new(big.Int).SetString(chi.URLParam(r, IntentURLParam), 10)
	if !ok {
		ErrMalformedBody.With("intent hash must be a decimal string").Write(w)
		return
	}
	req := &SettleRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	payee, err := recipientKey(req.TagHash.MathBigInt(), req.PubKeyX.MathBigInt(), req.PubKeyY.MathBigInt())
	if err != nil {
		ErrMalformedRecipient.WithErr(err).Write(w)
		return
	}
	res, err := a.engine.SettleAuthorization(r.Context(), hash, payee)
	if err != nil {
		if errors.Is(err, engine.ErrAuthorizationNotFound) {
			ErrIntentNotFound.Write(w)
			return
		}
		flowError(err).Write(w)
		return
	}
	httpWriteJSON(w, flowResponse(res))
}

func authorizationResponse(auth *engine.Authorization) *AuthorizationResponse {
	return &AuthorizationResponse{
		IntentHash:       auth.IntentHash,
		Asset:            auth.Asset,
		PayeeTagHash:     auth.PayeeTagHash,
		AmountCiphertext: auth.AmountCiphertext,
		ExpirySlot:       auth.ExpirySlot,
		CircuitID:        auth.CircuitID,
		Settled:          auth.Settled,
	}
}
