package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db/metadb"
	"go.vocdoni.io/dvote/log"

	"github.com/veilpay/veilpay-go/crypto/noteenc"
	"github.com/veilpay/veilpay-go/engine"
	"github.com/veilpay/veilpay-go/identity"
	"github.com/veilpay/veilpay-go/ledger"
	"github.com/veilpay/veilpay-go/merkle"
	"github.com/veilpay/veilpay-go/prover"
	"github.com/veilpay/veilpay-go/types"
)

func init() {
	log.Init(log.LogLevelDebug, "stdout", nil)
}

var testMint = ledger.MustParseAddress("So11111111111111111111111111111111111111112")

// stubChain keeps just enough shared state for the engine flows to run
// end to end in-process.
type stubChain struct {
	signer *ledger.KeySigner
	leaves []*big.Int
	idList []*big.Int
	slot   uint64
}

func newStubChain(c *qt.C) *stubChain {
	signer, err := ledger.NewKeySignerFromSeed(bytes.Repeat([]byte{3}, ed25519.SeedSize))
	c.Assert(err, qt.IsNil)
	return &stubChain{signer: signer, slot: 500}
}

func (s *stubChain) Config(context.Context) (*ledger.Config, error) {
	return &ledger.Config{RelayerFeeBpsMax: 500}, nil
}

func (s *stubChain) ShieldedState(context.Context, ledger.Address) (*ledger.ShieldedState, error) {
	root, err := merkle.Root(s.leaves, types.CommitmentTreeDepth)
	if err != nil {
		return nil, err
	}
	state := &ledger.ShieldedState{Mint: testMint, CommitmentCount: uint64(len(s.leaves))}
	root.FillBytes(state.MerkleRoot[:])
	return state, nil
}

func (s *stubChain) NullifierSpent(context.Context, ledger.Address, uint32, uint16) (bool, error) {
	return false, nil
}

func (s *stubChain) SignTransaction(context.Context, []ledger.Instruction) ([]byte, error) {
	return []byte("tx"), nil
}

func (s *stubChain) SignAndSend(context.Context, []ledger.Instruction) (string, error) {
	return "chain-sig", nil
}

func (s *stubChain) Slot(context.Context) (uint64, error) { return s.slot, nil }

func (s *stubChain) Signer() *ledger.KeySigner { return s.signer }

func (s *stubChain) VerifierAccounts() (ledger.Address, ledger.Address) {
	return ledger.TokenProgramID, ledger.AssociatedTokenProgramID
}

func (s *stubChain) NullifierChunkExists(context.Context, []byte, uint32) (bool, error) {
	return true, nil
}

func (s *stubChain) InitializeNullifierChunk(context.Context, []byte, uint32) error {
	return nil
}

func (s *stubChain) IdentityRegistryState(context.Context) (*big.Int, uint64, error) {
	root, err := merkle.Root(s.idList, types.IdentityTreeDepth)
	if err != nil {
		return nil, 0, err
	}
	return root, uint64(len(s.idList)), nil
}

func (s *stubChain) RegisterIdentity(_ context.Context, commitment, _ *big.Int) error {
	s.idList = append(s.idList, new(big.Int).Set(commitment))
	return nil
}

// stubProver echoes the public signals of the circom input document.
type stubProver struct{}

func (stubProver) Prove(_ context.Context, inputs []byte) (*prover.Proof, error) {
	var doc struct {
		Root          string   `json:"root"`
		IdentityRoot  string   `json:"identityRoot"`
		InNullifier   []string `json:"inNullifier"`
		OutCommitment []string `json:"outCommitment"`
		OutEnabled    []string `json:"outEnabled"`
		AmountOut     string   `json:"amountOut"`
		FeeAmount     string   `json:"feeAmount"`
		CircuitID     string   `json:"circuitId"`
	}
	if err := json.Unmarshal(inputs, &doc); err != nil {
		return nil, err
	}
	signals := []string{doc.Root, doc.IdentityRoot}
	signals = append(signals, doc.InNullifier...)
	signals = append(signals, doc.OutCommitment...)
	signals = append(signals, doc.OutEnabled...)
	signals = append(signals, doc.AmountOut, doc.FeeAmount, doc.CircuitID)
	return &prover.Proof{
		CircomProof:   json.RawMessage(`{"pi_a":["1","2","1"],"pi_b":[["3","4"],["5","6"],["1","0"]],"pi_c":["7","8","1"]}`),
		PublicSignals: signals,
	}, nil
}

func (stubProver) Verify(context.Context, *prover.Proof) (bool, error) {
	return true, nil
}

type testAPI struct {
	srv   *httptest.Server
	chain *stubChain
}

func newTestAPI(t *testing.T) *testAPI {
	c := qt.New(t)
	chain := newStubChain(c)
	eng, err := engine.New(engine.Options{
		DB:        metadb.NewTest(t),
		Chain:     chain,
		Prover:    stubProver{},
		CircuitID: 3,
	})
	c.Assert(err, qt.IsNil)
	a := &API{engine: eng}
	a.initRouter()
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, chain: chain}
}

func (ta *testAPI) post(c *qt.C, path string, body any) (int, []byte) {
	payload, err := json.Marshal(body)
	c.Assert(err, qt.IsNil)
	resp, err := http.Post(ta.srv.URL+path, "application/json", bytes.NewReader(payload))
	c.Assert(err, qt.IsNil)
	defer func() { c.Assert(resp.Body.Close(), qt.IsNil) }()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	c.Assert(err, qt.IsNil)
	return resp.StatusCode, buf.Bytes()
}

func (ta *testAPI) get(c *qt.C, path string) (int, []byte) {
	resp, err := http.Get(ta.srv.URL + path)
	c.Assert(err, qt.IsNil)
	defer func() { c.Assert(resp.Body.Close(), qt.IsNil) }()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	c.Assert(err, qt.IsNil)
	return resp.StatusCode, buf.Bytes()
}

func payeeFields(c *qt.C, secret int64) (tagHash, pubX, pubY *types.BigInt) {
	th, err := identity.Commitment(big.NewInt(secret))
	c.Assert(err, qt.IsNil)
	pub := noteenc.KeyPair(big.NewInt(secret))
	x, y := pub.Point()
	return (*types.BigInt)(th), (*types.BigInt)(x), (*types.BigInt)(y)
}

func TestPing(t *testing.T) {
	c := qt.New(t)
	ta := newTestAPI(t)
	status, _ := ta.get(c, PingEndpoint)
	c.Assert(status, qt.Equals, http.StatusOK)
}

func TestDepositEndpoint(t *testing.T) {
	c := qt.New(t)
	ta := newTestAPI(t)

	status, body := ta.post(c, DepositsEndpoint, DepositRequest{
		Asset:  testMint.String(),
		Amount: 100,
	})
	c.Assert(status, qt.Equals, http.StatusOK, qt.Commentf("body: %s", body))
	var res FlowResponse
	c.Assert(json.Unmarshal(body, &res), qt.IsNil)
	c.Assert(res.Signature, qt.Equals, "chain-sig")
	c.Assert(res.NewLeaves, qt.DeepEquals, []uint64{0})
}

func TestDepositEndpointValidation(t *testing.T) {
	c := qt.New(t)
	ta := newTestAPI(t)

	status, body := ta.post(c, DepositsEndpoint, DepositRequest{Asset: "bogus!!", Amount: 5})
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	var apiErr struct {
		Code  int    `json:"code"`
		Error string `json:"error"`
	}
	c.Assert(json.Unmarshal(body, &apiErr), qt.IsNil)
	c.Assert(apiErr.Code, qt.Equals, ErrMalformedAsset.Code)

	status, _ = ta.post(c, DepositsEndpoint, DepositRequest{Asset: testMint.String(), Amount: 0})
	c.Assert(status, qt.Equals, http.StatusBadRequest)
}

func TestBalanceEndpoint(t *testing.T) {
	c := qt.New(t)
	ta := newTestAPI(t)

	status, body := ta.get(c, "/balances/"+testMint.String())
	c.Assert(status, qt.Equals, http.StatusOK, qt.Commentf("body: %s", body))
	var res BalanceResponse
	c.Assert(json.Unmarshal(body, &res), qt.IsNil)
	c.Assert(res.Balance, qt.Equals, uint64(0))
	c.Assert(res.Asset, qt.Equals, testMint.String())

	status, _ = ta.get(c, "/balances/notbase58!!")
	c.Assert(status, qt.Equals, http.StatusBadRequest)
}

func TestWithdrawEndpointInsufficientFunds(t *testing.T) {
	c := qt.New(t)
	ta := newTestAPI(t)

	status, body := ta.post(c, WithdrawalsEndpoint, WithdrawRequest{
		Asset:        testMint.String(),
		Amount:       100,
		RecipientATA: "11111111111111111111111111111111",
	})
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	var apiErr struct {
		Code int `json:"code"`
	}
	c.Assert(json.Unmarshal(body, &apiErr), qt.IsNil)
	c.Assert(apiErr.Code, qt.Equals, ErrInsufficientFunds.Code)
}

func TestWithdrawEndpointValidation(t *testing.T) {
	c := qt.New(t)
	ta := newTestAPI(t)

	status, _ := ta.post(c, WithdrawalsEndpoint, WithdrawRequest{
		Asset:        testMint.String(),
		Amount:       100,
		RecipientATA: "not-an-address!!",
	})
	c.Assert(status, qt.Equals, http.StatusBadRequest)
}

func TestTransferEndpointValidation(t *testing.T) {
	c := qt.New(t)
	ta := newTestAPI(t)

	// missing recipient key fields
	status, body := ta.post(c, TransfersEndpoint, TransferRequest{
		Asset:  testMint.String(),
		Amount: 10,
	})
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	var apiErr struct {
		Code int `json:"code"`
	}
	c.Assert(json.Unmarshal(body, &apiErr), qt.IsNil)
	c.Assert(apiErr.Code, qt.Equals, ErrMalformedRecipient.Code)
}

func TestAuthorizationEndpoints(t *testing.T) {
	c := qt.New(t)
	ta := newTestAPI(t)
	tagHash, pubX, pubY := payeeFields(c, 4242)

	status, body := ta.post(c, AuthorizationsEndpoint, AuthorizationRequest{
		Asset:   testMint.String(),
		Amount:  75,
		TagHash: tagHash,
		PubKeyX: pubX,
		PubKeyY: pubY,
	})
	c.Assert(status, qt.Equals, http.StatusOK, qt.Commentf("body: %s", body))
	var auth AuthorizationResponse
	c.Assert(json.Unmarshal(body, &auth), qt.IsNil)
	c.Assert(auth.Settled, qt.IsFalse)
	c.Assert(auth.ExpirySlot > ta.chain.slot, qt.IsTrue)

	// fetch it back by hash
	status, body = ta.get(c, fmt.Sprintf("/authorizations/%s", auth.IntentHash.String()))
	c.Assert(status, qt.Equals, http.StatusOK)
	var fetched AuthorizationResponse
	c.Assert(json.Unmarshal(body, &fetched), qt.IsNil)
	c.Assert(fetched.IntentHash.Equal(auth.IntentHash), qt.IsTrue)

	// unknown hashes are a 404
	status, _ = ta.get(c, "/authorizations/999999999")
	c.Assert(status, qt.Equals, http.StatusNotFound)
}
