package relayer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/log"
)

func init() {
	log.Init(log.LogLevelDebug, "stdout", nil)
}

type testSigner struct{}

func (testSigner) SignMessage(msg []byte) ([]byte, error) {
	sig := append([]byte("sig:"), msg[:8]...)
	return sig, nil
}

func (testSigner) Address() string { return "SignerAddr111" }

func TestExecute(t *testing.T) {
	c := qt.New(t)
	tx := []byte("raw-transaction-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Assert(r.Method, qt.Equals, http.MethodPost)
		c.Assert(r.URL.Path, qt.Equals, ExecuteEndpoint)
		c.Assert(r.Header.Get("Content-Type"), qt.Equals, "application/json")
		var req ExecuteRequest
		c.Assert(json.NewDecoder(r.Body).Decode(&req), qt.IsNil)
		c.Assert(req.Transaction, qt.Equals, base64.StdEncoding.EncodeToString(tx))
		c.Assert(json.NewEncoder(w).Encode(submitResponse{Signature: "chain-sig"}), qt.IsNil)
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	c.Assert(err, qt.IsNil)
	sig, err := client.Execute(context.Background(), tx)
	c.Assert(err, qt.IsNil)
	c.Assert(sig, qt.Equals, "chain-sig")
}

func TestExecuteRelayed(t *testing.T) {
	c := qt.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Assert(r.URL.Path, qt.Equals, ExecuteRelayedEndpoint)
		var req ExecuteRelayedRequest
		c.Assert(json.NewDecoder(r.Body).Decode(&req), qt.IsNil)
		c.Assert(req.Message, qt.Equals, "")
		c.Assert(req.Signature, qt.Equals, "")
		c.Assert(req.LookupTableAddresses, qt.DeepEquals, []string{"lut1", "lut2"})
		c.Assert(json.NewEncoder(w).Encode(submitResponse{Signature: "relayed-sig"}), qt.IsNil)
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	c.Assert(err, qt.IsNil)
	sig, err := client.ExecuteRelayed(context.Background(), []byte("tx"), []string{"lut1", "lut2"})
	c.Assert(err, qt.IsNil)
	c.Assert(sig, qt.Equals, "relayed-sig")
}

func TestIntentMessage(t *testing.T) {
	c := qt.New(t)
	tx := []byte("tx-bytes")
	msg := IntentMessage("Addr1", 1700000000000, tx, nil)
	want := "veilpay relayer intent\nsigner:Addr1\nexpiresAt:1700000000000\ntransaction:" +
		base64.StdEncoding.EncodeToString(tx)
	c.Assert(msg, qt.Equals, want)

	withTables := IntentMessage("Addr1", 1700000000000, tx, []string{"a", "b"})
	c.Assert(withTables, qt.Equals, want+"\nlookupTableAddresses:a,b")
}

func TestExecuteSignedIntent(t *testing.T) {
	c := qt.New(t)
	signer := testSigner{}
	tx := []byte("tx-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ExecuteRelayedRequest
		c.Assert(json.NewDecoder(r.Body).Decode(&req), qt.IsNil)
		c.Assert(req.SignerAddress, qt.Equals, signer.Address())
		c.Assert(req.Message, qt.Equals, IntentMessage(signer.Address(), 12345, tx, nil))
		wantSig, err := signer.SignMessage([]byte(req.Message))
		c.Assert(err, qt.IsNil)
		c.Assert(req.Signature, qt.Equals, base64.StdEncoding.EncodeToString(wantSig))
		c.Assert(json.NewEncoder(w).Encode(submitResponse{Signature: "ok"}), qt.IsNil)
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	c.Assert(err, qt.IsNil)
	sig, err := client.ExecuteSignedIntent(context.Background(), signer, tx, 12345, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(sig, qt.Equals, "ok")
}

func TestPostIntent(t *testing.T) {
	c := qt.New(t)
	intent := IntentRequest{
		IntentHash:   "0xabc",
		Asset:        "MintAddr",
		PayeeTagHash: "123",
		ExpirySlot:   999,
		CircuitID:    3,
		Signature:    "sig",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Assert(r.URL.Path, qt.Equals, IntentEndpoint)
		var req IntentRequest
		c.Assert(json.NewDecoder(r.Body).Decode(&req), qt.IsNil)
		c.Assert(req, qt.DeepEquals, intent)
		c.Assert(json.NewEncoder(w).Encode(submitResponse{Signature: "receipt"}), qt.IsNil)
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	c.Assert(err, qt.IsNil)
	receipt, err := client.PostIntent(context.Background(), intent)
	c.Assert(err, qt.IsNil)
	c.Assert(receipt, qt.Equals, "receipt")
}

func TestRelayerRejection(t *testing.T) {
	c := qt.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(submitResponse{Error: "root not known"})
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	c.Assert(err, qt.IsNil)
	_, err = client.Execute(context.Background(), []byte("tx"))
	c.Assert(err, qt.ErrorMatches, `relayer rejected request \(status 422\): root not known`)
}

func TestRelayerErrorBodyOnOK(t *testing.T) {
	c := qt.New(t)
	// some relayers report failures with a 200 and an error field
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(submitResponse{Error: "simulation failed"})
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	c.Assert(err, qt.IsNil)
	_, err = client.Execute(context.Background(), []byte("tx"))
	c.Assert(err, qt.ErrorMatches, ".*simulation failed")
}

func TestRelayerBadResponseBody(t *testing.T) {
	c := qt.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>upstream down</html>"))
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	c.Assert(err, qt.IsNil)
	_, err = client.Execute(context.Background(), []byte("tx"))
	c.Assert(err, qt.ErrorMatches, "relayer returned status 502.*")
}
