package main

import (
	"encoding/hex"
	"flag"
	"os"
	"path/filepath"
	"time"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"
	"go.vocdoni.io/dvote/log"

	"github.com/veilpay/veilpay-go/api"
	"github.com/veilpay/veilpay-go/circuits"
	"github.com/veilpay/veilpay-go/engine"
	"github.com/veilpay/veilpay-go/ledger"
	"github.com/veilpay/veilpay-go/prover"
	"github.com/veilpay/veilpay-go/relayer"
)

func main() {
	host := flag.String("host", "0.0.0.0", "API host to bind")
	port := flag.Int("port", 9090, "API port")
	dataDir := flag.String("dataDir", defaultDataDir(), "data directory")
	logLevel := flag.String("logLevel", "info", "log level (debug, info, warn, error)")
	rpcEndpoint := flag.String("rpc", "http://localhost:8899", "ledger RPC endpoint")
	relayerURL := flag.String("relayer", "", "relayer base URL (empty submits directly)")
	keySeed := flag.String("key", "", "hex-encoded 32-byte signing key seed")
	verifierProgram := flag.String("verifierProgram", "", "verifier program address")
	verifierKey := flag.String("verifierKey", "", "verifier key account address")
	circuitID := flag.Uint("circuitId", 1, "spend circuit identifier")
	relayerFeeBps := flag.Uint("relayerFeeBps", 0, "relayer fee in basis points")
	artifactsTimeout := flag.Duration("artifactsTimeout", 10*time.Minute, "circuit artifacts download timeout")
	flag.Parse()

	log.Init(*logLevel, "stdout", nil)

	seed, err := hex.DecodeString(*keySeed)
	if err != nil {
		log.Fatalf("invalid key seed: %v", err)
	}
	signer, err := ledger.NewKeySignerFromSeed(seed)
	if err != nil {
		log.Fatalf("cannot load signing key: %v", err)
	}
	log.Infow("signer loaded", "address", signer.Address())

	log.Infow("downloading circuit artifacts", "timeout", artifactsTimeout.String())
	if err := circuits.DownloadArtifacts(*artifactsTimeout); err != nil {
		log.Fatalf("cannot download circuit artifacts: %v", err)
	}
	if err := circuits.SpendArtifacts.LoadAll(); err != nil {
		log.Fatalf("cannot load circuit artifacts: %v", err)
	}
	zkProver, err := prover.NewRapidsnark(
		circuits.SpendArtifacts.Wasm(),
		circuits.SpendArtifacts.ProvingKey(),
		circuits.SpendArtifacts.VerifyingKey(),
	)
	if err != nil {
		log.Fatalf("cannot create prover: %v", err)
	}

	database, err := metadb.New(db.TypePebble, filepath.Join(*dataDir, "veilpay"))
	if err != nil {
		log.Fatalf("cannot open database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Warnw("cannot close database", "error", err.Error())
		}
	}()

	chainOpts := ledger.VeilpayOptions{
		Endpoint: *rpcEndpoint,
		Signer:   signer,
	}
	if *verifierProgram != "" {
		if chainOpts.VerifierProgram, err = ledger.ParseAddress(*verifierProgram); err != nil {
			log.Fatalf("invalid verifier program address: %v", err)
		}
	}
	if *verifierKey != "" {
		if chainOpts.VerifierKey, err = ledger.ParseAddress(*verifierKey); err != nil {
			log.Fatalf("invalid verifier key address: %v", err)
		}
	}
	chain, err := ledger.NewVeilpay(chainOpts)
	if err != nil {
		log.Fatalf("cannot create chain client: %v", err)
	}

	var submitter engine.Submitter
	if *relayerURL != "" {
		relayerClient, err := relayer.New(*relayerURL)
		if err != nil {
			log.Fatalf("cannot create relayer client: %v", err)
		}
		submitter = relayerClient
		log.Infow("relayer configured", "url", *relayerURL)
	}

	eng, err := engine.New(engine.Options{
		DB:            database,
		Chain:         chain,
		Relayer:       submitter,
		Prover:        zkProver,
		CircuitID:     uint32(*circuitID),
		RelayerFeeBps: uint16(*relayerFeeBps),
		Observer: func(step engine.Step, state engine.StepState, err error) {
			if err != nil {
				log.Warnw("flow step failed", "step", string(step), "error", err.Error())
				return
			}
			log.Debugw("flow step", "step", string(step), "state", string(state))
		},
	})
	if err != nil {
		log.Fatalf("cannot create engine: %v", err)
	}

	if _, err := api.New(&api.APIConfig{
		Host:   *host,
		Port:   *port,
		Engine: eng,
	}); err != nil {
		log.Fatalf("cannot start API: %v", err)
	}
	log.Infow("veilpay client running", "host", *host, "port", *port)
	select {}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "veilpay")
	}
	return filepath.Join(home, ".veilpay")
}
