package circuits

import (
	"context"
	"encoding/hex"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veilpay/veilpay-go/config"
)

// SpendArtifacts is the artifact bundle of the spend circuit.
var SpendArtifacts = NewCircuitArtifacts(
	&Artifact{
		RemoteURL: config.SpendCircuitURL,
		Hash:      hexHash(config.SpendCircuitHash),
	},
	&Artifact{
		RemoteURL: config.SpendProvingKeyURL,
		Hash:      hexHash(config.SpendProvingKeyHash),
	},
	&Artifact{
		RemoteURL: config.SpendVerificationKeyURL,
		Hash:      hexHash(config.SpendVerificationKeyHash),
	},
)

// DownloadArtifacts downloads every circuit artifact missing from the
// local cache, bounded by the given timeout.
func DownloadArtifacts(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return SpendArtifacts.DownloadAll(ctx)
	})
	return g.Wait()
}

func hexHash(s string) []byte {
	h, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return h
}
