// Package nullifier derives spend nullifiers and manages the lifecycle of
// the on-chain chunk accounts they are routed to. A chunk must exist before
// any nullifier routed to it can be recorded, so the registry lazily
// provisions chunks ahead of each spend.
package nullifier

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/veilpay/veilpay-go/crypto/hash/poseidon"
	"github.com/veilpay/veilpay-go/types"
)

// ErrChunkExists is the sentinel a ChainClient returns when an initialize
// instruction races another creator of the same chunk. The registry treats
// it as success.
var ErrChunkExists = errors.New("nullifier chunk already exists")

// ChainClient is the subset of ledger operations the registry needs.
type ChainClient interface {
	// NullifierChunkExists reports whether the chunk account of the given
	// asset and index is already initialized on-chain.
	NullifierChunkExists(ctx context.Context, asset []byte, chunkIndex uint32) (bool, error)
	// InitializeNullifierChunk submits the idempotent chunk initialization
	// instruction. It may return ErrChunkExists if another writer won the
	// race; callers treat that as success.
	InitializeNullifierChunk(ctx context.Context, asset []byte, chunkIndex uint32) error
}

// Compute derives the nullifier of a note: Poseidon(senderSecret, leafIndex).
func Compute(senderSecret *big.Int, leafIndex uint64) (*big.Int, error) {
	return poseidon.Hash(senderSecret, new(big.Int).SetUint64(leafIndex))
}

// ChunkIndex returns the index of the on-chain chunk account a nullifier is
// routed to. The program reads the first four bytes of the 32-byte
// big-endian public-input encoding as a little-endian u32, so the client
// must route the same way or spends reference the wrong chunk account.
func ChunkIndex(nullifier *big.Int) (uint32, error) {
	be, err := types.FieldBytes(nullifier)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(be[0:4]), nil
}

// BitIndex returns the bit position of a nullifier inside its chunk bitset:
// bytes four and five as a little-endian u16, modulo the chunk capacity.
func BitIndex(nullifier *big.Int) (uint16, error) {
	be, err := types.FieldBytes(nullifier)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(be[4:6]) % types.NullifierChunkBits, nil
}

// Registry lazily provisions nullifier chunk accounts. Provisioned chunk
// indices are remembered so repeated calls perform at most one on-chain
// write per chunk.
type Registry struct {
	chain ChainClient
	// PaddingChunks are chunk indices ensured on every EnsureChunks call
	// regardless of the nullifier set, for deployments whose instructions
	// always reference a fixed set of chunk accounts.
	PaddingChunks []uint32

	mtx   sync.Mutex
	known map[string]bool // asset hex + chunk index
}

// NewRegistry creates a Registry over the given chain client.
func NewRegistry(chain ChainClient) *Registry {
	return &Registry{chain: chain, known: make(map[string]bool)}
}

func chunkKey(asset []byte, chunkIndex uint32) string {
	return fmt.Sprintf("%x/%d", asset, chunkIndex)
}

// EnsureChunk makes sure the chunk account a nullifier routes to exists,
// initializing it when absent. It returns the chunk index.
func (r *Registry) EnsureChunk(ctx context.Context, asset []byte, nullifier *big.Int) (uint32, error) {
	chunkIndex, err := ChunkIndex(nullifier)
	if err != nil {
		return 0, err
	}
	if err := r.ensure(ctx, asset, chunkIndex); err != nil {
		return 0, err
	}
	return chunkIndex, nil
}

// EnsureChunks provisions the chunk accounts for a whole set of nullifiers
// in one pass, deduplicating by chunk index. The returned slice holds the
// distinct chunk indices in first-seen order.
func (r *Registry) EnsureChunks(ctx context.Context, asset []byte, nullifiers []*big.Int) ([]uint32, error) {
	seen := make(map[uint32]bool)
	var chunks []uint32
	add := func(chunkIndex uint32) error {
		if seen[chunkIndex] {
			return nil
		}
		seen[chunkIndex] = true
		if err := r.ensure(ctx, asset, chunkIndex); err != nil {
			return err
		}
		chunks = append(chunks, chunkIndex)
		return nil
	}
	for _, n := range nullifiers {
		chunkIndex, err := ChunkIndex(n)
		if err != nil {
			return nil, err
		}
		if err := add(chunkIndex); err != nil {
			return nil, err
		}
	}
	for _, chunkIndex := range r.PaddingChunks {
		if err := add(chunkIndex); err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

func (r *Registry) ensure(ctx context.Context, asset []byte, chunkIndex uint32) error {
	key := chunkKey(asset, chunkIndex)
	r.mtx.Lock()
	cached := r.known[key]
	r.mtx.Unlock()
	if cached {
		return nil
	}
	exists, err := r.chain.NullifierChunkExists(ctx, asset, chunkIndex)
	if err != nil {
		return fmt.Errorf("cannot check nullifier chunk %d: %w", chunkIndex, err)
	}
	if !exists {
		if err := r.chain.InitializeNullifierChunk(ctx, asset, chunkIndex); err != nil &&
			!errors.Is(err, ErrChunkExists) {
			return fmt.Errorf("cannot initialize nullifier chunk %d: %w", chunkIndex, err)
		}
	}
	r.mtx.Lock()
	r.known[key] = true
	r.mtx.Unlock()
	return nil
}
