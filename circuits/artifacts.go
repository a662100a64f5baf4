package circuits

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.vocdoni.io/dvote/log"
)

// CheckHashes determines if artifact hashes are verified on load and
// download. Set the VEILPAY_CHECK_HASHES environment variable to false or
// 0 to disable it.
var CheckHashes = true

// BaseDir is the local artifact cache. Missing artifacts are downloaded
// there. Defaults to VEILPAY_ARTIFACTS_DIR or the user cache directory.
var BaseDir string

func init() {
	if checkHashes := os.Getenv("VEILPAY_CHECK_HASHES"); checkHashes != "" {
		if strings.ToLower(checkHashes) == "false" || checkHashes == "0" {
			CheckHashes = false
		}
	}
	if dir := os.Getenv("VEILPAY_ARTIFACTS_DIR"); dir != "" {
		BaseDir = dir
	} else {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			log.Warnf("unable to access user home directory, using temporary directory: %v", err)
			BaseDir = filepath.Join(os.TempDir(), "veilpay-artifacts")
		} else {
			BaseDir = filepath.Join(home, ".cache", "veilpay-artifacts")
		}
	}
	if err := os.MkdirAll(BaseDir, 0o755); err != nil {
		log.Errorf("failed to create BaseDir %s: %v", BaseDir, err)
	}
}

// Artifact holds a remote URL, the expected sha256 of the content and the
// content itself once loaded. Content integrity is always checked against
// the hash unless CheckHashes is disabled.
type Artifact struct {
	RemoteURL string
	Hash      []byte
	Content   []byte
}

// Load reads the artifact from the local cache into memory. It returns an
// error when the artifact is not cached yet or its hash does not match.
func (a *Artifact) Load() error {
	if len(a.Content) != 0 {
		return nil
	}
	if len(a.Hash) == 0 {
		return fmt.Errorf("artifact hash not provided")
	}
	content, err := load(a.Hash)
	if err != nil {
		return err
	}
	if content == nil {
		return fmt.Errorf("no content found")
	}
	a.Content = content
	return nil
}

// Download fetches the artifact from its remote URL into the local cache.
func (a *Artifact) Download(ctx context.Context) error {
	if a.RemoteURL == "" {
		return fmt.Errorf("artifact not cached and remote url not provided")
	}
	return downloadAndStore(ctx, a.Hash, a.RemoteURL)
}

// CircuitArtifacts bundles the three artifacts of a circom circuit: the
// witness generator wasm, the Groth16 proving key and the verification
// key.
type CircuitArtifacts struct {
	wasm         *Artifact
	provingKey   *Artifact
	verifyingKey *Artifact
}

// NewCircuitArtifacts creates the bundle with the given artifacts.
func NewCircuitArtifacts(wasm, provingKey, verifyingKey *Artifact) *CircuitArtifacts {
	return &CircuitArtifacts{
		wasm:         wasm,
		provingKey:   provingKey,
		verifyingKey: verifyingKey,
	}
}

// LoadAll loads the three artifacts from the local cache into memory.
func (ca *CircuitArtifacts) LoadAll() error {
	if err := ca.wasm.Load(); err != nil {
		return fmt.Errorf("error loading witness generator: %w", err)
	}
	if err := ca.provingKey.Load(); err != nil {
		return fmt.Errorf("error loading proving key: %w", err)
	}
	if err := ca.verifyingKey.Load(); err != nil {
		return fmt.Errorf("error loading verification key: %w", err)
	}
	return nil
}

// DownloadAll downloads any artifact missing from the local cache.
func (ca *CircuitArtifacts) DownloadAll(ctx context.Context) error {
	if err := ca.wasm.Download(ctx); err != nil {
		return fmt.Errorf("error downloading witness generator: %w", err)
	}
	if err := ca.provingKey.Download(ctx); err != nil {
		return fmt.Errorf("error downloading proving key: %w", err)
	}
	if err := ca.verifyingKey.Download(ctx); err != nil {
		return fmt.Errorf("error downloading verification key: %w", err)
	}
	return nil
}

// Wasm returns the loaded witness generator, or nil.
func (ca *CircuitArtifacts) Wasm() []byte { return ca.wasm.Content }

// ProvingKey returns the loaded proving key, or nil.
func (ca *CircuitArtifacts) ProvingKey() []byte { return ca.provingKey.Content }

// VerifyingKey returns the loaded verification key, or nil.
func (ca *CircuitArtifacts) VerifyingKey() []byte { return ca.verifyingKey.Content }

func load(hash []byte) ([]byte, error) {
	if _, err := os.Stat(BaseDir); err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(BaseDir, os.ModePerm); err != nil {
				return nil, fmt.Errorf("error creating the base directory: %w", err)
			}
		} else {
			return nil, fmt.Errorf("error checking the base directory: %w", err)
		}
	}
	path := filepath.Join(BaseDir, hex.EncodeToString(hash))
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error checking file %s: %w", path, err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading file %s: %w", path, err)
	}
	if CheckHashes {
		fileHash := sha256.Sum256(content)
		if !bytes.Equal(fileHash[:], hash) {
			return nil, fmt.Errorf("hash mismatch for file %s: expected %x, got %x", path, hash, fileHash)
		}
	}
	return content, nil
}

// downloadAndStore downloads a file into the local cache, verifying its
// hash before moving it in place.
func downloadAndStore(ctx context.Context, expectedHash []byte, fileUrl string) error {
	if _, err := url.Parse(fileUrl); err != nil {
		return fmt.Errorf("error parsing the file URL provided: %w", err)
	}
	path := filepath.Join(BaseDir, hex.EncodeToString(expectedHash))
	if _, err := os.Stat(path); err == nil {
		// already cached
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileUrl, nil)
	if err != nil {
		return fmt.Errorf("error creating the file request: %w", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("error performing the request: %w", err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			log.Warnw("cannot close response body", "error", err.Error())
		}
	}()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("error downloading file %s: http status: %d", fileUrl, res.StatusCode)
	}
	partialPath := path + ".partial"
	fd, err := os.OpenFile(partialPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("error opening artifact file: %w", err)
	}
	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(fd, hasher), res.Body); err != nil {
		_ = fd.Close()
		return fmt.Errorf("error copying data to file: %w", err)
	}
	if err := fd.Close(); err != nil {
		return fmt.Errorf("error closing artifact file: %w", err)
	}
	if CheckHashes && !bytes.Equal(hasher.Sum(nil), expectedHash) {
		return fmt.Errorf("hash mismatch for %s", fileUrl)
	}
	if err := os.Rename(partialPath, path); err != nil {
		return fmt.Errorf("error renaming downloaded artifact: %w", err)
	}
	log.Debugw("artifact downloaded", "url", fileUrl, "path", path)
	return nil
}
