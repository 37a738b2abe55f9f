// Package protect seals a batch into an opaque, reversible envelope keyed
// by a shared secret.
//
// Envelope layout:
//
//	magic(4) | version(1) | logN(1) | salt(16) | nonce(12) | ciphertext
//
// The plaintext is the snappy-compressed JSON encoding of the batch and the
// key is derived with scrypt from the secret and the per-envelope salt.
package protect

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
	"golang.org/x/crypto/scrypt"

	"github.com/sensorsplit/sensorsplit/internal/atomicfile"
	perrors "github.com/sensorsplit/sensorsplit/internal/errors"
	"github.com/sensorsplit/sensorsplit/pkg/types"
)

const (
	version    = 1
	saltSize   = 16
	nonceSize  = 12
	keySize    = 32
	headerSize = 4 + 1 + 1 + saltSize + nonceSize

	// MinSecretLength is the shortest accepted shared secret.
	MinSecretLength = 8

	// DefaultCost is log2 of the scrypt N parameter.
	DefaultCost = 15
)

var magic = [4]byte{'S', 'S', 'P', 'E'}

// Options configures a Sealer.
type Options struct {
	// Secret is the shared secret; configuration, never data
	Secret string

	// Cost is log2(N) for scrypt (10–20, default 15)
	Cost int
}

// Sealer protects and restores batches.
type Sealer struct {
	secret []byte
	cost   int
	rand   io.Reader
}

// NewSealer creates a sealer. The secret is validated on use so that a bad
// secret surfaces as a protection failure of the pipeline step.
func NewSealer(opts Options) *Sealer {
	cost := opts.Cost
	if cost == 0 {
		cost = DefaultCost
	}
	return &Sealer{
		secret: []byte(opts.Secret),
		cost:   cost,
		rand:   rand.Reader,
	}
}

// Validate checks the secret and cost.
func (s *Sealer) Validate() error {
	if len(s.secret) < MinSecretLength {
		return perrors.NewProtectionError(perrors.CodeInvalidSecret,
			fmt.Sprintf("shared secret must be at least %d bytes", MinSecretLength), nil)
	}
	if s.cost < 10 || s.cost > 20 {
		return perrors.NewProtectionError(perrors.CodeInvalidSecret,
			fmt.Sprintf("scrypt cost %d out of range 10-20", s.cost), nil)
	}
	return nil
}

// Seal writes the protected envelope of b to w.
func (s *Sealer) Seal(ctx context.Context, b types.Batch, w io.Writer) error {
	if err := s.Validate(); err != nil {
		return err
	}

	plain, err := json.Marshal(b)
	if err != nil {
		return perrors.NewProtectionError(perrors.CodeSealFailed, "failed to encode batch", err)
	}
	compressed := snappy.Encode(nil, plain)

	header := make([]byte, headerSize)
	copy(header[0:4], magic[:])
	header[4] = version
	header[5] = byte(s.cost)
	salt := header[6 : 6+saltSize]
	nonce := header[6+saltSize:]
	if _, err := io.ReadFull(s.rand, salt); err != nil {
		return perrors.NewProtectionError(perrors.CodeSealFailed, "failed to read salt", err)
	}
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return perrors.NewProtectionError(perrors.CodeSealFailed, "failed to read nonce", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	aead, err := s.aead(salt, s.cost)
	if err != nil {
		return err
	}
	sealed := aead.Seal(nil, nonce, compressed, header)

	if _, err := w.Write(header); err != nil {
		return perrors.NewSerializationError(perrors.CodeWriteFailed, "failed to write envelope header", err)
	}
	if _, err := w.Write(sealed); err != nil {
		return perrors.NewSerializationError(perrors.CodeWriteFailed, "failed to write envelope body", err)
	}
	return nil
}

// Open restores a batch from an envelope produced by Seal.
func (s *Sealer) Open(r io.Reader) (types.Batch, error) {
	if len(s.secret) < MinSecretLength {
		return types.Batch{}, perrors.NewProtectionError(perrors.CodeInvalidSecret,
			fmt.Sprintf("shared secret must be at least %d bytes", MinSecretLength), nil)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return types.Batch{}, perrors.NewProtectionError(perrors.CodeOpenFailed, "failed to read envelope", err)
	}
	if len(data) < headerSize || !bytes.Equal(data[0:4], magic[:]) {
		return types.Batch{}, perrors.NewProtectionError(perrors.CodeOpenFailed, "not a protected envelope", nil)
	}
	if data[4] != version {
		return types.Batch{}, perrors.NewProtectionError(perrors.CodeOpenFailed,
			fmt.Sprintf("unsupported envelope version %d", data[4]), nil)
	}

	header := data[:headerSize]
	salt := header[6 : 6+saltSize]
	nonce := header[6+saltSize:]

	aead, err := s.aead(salt, int(header[5]))
	if err != nil {
		return types.Batch{}, err
	}
	compressed, err := aead.Open(nil, nonce, data[headerSize:], header)
	if err != nil {
		return types.Batch{}, perrors.NewProtectionError(perrors.CodeOpenFailed, "authentication failed (wrong secret or corrupt envelope)", err)
	}

	plain, err := snappy.Decode(nil, compressed)
	if err != nil {
		return types.Batch{}, perrors.NewProtectionError(perrors.CodeOpenFailed, "failed to decompress envelope", err)
	}

	var b types.Batch
	if err := json.Unmarshal(plain, &b); err != nil {
		return types.Batch{}, perrors.NewProtectionError(perrors.CodeOpenFailed, "failed to decode batch", err)
	}
	return b, nil
}

// SealFile protects b into path atomically. On failure nothing is left at
// path: neither a partial envelope nor the previous file.
func (s *Sealer) SealFile(ctx context.Context, b types.Batch, path string) (atomicfile.Result, error) {
	res, err := atomicfile.Write(ctx, path, func(w io.Writer) error {
		return s.Seal(ctx, b, w)
	})
	if err != nil {
		if rmErr := atomicfile.Discard(path); rmErr != nil {
			return atomicfile.Result{}, fmt.Errorf("%w (cleanup: %v)", err, rmErr)
		}
		return atomicfile.Result{}, err
	}
	return res, nil
}

// OpenFile restores a batch from a protected file.
func (s *Sealer) OpenFile(path string) (types.Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Batch{}, perrors.NewProtectionError(perrors.CodeOpenFailed, "failed to open envelope", err)
	}
	defer f.Close()
	return s.Open(f)
}

func (s *Sealer) aead(salt []byte, cost int) (cipher.AEAD, error) {
	if cost < 10 || cost > 20 {
		return nil, perrors.NewProtectionError(perrors.CodeOpenFailed, fmt.Sprintf("scrypt cost %d out of range", cost), nil)
	}
	key, err := scrypt.Key(s.secret, salt, 1<<cost, 8, 1, keySize)
	if err != nil {
		return nil, perrors.NewProtectionError(perrors.CodeSealFailed, "failed to derive key", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, perrors.NewProtectionError(perrors.CodeSealFailed, "failed to create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, perrors.NewProtectionError(perrors.CodeSealFailed, "failed to create GCM", err)
	}
	return aead, nil
}
