// Package vault encrypts wallet seeds under a user password and manages
// their durable storage. A seed only ever touches disk as an authenticated
// ciphertext produced by EncryptSeed.
package vault

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrAuthenticationFailed is returned when a password is wrong or a stored
// blob has been tampered with. It is never retried automatically.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrEmptyPassword is returned when encryption is attempted with an empty
// password.
var ErrEmptyPassword = errors.New("password must not be empty")

// Encryption constants.
const (
	SaltSize = 32
	// Blob format: [salt(32)][memory(4)][iterations(4)][parallelism(1)][nonce(24)][ciphertext...]
	headerSize = SaltSize + 4 + 4 + 1
)

// Upper bounds on the KDF parameters accepted from a stored blob. The
// parameters are read before the ciphertext is authenticated, so a tampered
// header must not be able to drive the key derivation into an arbitrarily
// large allocation.
const (
	maxMemory     = 4 * 1024 * 1024 // 4 GiB in KiB
	maxIterations = 64
)

// fingerprintPrefix domain-separates the seed digest from any other BLAKE3
// use of the same bytes.
const fingerprintPrefix = "emberwallet/seed-fingerprint/v1"

// Params holds Argon2id key-derivation parameters.
type Params struct {
	Memory      uint32 // in KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultParams returns recommended Argon2id parameters.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024, // 64 MB
		Iterations:  3,
		Parallelism: 4,
	}
}

// FastParams returns minimal-cost parameters for tests.
func FastParams() Params {
	return Params{
		Memory:      64,
		Iterations:  1,
		Parallelism: 1,
	}
}

// deriveKey uses Argon2id to derive a 32-byte encryption key from password
// and salt.
func deriveKey(password, salt []byte, params Params) []byte {
	return argon2.IDKey(
		password,
		salt,
		params.Iterations,
		params.Memory,
		params.Parallelism,
		chacha20poly1305.KeySize,
	)
}

// EncryptSeed encrypts a seed with a password using Argon2id +
// XChaCha20-Poly1305. The KDF parameters travel with the blob so they can be
// hardened without breaking existing wallets.
//
// Blob format: salt(32) | memory(4) | iterations(4) | parallelism(1) | nonce(24) | ciphertext
func EncryptSeed(seed, password []byte, params Params) ([]byte, error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}

	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(password, salt, params)
	defer Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, seed, nil)

	out := make([]byte, 0, headerSize+len(nonce)+len(ciphertext))
	out = append(out, salt...)
	out = binary.LittleEndian.AppendUint32(out, params.Memory)
	out = binary.LittleEndian.AppendUint32(out, params.Iterations)
	out = append(out, params.Parallelism)
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	return out, nil
}

// DecryptSeed decrypts a blob produced by EncryptSeed. A wrong password or
// any tampering fails closed with ErrAuthenticationFailed; no partial
// plaintext is ever returned.
func DecryptSeed(blob, password []byte) ([]byte, error) {
	nonceSize := chacha20poly1305.NonceSizeX
	minSize := headerSize + nonceSize + chacha20poly1305.Overhead
	if len(blob) < minSize {
		return nil, fmt.Errorf("%w: blob too short (%d bytes, need at least %d)",
			ErrAuthenticationFailed, len(blob), minSize)
	}

	salt := blob[:SaltSize]
	params := Params{
		Memory:      binary.LittleEndian.Uint32(blob[SaltSize:]),
		Iterations:  binary.LittleEndian.Uint32(blob[SaltSize+4:]),
		Parallelism: blob[SaltSize+8],
	}
	if params.Memory == 0 || params.Memory > maxMemory ||
		params.Iterations == 0 || params.Iterations > maxIterations ||
		params.Parallelism == 0 {
		return nil, fmt.Errorf("%w: key derivation parameters out of range", ErrAuthenticationFailed)
	}

	nonce := blob[headerSize : headerSize+nonceSize]
	ciphertext := blob[headerSize+nonceSize:]

	key := deriveKey(password, salt, params)
	defer Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	seed, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	return seed, nil
}

// Fingerprint returns a deterministic one-way digest of a seed, used to
// detect re-import of an already-known wallet. It is not usable as key
// material.
func Fingerprint(seed []byte) string {
	h := blake3.New()
	h.Write([]byte(fingerprintPrefix))
	h.Write(seed)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:])
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
