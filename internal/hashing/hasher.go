package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"riskauth-service/internal/config"
)

var (
	ErrInvalidHash          = errors.New("invalid hash format")
	ErrUnknownPepperVersion = errors.New("pepper version not found")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Hasher struct {
	params Argon2Params
	// peppers are config-sourced so digests stay verifiable across process
	// restarts; version n is peppers[n-1] and the last entry is current.
	peppers []string
}

// HashResult is the stored representation of one hashed credential.
type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
	Algorithm     string `json:"algorithm"`
}

func NewHasher(cfg *config.Config) *Hasher {
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  32,
		KeyLength:   32,
	}

	return &Hasher{
		params:  params,
		peppers: cfg.Hashing.Peppers,
	}
}

// HashCredential hashes a login credential with the current pepper.
func (h *Hasher) HashCredential(credential string) (*HashResult, error) {
	return h.hashWithPepper(credential, "credential")
}

func (h *Hasher) hashWithPepper(data, context string) (*HashResult, error) {
	version := len(h.peppers)
	if version == 0 {
		return nil, ErrUnknownPepperVersion
	}
	pepper := h.peppers[version-1]

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	// Context string prevents hash reuse between different purposes.
	contextualData := data + pepper + context

	hash := argon2.IDKey(
		[]byte(contextualData),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: version,
		Algorithm:     "argon2id-v1",
	}, nil
}

// VerifyCredential checks a supplied credential against a stored hash in
// constant time.
func (h *Hasher) VerifyCredential(credential string, stored *HashResult) (bool, error) {
	return h.verifyWithPepper(credential, stored, "credential")
}

func (h *Hasher) verifyWithPepper(data string, stored *HashResult, context string) (bool, error) {
	pepper, err := h.getPepper(stored.PepperVersion)
	if err != nil {
		return false, err
	}

	salt, err := base64.RawURLEncoding.DecodeString(stored.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}

	expectedHash, err := base64.RawURLEncoding.DecodeString(stored.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	contextualData := data + pepper + context

	computedHash := argon2.IDKey(
		[]byte(contextualData),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expectedHash)),
	)

	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1, nil
}

func (h *Hasher) getPepper(version int) (string, error) {
	if version < 1 || version > len(h.peppers) {
		return "", fmt.Errorf("%w: %d", ErrUnknownPepperVersion, version)
	}
	return h.peppers[version-1], nil
}
