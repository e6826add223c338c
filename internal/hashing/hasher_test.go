package hashing

import (
	"errors"
	"testing"

	"riskauth-service/internal/config"
)

func testHasher() *Hasher {
	return NewHasher(&config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Peppers:           []string{"pepper-v1", "pepper-v2"},
		},
	})
}

func TestHashAndVerifyCredential(t *testing.T) {
	h := testHasher()

	result, err := h.HashCredential("s3cret")
	if err != nil {
		t.Fatalf("HashCredential failed: %v", err)
	}
	if result.Hash == "" || result.Salt == "" {
		t.Fatal("empty hash or salt")
	}
	if result.PepperVersion != 2 {
		t.Errorf("pepper version = %d, want current (2)", result.PepperVersion)
	}

	ok, err := h.VerifyCredential("s3cret", result)
	if err != nil {
		t.Fatalf("VerifyCredential failed: %v", err)
	}
	if !ok {
		t.Error("correct credential did not verify")
	}
}

func TestVerifyRejectsWrongCredential(t *testing.T) {
	h := testHasher()

	result, err := h.HashCredential("s3cret")
	if err != nil {
		t.Fatalf("HashCredential failed: %v", err)
	}

	ok, err := h.VerifyCredential("not-it", result)
	if err != nil {
		t.Fatalf("VerifyCredential failed: %v", err)
	}
	if ok {
		t.Error("wrong credential verified")
	}
}

func TestHashesAreSalted(t *testing.T) {
	h := testHasher()

	a, err := h.HashCredential("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.HashCredential("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash == b.Hash {
		t.Error("identical hashes for two registrations of the same credential")
	}
}

func TestVerifyOldPepperVersionStillWorks(t *testing.T) {
	old := NewHasher(&config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Peppers:           []string{"pepper-v1"},
		},
	})

	result, err := old.HashCredential("s3cret")
	if err != nil {
		t.Fatal(err)
	}

	ok, err := testHasher().VerifyCredential("s3cret", result)
	if err != nil {
		t.Fatalf("VerifyCredential failed: %v", err)
	}
	if !ok {
		t.Error("credential hashed under an older pepper did not verify")
	}
}

func TestVerifyUnknownPepperVersion(t *testing.T) {
	h := testHasher()

	result, err := h.HashCredential("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	result.PepperVersion = 9

	if _, err := h.VerifyCredential("s3cret", result); !errors.Is(err, ErrUnknownPepperVersion) {
		t.Fatalf("expected ErrUnknownPepperVersion, got %v", err)
	}
}
