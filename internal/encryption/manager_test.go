package encryption

import (
	"context"
	"testing"

	"riskauth-service/internal/config"
)

func testManager() *EncryptionManager {
	return NewEncryptionManager(&config.Config{
		Environment: "development",
		KMS:         config.KMSConfig{Enabled: false},
	}, nil)
}

func TestEncryptDecryptField(t *testing.T) {
	em := testManager()
	ctx := context.Background()

	encrypted, err := em.EncryptField(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("EncryptField failed: %v", err)
	}
	if encrypted.EncryptedValue == "" || encrypted.EncryptedDEK == "" || encrypted.KeyID == "" {
		t.Fatalf("incomplete envelope: %+v", encrypted)
	}
	if encrypted.EncryptedValue == "a@x.com" {
		t.Fatal("value stored in plaintext")
	}

	plaintext, err := em.DecryptField(ctx, encrypted)
	if err != nil {
		t.Fatalf("DecryptField failed: %v", err)
	}
	if plaintext != "a@x.com" {
		t.Errorf("roundtrip = %q, want a@x.com", plaintext)
	}
}

func TestEnvelopeMarshalRoundtrip(t *testing.T) {
	em := testManager()
	ctx := context.Background()

	encrypted, err := em.EncryptField(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("EncryptField failed: %v", err)
	}

	raw, err := encrypted.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	restored, err := UnmarshalEnvelope(raw)
	if err != nil {
		t.Fatalf("UnmarshalEnvelope failed: %v", err)
	}

	// A fresh manager must decrypt from the stored envelope alone.
	em2 := testManager()
	plaintext, err := em2.DecryptField(ctx, restored)
	if err != nil {
		t.Fatalf("DecryptField after unmarshal failed: %v", err)
	}
	if plaintext != "a@x.com" {
		t.Errorf("roundtrip = %q, want a@x.com", plaintext)
	}
}

func TestEachFieldGetsFreshDEK(t *testing.T) {
	em := testManager()
	ctx := context.Background()

	a, err := em.EncryptField(ctx, "a@x.com")
	if err != nil {
		t.Fatal(err)
	}
	b, err := em.EncryptField(ctx, "a@x.com")
	if err != nil {
		t.Fatal(err)
	}
	if a.EncryptedValue == b.EncryptedValue {
		t.Error("identical ciphertexts for two encryptions")
	}
}
