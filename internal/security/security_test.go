package security_test

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/lesleslie/oneiric/internal/security"
)

func TestAllowlistGlobAndRegex(t *testing.T) {
	al, err := security.NewAllowlist([]string{"mypkg.adapters.*", "^other\\.exact$"})
	if err != nil {
		t.Fatalf("compile allowlist: %v", err)
	}

	if !al.Allows("mypkg.adapters.redis") {
		t.Error("expected glob pattern to allow mypkg.adapters.redis")
	}
	if al.Allows("mypkg.other.redis") {
		t.Error("expected glob pattern to reject mypkg.other.redis")
	}
	if !al.Allows("other.exact") {
		t.Error("expected regex pattern to allow other.exact")
	}
	if al.Allows("other.exact.suffix") {
		t.Error("expected anchored regex to reject suffixed match")
	}
}

func TestSafeJoinRejectsEscapes(t *testing.T) {
	root := t.TempDir()

	if _, err := security.SafeJoin(root, "../escape"); err == nil {
		t.Error("expected SafeJoin to reject ../ escape")
	}
	if _, err := security.SafeJoin(root, "/etc/passwd"); err == nil {
		t.Error("expected SafeJoin to reject absolute path escape")
	}
	resolved, err := security.SafeJoin(root, "artifacts/file.bin")
	if err != nil {
		t.Fatalf("expected legitimate subpath to resolve, got %v", err)
	}
	if resolved == "" {
		t.Fatal("expected non-empty resolved path")
	}
}

type fixtureManifest struct {
	Source             string `json:"source"`
	Entries            []string `json:"entries"`
	Signature          string `json:"signature,omitempty"`
	SignatureAlgorithm string `json:"signature_algorithm,omitempty"`
}

func TestSignatureRoundTripAndTamperDetection(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	doc := fixtureManifest{Source: "remote", Entries: []string{"a", "b"}}
	canonical, err := security.CanonicalBytes(doc)
	if err != nil {
		t.Fatalf("canonical bytes: %v", err)
	}

	sig := security.Sign(priv, canonical)
	keys := security.TrustedKeys{pub}

	if !security.Verify(keys, canonical, sig) {
		t.Fatal("expected valid signature to verify")
	}

	tampered := doc
	tampered.Entries = []string{"a", "c"}
	tamperedCanonical, err := security.CanonicalBytes(tampered)
	if err != nil {
		t.Fatalf("canonical bytes: %v", err)
	}
	if security.Verify(keys, tamperedCanonical, sig) {
		t.Fatal("expected tampered manifest to fail verification")
	}
}

func TestParseTrustedKeysSkipsMalformedEntries(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	good := base64.StdEncoding.EncodeToString(pub)

	keys := security.ParseTrustedKeys(good+",not-base64!!!,"+base64.StdEncoding.EncodeToString([]byte("short")), nil)
	if len(keys) != 1 {
		t.Fatalf("expected exactly 1 valid key to survive, got %d", len(keys))
	}
}
