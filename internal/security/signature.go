package security

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"
)

// TrustedKeys is a set of Ed25519 public keys accepted for manifest
// signature verification.
type TrustedKeys []ed25519.PublicKey

// ParseTrustedKeys decodes ONEIRIC_TRUSTED_PUBLIC_KEYS-style input: a
// comma-separated list of base64-encoded 32-byte Ed25519 public keys.
// Malformed entries are skipped with a warning rather than failing the
// whole list, per the signature verification contract.
func ParseTrustedKeys(raw string, log *logrus.Logger) TrustedKeys {
	if log == nil {
		log = logrus.New()
	}
	var keys TrustedKeys
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(part)
		if err != nil {
			log.WithField("key_prefix", truncate(part, 8)).Warn("security: skipping malformed trusted key (not valid base64)")
			continue
		}
		if len(decoded) != ed25519.PublicKeySize {
			log.WithField("key_prefix", truncate(part, 8)).Warn("security: skipping trusted key with wrong length")
			continue
		}
		keys = append(keys, ed25519.PublicKey(decoded))
	}
	return keys
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// CanonicalBytes serializes doc as sorted-key compact JSON with
// "signature" and "signature_algorithm" fields removed, suitable for
// signing or verifying. doc is marshaled and unmarshaled into a generic
// map first so Go's map-key sorting during re-marshal gives us canonical
// ordering without hand-rolling a JSON canonicalizer.
func CanonicalBytes(doc any) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	delete(generic, "signature")
	delete(generic, "signature_algorithm")

	return json.Marshal(generic)
}

// Verify reports whether sigB64 (base64-encoded Ed25519 signature) over
// canonical validates against any key in keys.
func Verify(keys TrustedKeys, canonical []byte, sigB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	for _, key := range keys {
		if ed25519.Verify(key, canonical, sig) {
			return true
		}
	}
	return false
}

// Sign produces a base64-encoded Ed25519 signature over canonical. It
// exists primarily to support tests that need to produce validly signed
// fixtures without a separate signing tool.
func Sign(priv ed25519.PrivateKey, canonical []byte) string {
	sig := ed25519.Sign(priv, canonical)
	return base64.StdEncoding.EncodeToString(sig)
}
