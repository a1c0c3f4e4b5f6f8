package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	coreerrors "github.com/lesleslie/oneiric/internal/errors"
	"github.com/lesleslie/oneiric/internal/registry"
	"github.com/lesleslie/oneiric/internal/resilience"
	"github.com/lesleslie/oneiric/internal/security"
)

// SyncResult reports the outcome of one sync_remote_manifest call.
type SyncResult struct {
	Source          string
	Registered      int
	PerDomainCounts map[string]int
	Skipped         int
	Duration        time.Duration
	DigestFailures  int
}

// Loader fetches, verifies, caches, and registers remote manifests.
type Loader struct {
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	limiter    *resilience.FetchLimiter
	cacheDir   string
	registry   *registry.Registry

	requireSignature bool
	trustedKeys       security.TrustedKeys
}

// Options configures a Loader.
type Options struct {
	HTTPClient        *http.Client
	CacheDir          string
	RequireSignature  bool
	TrustedKeys       security.TrustedKeys
	Breaker           resilience.BreakerConfig
	FetchRatePerSec   float64
}

// NewLoader builds a Loader bound to reg, the registry entries get
// registered into.
func NewLoader(reg *registry.Registry, opts Options) *Loader {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	ratePerSec := opts.FetchRatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	return &Loader{
		httpClient:        client,
		breaker:           resilience.NewCircuitBreaker(opts.Breaker),
		limiter:           resilience.NewFetchLimiter(ratePerSec, 1),
		cacheDir:          opts.CacheDir,
		registry:          reg,
		requireSignature:  opts.RequireSignature,
		trustedKeys:       opts.TrustedKeys,
	}
}

// Sync fetches url, verifies it, and registers every entry as a Candidate
// with source label "remote".
func (l *Loader) Sync(ctx context.Context, url string, timeout time.Duration, retry resilience.RetryPolicy) (SyncResult, error) {
	start := time.Now()
	result := SyncResult{Source: url, PerDomainCounts: map[string]int{}}

	var raw []byte
	err := l.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, retry, func(ctx context.Context) error {
			if err := l.limiter.Wait(ctx); err != nil {
				return err
			}
			fetchCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			data, err := l.fetch(fetchCtx, url)
			if err != nil {
				return err
			}
			raw = data
			return nil
		})
	})
	if err != nil {
		result.Duration = time.Since(start)
		return result, coreerrors.RemoteSyncFailure(coreerrors.ReasonNetwork, "fetch failed", err)
	}

	manifest, err := parseManifest(url, raw)
	if err != nil {
		result.Duration = time.Since(start)
		return result, coreerrors.RemoteSyncFailure(coreerrors.ReasonSchema, "manifest parse/schema error", err)
	}

	if err := l.verifySignature(manifest); err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	for _, entry := range manifest.Entries {
		if err := entry.Validate(); err != nil {
			result.Skipped++
			continue
		}

		if entry.URI != "" {
			if err := l.fetchAndVerifyArtifact(ctx, entry); err != nil {
				result.Skipped++
				result.DigestFailures++
				continue
			}
		}

		l.registry.Register(registry.Candidate{
			Domain:     entry.Domain,
			Key:        entry.Key,
			Provider:   entry.Provider,
			FactoryRef: entry.Factory,
			StackLevel: entry.StackLevel,
			Priority:   entry.Priority,
			Source:     "remote",
			Version:    entry.Version,
			Metadata:   entryMetadata(entry),
		})
		result.Registered++
		result.PerDomainCounts[entry.Domain]++
	}

	result.Duration = time.Since(start)
	return result, nil
}

func entryMetadata(e ManifestEntry) map[string]any {
	m := map[string]any{
		"capabilities":      e.Capabilities,
		"owner":             e.Owner,
		"requires_secrets":  e.RequiresSecrets,
		"settings_model":    e.SettingsModel,
		"side_effect_free":  e.SideEffectFree,
		"timeout_seconds":   e.TimeoutSeconds,
		"requires":          e.Requires,
		"conflicts_with":    e.ConflictsWith,
		"os_platform":       e.OSPlatform,
		"license":           e.License,
		"documentation_url": e.DocumentationURL,
		"event_topics":      e.EventTopics,
		"event_priority":    e.EventPriority,
		"event_fanout_policy": e.EventFanoutPolicy,
	}
	if e.Workflow != nil {
		m["workflow"] = e.Workflow
	}
	for k, v := range e.Metadata {
		m[k] = v
	}
	return m
}

// parseManifest decodes either YAML or JSON (a syntactic subset of YAML)
// through the single yaml.v3 decoder.
func parseManifest(url string, raw []byte) (RemoteManifest, error) {
	var manifest RemoteManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return manifest, err
	}
	if err := manifest.Validate(); err != nil {
		return manifest, err
	}
	return manifest, nil
}

func (l *Loader) verifySignature(manifest RemoteManifest) error {
	if manifest.Signature == "" {
		if l.requireSignature {
			return coreerrors.RemoteSyncFailure(coreerrors.ReasonSignature, "manifest is unsigned and require_signature=true", nil)
		}
		return nil // unsigned accepted; no warning is emitted
	}

	canonical, err := security.CanonicalBytes(manifest)
	if err != nil {
		return coreerrors.RemoteSyncFailure(coreerrors.ReasonParse, "failed to canonicalize manifest for signature check", err)
	}
	if !security.Verify(l.trustedKeys, canonical, manifest.Signature) {
		return coreerrors.RemoteSyncFailure(coreerrors.ReasonSignature, "manifest signature verification failed", nil)
	}
	return nil
}

func (l *Loader) fetchAndVerifyArtifact(ctx context.Context, entry ManifestEntry) error {
	fetchURI := entry.URI
	if !security.IsHTTPURL(entry.URI) {
		safe, err := security.SafeJoin(l.cacheDir, entry.URI)
		if err != nil {
			return err
		}
		fetchURI = safe
	}

	data, err := l.fetch(ctx, fetchURI)
	if err != nil {
		return err
	}

	if entry.SHA256 != "" {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != strings.ToLower(entry.SHA256) {
			return fmt.Errorf("remote: digest mismatch for %s/%s/%s", entry.Domain, entry.Key, entry.Provider)
		}
	}

	if l.cacheDir == "" {
		return nil
	}
	digest := entry.SHA256
	if digest == "" {
		sum := sha256.Sum256(data)
		digest = hex.EncodeToString(sum[:])
	}
	cachePath, err := security.SafeJoin(l.cacheDir, filepath.Join("artifacts", digest))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return fmt.Errorf("remote: create cache dir: %w", err)
	}
	return os.WriteFile(cachePath, data, 0o644)
}

func (l *Loader) fetch(ctx context.Context, uri string) ([]byte, error) {
	if security.IsHTTPURL(uri) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, err
		}
		resp, err := l.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("remote: fetch %s: status %d", uri, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
	return os.ReadFile(uri)
}
