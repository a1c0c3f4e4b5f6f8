// Command oneiricd is a minimal demonstration binary wiring the resolver,
// lifecycle manager, activity store, domain bridges, and runtime
// orchestrator into one process. It is not part of the core's public
// contract: embedders are expected to compose internal/* directly.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lesleslie/oneiric/internal/activity"
	"github.com/lesleslie/oneiric/internal/config"
	"github.com/lesleslie/oneiric/internal/lifecycle"
	"github.com/lesleslie/oneiric/internal/logging"
	"github.com/lesleslie/oneiric/internal/orchestrator"
	"github.com/lesleslie/oneiric/internal/registry"
	"github.com/lesleslie/oneiric/internal/remote"
	"github.com/lesleslie/oneiric/internal/resilience"
	"github.com/lesleslie/oneiric/internal/security"
	"github.com/lesleslie/oneiric/internal/watcher"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML settings file (defaults to ONEIRIC_CONFIG or compiled defaults)")
	selectionsPath := flag.String("selections", "", "path to a YAML/JSON {domain: {key: provider}} selection mapping")
	activityDB := flag.String("activity-db", ".oneiric_activity.db", "path to the activity store's SQLite database")
	healthSnapshot := flag.String("health-snapshot", ".oneiric_runtime_health.json", "path the runtime health snapshot is written to")
	flag.Parse()

	log.SetFlags(0)

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load settings: %v", err)
	}

	selections, err := config.LoadSelections(*selectionsPath)
	if err != nil {
		log.Fatalf("load selections: %v", err)
	}

	stackOrder := registry.StackOrder{}
	for _, entry := range settings.StackOrder {
		stackOrder[entry.SourceLabel] = entry.Priority
	}
	reg := registry.New(stackOrder)

	allowlist, err := security.NewAllowlist(settings.FactoryAllowlist)
	if err != nil {
		log.Fatalf("build factory allowlist: %v", err)
	}

	appLog := logging.NewFromEnv("oneiricd")

	act, err := activity.Open(*activityDB)
	if err != nil {
		log.Fatalf("open activity store: %v", err)
	}
	defer act.Close()

	lm := lifecycle.New(reg, allowlist, lifecycle.Timeouts{
		Activation: orDefault(settings.Lifecycle.ActivationTimeout, 10*time.Second),
		Health:     orDefault(settings.Lifecycle.HealthTimeout, 5*time.Second),
		Cleanup:    orDefault(settings.Lifecycle.CleanupTimeout, 5*time.Second),
		Hook:       orDefault(settings.Lifecycle.HookTimeout, 5*time.Second),
	}, appLog, joinPath(settings.CacheDir, "lifecycle_status.json"))

	var loader *remote.Loader
	if strings.TrimSpace(settings.Remote.URL) != "" {
		trustedKeys := security.ParseTrustedKeys(config.GetEnv("ONEIRIC_TRUSTED_PUBLIC_KEYS", ""), appLog.Logger)
		loader = remote.NewLoader(reg, remote.Options{
			CacheDir:         settings.CacheDir,
			RequireSignature: settings.Remote.RequireSignature,
			TrustedKeys:      trustedKeys,
			Breaker: resilience.BreakerConfig{
				MaxFailures: settings.Remote.Breaker.MaxFailures,
				ResetAfter:  settings.Remote.Breaker.ResetAfter,
				HalfOpenMax: settings.Remote.Breaker.HalfOpenMax,
			},
		})
	}

	sources := make(map[string]watcher.SelectionSource)
	for _, domain := range []string{"adapter", "service", "task", "event", "workflow"} {
		domain := domain
		sources[domain] = func() (map[string]string, error) { return selections.ForDomain(domain), nil }
	}

	orc := orchestrator.New(orchestrator.Options{
		Registry:            reg,
		Lifecycle:           lm,
		Activity:            act,
		Loader:              loader,
		HealthSnapshotPath:  *healthSnapshot,
		WatcherPollInterval: orDefault(settings.Remote.RefreshInterval, 10*time.Second),
		RefreshCron:         settings.Remote.RefreshCron,
		Sources:             sources,
		Log:                 appLog,
	})

	ctx := context.Background()
	retryPolicy := resilience.RetryPolicy{
		MaxAttempts: settings.Remote.Retry.MaxAttempts,
		BaseDelay:   settings.Remote.Retry.BaseDelay,
		MaxDelay:    settings.Remote.Retry.MaxDelay,
		Jitter:      settings.Remote.Retry.Jitter,
	}
	if err := orc.Start(ctx, settings.Remote.URL, settings.Remote.RefreshInterval, settings.Remote.Timeout, retryPolicy); err != nil {
		log.Fatalf("start orchestrator: %v", err)
	}
	log.Println("oneiricd: runtime orchestrator started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if err := orc.Stop(); err != nil {
		log.Fatalf("stop orchestrator: %v", err)
	}
	log.Println("oneiricd: runtime orchestrator stopped")
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func joinPath(dir, name string) string {
	if strings.TrimSpace(dir) == "" {
		return name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}
