package lifecycle

// Capability discovery replaces runtime reflection with small, explicit
// interfaces: an instance declares what lifecycle hooks it supports by
// implementing one of these, and dispatch tries each in a fixed order.
// Absence of any of them is not an error — it is treated as "healthy" for
// health checks and "nothing to do" for cleanup.

// HealthCheckMetadataKey is the reserved Candidate.Metadata key for an
// in-process health callable. A candidate registered with a func() bool
// stored under this key has that callable consulted first; only when it is
// absent does probeHealth fall back to the instance's own capability
// interfaces.
const HealthCheckMetadataKey = "health_check"

type healthInterface interface{ Health() bool }
type checkHealthInterface interface{ CheckHealth() bool }
type readyInterface interface{ Ready() bool }
type isHealthyInterface interface{ IsHealthy() bool }

type cleanupInterface interface{ Cleanup() error }
type closeInterface interface{ Close() error }
type shutdownInterface interface{ Shutdown() error }

// probeHealth first consults metadata for a health callable registered
// under HealthCheckMetadataKey, then falls back to the recognized health
// capability interfaces on instance, in order. checked is false when
// neither source yields a health signal — the caller treats that as
// healthy.
func probeHealth(metadata map[string]any, instance any) (healthy bool, checked bool) {
	if fn, ok := metadata[HealthCheckMetadataKey].(func() bool); ok && fn != nil {
		return fn(), true
	}

	switch v := instance.(type) {
	case healthInterface:
		return v.Health(), true
	case checkHealthInterface:
		return v.CheckHealth(), true
	case readyInterface:
		return v.Ready(), true
	case isHealthyInterface:
		return v.IsHealthy(), true
	default:
		return true, false
	}
}

// runCleanup invokes the first recognized cleanup capability on instance.
// A missing capability is not an error.
func runCleanup(instance any) error {
	switch v := instance.(type) {
	case cleanupInterface:
		return v.Cleanup()
	case closeInterface:
		return v.Close()
	case shutdownInterface:
		return v.Shutdown()
	default:
		return nil
	}
}
