// Package remote implements the Remote Manifest Pipeline: fetching,
// verifying, and registering signed manifests of candidates, plus a
// scheduled refresh loop.
package remote

// RetryPolicy mirrors the entry-level retry hints a manifest entry may
// carry, distinct from the loader's own fetch-retry policy.
type RetryPolicy struct {
	Attempts              int      `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	BaseDelaySeconds       float64  `json:"base_delay,omitempty" yaml:"base_delay,omitempty"`
	MaxDelaySeconds        float64  `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	Jitter                 float64  `json:"jitter,omitempty" yaml:"jitter,omitempty"`
	RetriableStatusCodes   []int    `json:"retriable_status_codes,omitempty" yaml:"retriable_status_codes,omitempty"`
}

// EventFilter is one event-bridge filter entry, e.g. {"path": "...",
// "equals": "..."} or {"path": "...", "exists": true}.
type EventFilter struct {
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Equals  string `json:"equals,omitempty" yaml:"equals,omitempty"`
	AnyOf   []string `json:"any_of,omitempty" yaml:"any_of,omitempty"`
	Exists  *bool  `json:"exists,omitempty" yaml:"exists,omitempty"`
}

// WorkflowNode is one node of a workflow candidate's DAG, consumed by an
// external executor, not by this core.
type WorkflowNode struct {
	ID        string   `json:"id" yaml:"id"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Task      string   `json:"task,omitempty" yaml:"task,omitempty"`
}

// WorkflowDAG describes a workflow candidate's execution graph.
type WorkflowDAG struct {
	Nodes       []WorkflowNode `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	RetryPolicy *RetryPolicy   `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
	Scheduler   string         `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
}

// ManifestEntry is one candidate registration carried by a RemoteManifest.
type ManifestEntry struct {
	Domain   string `json:"domain" yaml:"domain"`
	Key      string `json:"key" yaml:"key"`
	Provider string `json:"provider" yaml:"provider"`
	Factory  string `json:"factory" yaml:"factory"`

	URI        string `json:"uri,omitempty" yaml:"uri,omitempty"`
	SHA256     string `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	StackLevel int    `json:"stack_level,omitempty" yaml:"stack_level,omitempty"`
	Priority   int    `json:"priority,omitempty" yaml:"priority,omitempty"`
	Version    string `json:"version,omitempty" yaml:"version,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Capabilities     []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Owner            string   `json:"owner,omitempty" yaml:"owner,omitempty"`
	RequiresSecrets  []string `json:"requires_secrets,omitempty" yaml:"requires_secrets,omitempty"`
	SettingsModel    string   `json:"settings_model,omitempty" yaml:"settings_model,omitempty"`
	SideEffectFree   bool     `json:"side_effect_free,omitempty" yaml:"side_effect_free,omitempty"`
	TimeoutSeconds   float64  `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	RetryPolicy      *RetryPolicy `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
	Requires         []string `json:"requires,omitempty" yaml:"requires,omitempty"`
	ConflictsWith    []string `json:"conflicts_with,omitempty" yaml:"conflicts_with,omitempty"`
	PythonVersion    string   `json:"python_version,omitempty" yaml:"python_version,omitempty"`
	OSPlatform       []string `json:"os_platform,omitempty" yaml:"os_platform,omitempty"`
	License          string   `json:"license,omitempty" yaml:"license,omitempty"`
	DocumentationURL string   `json:"documentation_url,omitempty" yaml:"documentation_url,omitempty"`

	EventTopics       []string      `json:"event_topics,omitempty" yaml:"event_topics,omitempty"`
	EventFilters      []EventFilter `json:"event_filters,omitempty" yaml:"event_filters,omitempty"`
	EventPriority     int           `json:"event_priority,omitempty" yaml:"event_priority,omitempty"`
	EventFanoutPolicy string        `json:"event_fanout_policy,omitempty" yaml:"event_fanout_policy,omitempty"`

	Workflow *WorkflowDAG `json:"workflow,omitempty" yaml:"workflow,omitempty"`
}

// Validate checks the required fields and malformed optional fields called
// out in the manifest schema (§6): missing domain/key/provider/factory,
// malformed digest, unsupported OS platform values.
func (e ManifestEntry) Validate() error {
	if e.Domain == "" || e.Key == "" || e.Provider == "" || e.Factory == "" {
		return errMissingRequiredField
	}
	if e.SHA256 != "" && !isHexSHA256(e.SHA256) {
		return errMalformedDigest
	}
	for _, platform := range e.OSPlatform {
		if !supportedPlatforms[platform] {
			return errUnsupportedPlatform
		}
	}
	return nil
}

var supportedPlatforms = map[string]bool{
	"linux": true, "darwin": true, "windows": true,
}

func isHexSHA256(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

// RemoteManifest is the top-level document fetched from a manifest source.
type RemoteManifest struct {
	Source             string          `json:"source" yaml:"source"`
	Entries            []ManifestEntry `json:"entries" yaml:"entries"`
	Signature          string          `json:"signature,omitempty" yaml:"signature,omitempty"`
	SignatureAlgorithm string          `json:"signature_algorithm,omitempty" yaml:"signature_algorithm,omitempty"`
}

// Validate checks the manifest's own required fields and every entry.
func (m RemoteManifest) Validate() error {
	if m.Source == "" {
		return errMissingRequiredField
	}
	for _, entry := range m.Entries {
		if err := entry.Validate(); err != nil {
			return err
		}
	}
	return nil
}
