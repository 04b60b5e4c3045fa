// Package events provides event types and channel-based pub/sub for the
// Command/Event Surface (spec.md section 4.9, section 6).
package events

import (
	"time"

	"github.com/openrunner/openrunner/internal/domain"
)

// EventType discriminates the push events the UI receives.
type EventType string

const (
	// EventProcessStatusChanged reports a project's state-machine transition.
	EventProcessStatusChanged EventType = "process_status_changed"
	// EventProcessLog carries one stdout/stderr chunk.
	EventProcessLog EventType = "process_log"
	// EventProcessStatsUpdated carries a full CPU/RSS snapshot.
	EventProcessStatsUpdated EventType = "process_stats_updated"
	// EventYamlFileChanged fires on an accepted (non-suppressed) YAML edit.
	EventYamlFileChanged EventType = "yaml_file_changed"
	// EventConfigReloaded fires after a YAML reload lands in the Config Store.
	EventConfigReloaded EventType = "config_reloaded"
)

// Event is a published message, routed to subscribers of ProjectID (or the
// wildcard GlobalTaskID subscription).
type Event struct {
	Type      EventType `json:"type"`
	ProjectID string    `json:"projectId"`
	Data      any       `json:"data"`
	Time      time.Time `json:"time"`
}

// NewEvent creates an Event with the current timestamp.
func NewEvent(eventType EventType, projectID string, data any) Event {
	return Event{Type: eventType, ProjectID: projectID, Data: data, Time: time.Now()}
}

// ProcessLogData is the payload of EventProcessLog.
type ProcessLogData struct {
	ProjectID string           `json:"projectId"`
	Stream    domain.LogStream `json:"stream"`
	Data      string           `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

// YamlFileChangedData is the payload of EventYamlFileChanged.
type YamlFileChangedData struct {
	GroupID  string `json:"groupId"`
	FilePath string `json:"filePath"`
}

// ConfigReloadedData is the payload of EventConfigReloaded.
type ConfigReloadedData struct {
	Groups []domain.Group `json:"groups"`
}
