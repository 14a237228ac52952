// Package alerts surfaces conditions that need a human: workers that exhausted
// their restart budget, recovered panics. Alerts are written as JSON files plus
// a markdown summary that the desktop shell can show.
package alerts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Level represents alert severity
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Alert represents a system alert
type Alert struct {
	ID        string                 `json:"id"`
	Level     Level                  `json:"level"`
	Component string                 `json:"component"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Resolved  bool                   `json:"resolved"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Manager handles alert creation and persistence
type Manager struct {
	mu            sync.RWMutex
	alertDir      string
	alerts        []Alert
	maxAlerts     int
	maxAlertFiles int
}

var (
	globalMu      sync.RWMutex
	globalManager *Manager
)

// SetGlobal installs m as the process-wide manager. Passing nil disables the
// package-level convenience functions.
func SetGlobal(m *Manager) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalManager = m
}

// Global returns the process-wide manager, or nil when none is installed.
func Global() *Manager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalManager
}

// NewManager creates a new alert manager rooted at alertDir.
func NewManager(alertDir string) (*Manager, error) {
	if err := os.MkdirAll(alertDir, 0755); err != nil {
		return nil, fmt.Errorf("create alert dir: %w", err)
	}
	m := &Manager{
		alertDir:      alertDir,
		alerts:        make([]Alert, 0),
		maxAlerts:     100,
		maxAlertFiles: 100,
	}
	m.loadFromDisk()
	m.rotateOldFiles()
	return m, nil
}

// Dir returns the directory alerts are written to.
func (m *Manager) Dir() string {
	return m.alertDir
}

func (m *Manager) loadFromDisk() {
	data, err := os.ReadFile(filepath.Join(m.alertDir, "active.json"))
	if err != nil {
		return
	}

	var summary struct {
		Alerts []Alert `json:"alerts"`
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return
	}

	m.alerts = summary.Alerts
}

// Send creates and persists a new alert
func (m *Manager) Send(level Level, component, title, message string, ctx map[string]interface{}) *Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert := Alert{
		ID:        "alert-" + strings.ToLower(ulid.Make().String()),
		Level:     level,
		Component: component,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Context:   ctx,
	}

	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > m.maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-m.maxAlerts:]
	}

	m.persistAlert(&alert)
	m.updateActiveAlerts()

	return &alert
}

// Resolve marks an alert as resolved. Unknown ids are ignored.
func (m *Manager) Resolve(alertID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.alerts {
		if m.alerts[i].ID == alertID {
			m.alerts[i].Resolved = true
			break
		}
	}

	m.updateActiveAlerts()
}

// GetActive returns all unresolved alerts
func (m *Manager) GetActive() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make([]Alert, 0)
	for _, a := range m.alerts {
		if !a.Resolved {
			active = append(active, a)
		}
	}
	return active
}

// GetRecent returns the most recent alerts
func (m *Manager) GetRecent(count int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if count > len(m.alerts) {
		count = len(m.alerts)
	}
	out := make([]Alert, count)
	copy(out, m.alerts[len(m.alerts)-count:])
	return out
}

func (m *Manager) persistAlert(alert *Alert) {
	filename := filepath.Join(m.alertDir, alert.ID+".json")
	data, _ := json.MarshalIndent(alert, "", "  ")
	os.WriteFile(filename, data, 0644)

	if len(m.alerts)%10 == 0 {
		m.rotateOldFiles()
	}
}

// rotateOldFiles removes the oldest alert-*.json files beyond maxAlertFiles.
func (m *Manager) rotateOldFiles() {
	entries, err := os.ReadDir(m.alertDir)
	if err != nil {
		return
	}

	type alertFile struct {
		name    string
		modTime time.Time
	}
	var alertFiles []alertFile

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "alert-") && filepath.Ext(name) == ".json" {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			alertFiles = append(alertFiles, alertFile{name: name, modTime: info.ModTime()})
		}
	}

	if len(alertFiles) <= m.maxAlertFiles {
		return
	}

	// ULID names sort by creation time; mod time breaks ties across restarts.
	sort.Slice(alertFiles, func(i, j int) bool {
		if !alertFiles[i].modTime.Equal(alertFiles[j].modTime) {
			return alertFiles[i].modTime.Before(alertFiles[j].modTime)
		}
		return alertFiles[i].name < alertFiles[j].name
	})

	toRemove := len(alertFiles) - m.maxAlertFiles
	for i := 0; i < toRemove; i++ {
		os.Remove(filepath.Join(m.alertDir, alertFiles[i].name))
	}
}

func (m *Manager) updateActiveAlerts() {
	active := make([]Alert, 0)
	for _, a := range m.alerts {
		if !a.Resolved {
			active = append(active, a)
		}
	}

	summary := struct {
		Count     int       `json:"count"`
		Updated   time.Time `json:"updated"`
		Alerts    []Alert   `json:"alerts"`
		HasErrors bool      `json:"has_errors"`
	}{
		Count:   len(active),
		Updated: time.Now().UTC(),
		Alerts:  active,
	}

	for _, a := range active {
		if a.Level == LevelError || a.Level == LevelCritical {
			summary.HasErrors = true
			break
		}
	}

	data, _ := json.MarshalIndent(summary, "", "  ")
	os.WriteFile(filepath.Join(m.alertDir, "active.json"), data, 0644)

	m.writeSummary(active)
}

// writeSummary renders active alerts as markdown for the status panel.
func (m *Manager) writeSummary(alerts []Alert) {
	path := filepath.Join(m.alertDir, "alerts.md")
	if len(alerts) == 0 {
		os.WriteFile(path, []byte("# Runtime Status\n\nNo active alerts\n"), 0644)
		return
	}

	var sb strings.Builder
	sb.WriteString("# ACTIVE RUNTIME ALERTS\n\n")
	fmt.Fprintf(&sb, "**%d active alert(s)** - Last updated: %s\n\n", len(alerts), time.Now().UTC().Format(time.RFC3339))

	for _, a := range alerts {
		fmt.Fprintf(&sb, "## [%s] %s\n\n", a.Level, a.Title)
		fmt.Fprintf(&sb, "**Component:** %s\n", a.Component)
		fmt.Fprintf(&sb, "**Time:** %s\n\n", a.Timestamp.Format(time.RFC3339))
		fmt.Fprintf(&sb, "%s\n\n", a.Message)

		if len(a.Context) > 0 {
			sb.WriteString("**Context:**\n```json\n")
			ctx, _ := json.MarshalIndent(a.Context, "", "  ")
			sb.Write(ctx)
			sb.WriteString("\n```\n\n")
		}

		sb.WriteString("---\n\n")
	}

	os.WriteFile(path, []byte(sb.String()), 0644)
}

// Convenience functions. All are no-ops returning nil without a global manager.

// Warning sends a warning-level alert
func Warning(component, title, message string) *Alert {
	if m := Global(); m != nil {
		return m.Send(LevelWarning, component, title, message, nil)
	}
	return nil
}

// Error sends an error-level alert
func Error(component, title, message string, ctx map[string]interface{}) *Alert {
	if m := Global(); m != nil {
		return m.Send(LevelError, component, title, message, ctx)
	}
	return nil
}

// Critical sends a critical-level alert
func Critical(component, title, message string, ctx map[string]interface{}) *Alert {
	if m := Global(); m != nil {
		return m.Send(LevelCritical, component, title, message, ctx)
	}
	return nil
}
