// Package fd implements the file descriptor subsystem: oversized content is
// parked under a handle (fd:1, fd:2, ... or ref:<name>) and read back page
// by page, so large tool outputs never flood the conversation window.
package fd

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cccntu/llmproc/pkg/models"
)

// Settings controls pagination thresholds. Zero values fall back to the
// defaults below.
type Settings struct {
	// DefaultPageSize is the page size in characters for stored content.
	DefaultPageSize int
	// MaxDirectOutput is the tool output size above which the executor
	// wraps the output into a descriptor.
	MaxDirectOutput int
	// MaxInputChars is the user input size above which input is wrapped
	// into a descriptor, when PageUserInput is set.
	MaxInputChars int
	// PagePerTurn is the preview size used when wrapping user input.
	PagePerTurn int
	// PageUserInput enables wrapping of oversized user input.
	PageUserInput bool
	// DisableLineAware turns off line-aware page breaks.
	DisableLineAware bool
}

const (
	defaultPageSize   = 4000
	defaultMaxDirect  = 8000
	defaultMaxInput   = 8000
	defaultPerTurn    = 2000
	defaultPreviewLen = 1500
)

func (s Settings) withDefaults() Settings {
	if s.DefaultPageSize <= 0 {
		s.DefaultPageSize = defaultPageSize
	}
	if s.MaxDirectOutput <= 0 {
		s.MaxDirectOutput = defaultMaxDirect
	}
	if s.MaxInputChars <= 0 {
		s.MaxInputChars = defaultMaxInput
	}
	if s.PagePerTurn <= 0 {
		s.PagePerTurn = defaultPerTurn
	}
	return s
}

var refNameRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// Manager owns the descriptor table for one process. All methods are safe
// for concurrent use; forked processes get an independent deep copy.
type Manager struct {
	mu       sync.Mutex
	settings Settings
	entries  map[string]string
	nextID   int

	// fdTools holds tool names whose output is never auto-wrapped,
	// otherwise reading a descriptor could recursively create one.
	fdTools map[string]bool

	logger *slog.Logger
}

// NewManager builds a manager with the given settings.
func NewManager(settings Settings, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		settings: settings.withDefaults(),
		entries:  make(map[string]string),
		nextID:   1,
		fdTools:  map[string]bool{"read_fd": true, "fd_to_file": true},
		logger:   logger.With("component", "fd"),
	}
}

// Settings returns the effective settings.
func (m *Manager) Settings() Settings {
	return m.settings
}

// RegisterFDTool marks a tool whose output must never be auto-wrapped.
func (m *Manager) RegisterFDTool(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fdTools[name] = true
}

// CreateFromContent stores content under the next sequential descriptor and
// returns its ID along with the result envelope (first-page preview plus
// pagination metadata) to hand to the model.
func (m *Manager) CreateFromContent(content string) (string, string) {
	m.mu.Lock()
	id := fmt.Sprintf("fd:%d", m.nextID)
	m.nextID++
	m.entries[id] = content
	m.mu.Unlock()

	m.logger.Debug("created file descriptor", "fd", id, "size", len(content))
	return id, m.resultEnvelope(id, content)
}

// CreateReference stores content under ref:<name>. Unlike sequential
// descriptors, references may be overwritten by a later write to the same
// name.
func (m *Manager) CreateReference(name, content string) (string, error) {
	if !refNameRe.MatchString(name) {
		return "", newError(ErrInvalidReference, "ref:"+name, "invalid reference name %q", name)
	}
	id := "ref:" + name
	m.mu.Lock()
	m.entries[id] = content
	m.mu.Unlock()
	m.logger.Debug("created reference descriptor", "fd", id, "size", len(content))
	return id, nil
}

// Get returns the raw stored content for a descriptor.
func (m *Manager) Get(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	m.mu.Lock()
	content, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return "", newError(ErrNotFound, id, "file descriptor %s not found", id)
	}
	return content, nil
}

// Exists reports whether a descriptor is present.
func (m *Manager) Exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[id]
	return ok
}

// Set stores content under an existing-style ID without envelope rendering.
// Used when copying descriptors between processes (spawn, fork).
func (m *Manager) Set(id, content string) error {
	if err := validateID(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = content
	if n, ok := sequentialIndex(id); ok && n >= m.nextID {
		m.nextID = n + 1
	}
	return nil
}

// IDs returns all descriptor IDs in sorted order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Copy returns an independent manager with the same settings and a deep
// copy of every entry.
func (m *Manager) Copy() *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := &Manager{
		settings: m.settings,
		entries:  make(map[string]string, len(m.entries)),
		nextID:   m.nextID,
		fdTools:  make(map[string]bool, len(m.fdTools)),
		logger:   m.logger,
	}
	for id, content := range m.entries {
		clone.entries[id] = content
	}
	for name := range m.fdTools {
		clone.fdTools[name] = true
	}
	return clone
}

// WrapToolOutput replaces an oversized successful tool result with a
// descriptor envelope. Error results, results from fd tools, and results
// under the threshold pass through untouched.
func (m *Manager) WrapToolOutput(toolName string, res *models.ToolResult) *models.ToolResult {
	if res == nil || res.IsError {
		return res
	}
	m.mu.Lock()
	skip := m.fdTools[toolName]
	m.mu.Unlock()
	if skip || len([]rune(res.Content)) <= m.settings.MaxDirectOutput {
		return res
	}
	id, envelope := m.CreateFromContent(res.Content)
	m.logger.Info("wrapped oversized tool output", "tool", toolName, "fd", id, "size", len(res.Content))
	return &models.ToolResult{Content: envelope, Abort: res.Abort}
}

// WrapUserInput wraps oversized user input into a descriptor, returning the
// replacement message text and whether wrapping happened.
func (m *Manager) WrapUserInput(input string) (string, bool) {
	if !m.settings.PageUserInput {
		return input, false
	}
	runes := []rune(input)
	if len(runes) <= m.settings.MaxInputChars {
		return input, false
	}
	id, _ := m.CreateFromContent(input)
	preview := string(runes[:m.settings.PagePerTurn])
	msg := fmt.Sprintf("<fd:%s preview=%q type=\"user_input\" size=\"%d\">\nThis large user input has been stored in file descriptor %s. Use read_fd(fd=%q, read_all=true) to access the full content.",
		strings.TrimPrefix(id, "fd:"), preview, len(runes), id, id)
	m.logger.Info("wrapped oversized user input", "fd", id, "size", len(runes))
	return msg, true
}

// resultEnvelope renders the creation envelope with a first-page preview.
func (m *Manager) resultEnvelope(id, content string) string {
	runes := []rune(content)
	sections := paginate(runes, m.settings.DefaultPageSize, !m.settings.DisableLineAware)
	first := sections[0]
	firstLine, lastLine := lineSpan(runes, first.start, first.end)
	truncated := len(sections) > 1

	preview := string(runes[first.start:first.end])
	if len([]rune(preview)) > defaultPreviewLen {
		preview = string([]rune(preview)[:defaultPreviewLen])
	}
	return fmt.Sprintf("<fd_result fd=%q pages=\"%d\" truncated=%q lines=\"%d-%d\" total_lines=\"%d\">\n%s\n</fd_result>",
		id, len(sections), boolAttr(truncated), firstLine, lastLine, totalLines(content), preview)
}

func boolAttr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func validateID(id string) error {
	if strings.HasPrefix(id, "ref:") {
		if !refNameRe.MatchString(strings.TrimPrefix(id, "ref:")) {
			return newError(ErrInvalidReference, id, "invalid reference identifier %q", id)
		}
		return nil
	}
	if _, ok := sequentialIndex(id); !ok {
		return newError(ErrNotFound, id, "invalid file descriptor identifier %q: expected fd:<n> or ref:<name>", id)
	}
	return nil
}

func sequentialIndex(id string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(id, "fd:%d", &n); err != nil || n < 1 || id != fmt.Sprintf("fd:%d", n) {
		return 0, false
	}
	return n, true
}
