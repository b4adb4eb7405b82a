package fd

import (
	"fmt"
	"strings"
)

// Positioning modes for ReadFD.
const (
	ModePage = "page"
	ModeLine = "line"
	ModeChar = "char"
)

// ReadOptions selects what part of a descriptor to read.
type ReadOptions struct {
	// ReadAll returns the entire content regardless of Mode/Start/Count.
	ReadAll bool
	// ExtractToNewFD writes the selection into a fresh descriptor and
	// returns an extraction envelope instead of the content itself.
	ExtractToNewFD bool
	// Mode is one of page (default), line, or char.
	Mode string
	// Start is the 1-based page or line number, or the 0-based character
	// offset in char mode. Defaults to 1 (0 in char mode).
	Start int
	// Count is the number of pages, lines, or characters. Defaults to 1
	// page/line; ignored when ReadAll is set. In char mode it defaults
	// to the page size.
	Count int
}

// ReadFD reads part of a descriptor and renders it as a content envelope.
// Selection errors come back as *Error so callers can surface the error
// envelope to the model.
func (m *Manager) ReadFD(id string, opts ReadOptions) (string, error) {
	content, err := m.Get(id)
	if err != nil {
		return "", err
	}

	runes := []rune(content)
	sections := paginate(runes, m.settings.DefaultPageSize, !m.settings.DisableLineAware)
	pages := len(sections)

	var start, end int
	var pageAttr string

	switch {
	case opts.ReadAll:
		start, end = 0, len(runes)
		pageAttr = "all"

	case opts.Mode == "" || opts.Mode == ModePage:
		page := opts.Start
		if page == 0 {
			page = 1
		}
		if page < 1 || page > pages {
			return "", newError(ErrInvalidPage, id, "page %d out of range: %s has %d pages", page, id, pages)
		}
		count := opts.Count
		if count < 1 {
			count = 1
		}
		last := page + count - 1
		if last > pages {
			last = pages
		}
		start, end = sections[page-1].start, sections[last-1].end
		pageAttr = fmt.Sprintf("%d", page)

	case opts.Mode == ModeLine:
		lines := totalLines(content)
		startLine := opts.Start
		if startLine == 0 {
			startLine = 1
		}
		count := opts.Count
		if count < 1 {
			count = 1
		}
		if startLine < 1 || startLine > lines {
			return "", newError(ErrInvalidRange, id, "line %d out of range: %s has %d lines", startLine, id, lines)
		}
		start, end = lineRange(runes, startLine, count)
		pageAttr = ""

	case opts.Mode == ModeChar:
		startChar := opts.Start
		count := opts.Count
		if count < 1 {
			count = m.settings.DefaultPageSize
		}
		if startChar < 0 || startChar >= len(runes) {
			return "", newError(ErrInvalidRange, id, "character offset %d out of range: %s has %d characters", startChar, id, len(runes))
		}
		start = startChar
		end = startChar + count
		if end > len(runes) {
			end = len(runes)
		}
		pageAttr = ""

	default:
		return "", newError(ErrInvalidMode, id, "invalid positioning mode %q: expected page, line, or char", opts.Mode)
	}

	selection := string(runes[start:end])

	if opts.ExtractToNewFD {
		newID, _ := m.CreateFromContent(selection)
		return fmt.Sprintf("<fd_extraction source_fd=%q new_fd=%q page=%q content_size=\"%d\">\n  Content extracted to %s\n</fd_extraction>",
			id, newID, pageAttr, len([]rune(selection)), newID), nil
	}

	firstLine, lastLine := lineSpan(runes, start, end)
	var b strings.Builder
	fmt.Fprintf(&b, "<fd_content fd=%q", id)
	if pageAttr != "" {
		fmt.Fprintf(&b, " page=%q pages=\"%d\"", pageAttr, pages)
	} else {
		fmt.Fprintf(&b, " mode=%q start=\"%d\" count=\"%d\"", opts.Mode, opts.Start, opts.Count)
	}
	fmt.Fprintf(&b, " continued=%q truncated=%q lines=\"%d-%d\" total_lines=\"%d\">\n%s\n</fd_content>",
		boolAttr(continuedFrom(runes, start)), boolAttr(truncatedAt(runes, end)),
		firstLine, lastLine, totalLines(content), selection)
	return b.String(), nil
}

// lineRange converts a 1-based start line and line count to rune offsets.
// The range is clamped to the end of content.
func lineRange(runes []rune, startLine, count int) (int, int) {
	line := 1
	start := 0
	for i := 0; i < len(runes) && line < startLine; i++ {
		if runes[i] == '\n' {
			line++
			start = i + 1
		}
	}
	end := start
	remaining := count
	for end < len(runes) {
		if runes[end] == '\n' {
			remaining--
			if remaining == 0 {
				end++
				break
			}
		}
		end++
	}
	return start, end
}
