package fd

import "strings"

// section is one page of content, expressed as rune offsets into the stored
// content. end is exclusive.
type section struct {
	start int
	end   int
}

// paginate splits content into pages of at most pageSize runes. When
// lineAware is set, a page breaks after the last newline inside its window;
// a window with no newline is a single oversized line and takes the full
// window (a hard character break). A pageSize <= 0 yields a single section
// covering everything.
func paginate(content []rune, pageSize int, lineAware bool) []section {
	if len(content) == 0 {
		return []section{{0, 0}}
	}
	if pageSize <= 0 || len(content) <= pageSize {
		return []section{{0, len(content)}}
	}

	var sections []section
	pos := 0
	for pos < len(content) {
		end := pos + pageSize
		if end >= len(content) {
			sections = append(sections, section{pos, len(content)})
			break
		}
		if lineAware {
			window := content[pos:end]
			if nl := lastIndexRune(window, '\n'); nl >= 0 {
				end = pos + nl + 1
			}
		}
		sections = append(sections, section{pos, end})
		pos = end
	}
	return sections
}

func lastIndexRune(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

// totalLines counts logical lines: a trailing newline does not open a new
// line, so "a\nb\n" has two lines. Empty content has zero.
func totalLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}

// lineSpan reports the 1-based first and last line numbers touched by the
// rune range [start, end) of content.
func lineSpan(content []rune, start, end int) (int, int) {
	if len(content) == 0 || start >= end {
		return 0, 0
	}
	first := 1
	for i := 0; i < start; i++ {
		if content[i] == '\n' {
			first++
		}
	}
	last := first
	for i := start; i < end-1; i++ {
		if content[i] == '\n' {
			last++
		}
	}
	// A section ending exactly on a newline still belongs to the line the
	// newline terminates, which the loop above already counted.
	return first, last
}

// continuedFrom reports whether the section starts mid-line.
func continuedFrom(content []rune, start int) bool {
	return start > 0 && content[start-1] != '\n'
}

// truncatedAt reports whether the section ends mid-line.
func truncatedAt(content []rune, end int) bool {
	return end < len(content) && content[end-1] != '\n'
}
