package fd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cccntu/llmproc/pkg/models"
)

func testManager(t *testing.T, s Settings) *Manager {
	t.Helper()
	return NewManager(s, nil)
}

func TestSequentialIDs(t *testing.T) {
	m := testManager(t, Settings{})

	id1, _ := m.CreateFromContent("first")
	id2, _ := m.CreateFromContent("second")

	if id1 != "fd:1" || id2 != "fd:2" {
		t.Fatalf("expected fd:1, fd:2; got %s, %s", id1, id2)
	}

	content, err := m.Get("fd:2")
	if err != nil {
		t.Fatalf("Get(fd:2): %v", err)
	}
	if content != "second" {
		t.Errorf("expected %q, got %q", "second", content)
	}
}

func TestGetUnknownAndMalformed(t *testing.T) {
	m := testManager(t, Settings{})

	for _, id := range []string{"fd:99", "fd:0", "fd:abc", "bogus", "fd:1 ", ""} {
		if _, err := m.Get(id); err == nil {
			t.Errorf("Get(%q): expected error", id)
		}
	}
}

func TestCreateEnvelopeSmallContent(t *testing.T) {
	m := testManager(t, Settings{})

	_, envelope := m.CreateFromContent("line one\nline two")
	for _, want := range []string{`fd="fd:1"`, `pages="1"`, `truncated="false"`, `total_lines="2"`} {
		if !strings.Contains(envelope, want) {
			t.Errorf("envelope missing %s:\n%s", want, envelope)
		}
	}
}

func TestLineAwarePagination(t *testing.T) {
	// 10 lines of 9 chars each (8 + newline); page size 25 forces breaks,
	// and every break must land on a line boundary because each window
	// contains a newline.
	var b strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "line %03d\n", i)
	}
	content := []rune(b.String())

	sections := paginate(content, 25, true)
	if len(sections) < 2 {
		t.Fatalf("expected multiple pages, got %d", len(sections))
	}
	for i, s := range sections {
		if s.end < len(content) && content[s.end-1] != '\n' {
			t.Errorf("page %d ends mid-line at offset %d", i+1, s.end)
		}
	}
}

func TestLineAwareBreakBeforeLongLine(t *testing.T) {
	// A short line followed by a line longer than the page size: the first
	// page holds only the whole short line, then the long line is split at
	// page-size boundaries.
	content := []rune(strings.Repeat("a", 40) + "\n" + strings.Repeat("b", 120))
	sections := paginate(content, 100, true)

	if len(sections) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(sections))
	}
	if sections[0].end != 41 {
		t.Errorf("page 1 should end after the short line at 41, got %d", sections[0].end)
	}
	if got := sections[1].end - sections[1].start; got != 100 {
		t.Errorf("page 2 should be a 100-char hard break, got %d", got)
	}
	if sections[2].end != len(content) {
		t.Errorf("page 3 should cover the remainder, ends at %d", sections[2].end)
	}
}

func TestPaginationHardBreakWithoutNewlines(t *testing.T) {
	content := []rune(strings.Repeat("x", 100))
	sections := paginate(content, 30, true)

	if len(sections) != 4 {
		t.Fatalf("expected 4 pages, got %d", len(sections))
	}
	for i, s := range sections[:3] {
		if s.end-s.start != 30 {
			t.Errorf("page %d: expected hard break at 30 chars, got %d", i+1, s.end-s.start)
		}
	}
}

func TestPaginationCoversAllContent(t *testing.T) {
	content := []rune("alpha\nbeta\ngamma\ndelta\nepsilon\nzeta\n")
	sections := paginate(content, 12, true)

	pos := 0
	for i, s := range sections {
		if s.start != pos {
			t.Fatalf("page %d starts at %d, expected %d (gap or overlap)", i+1, s.start, pos)
		}
		pos = s.end
	}
	if pos != len(content) {
		t.Errorf("pages cover %d of %d chars", pos, len(content))
	}
}

func TestLineRangeContinuity(t *testing.T) {
	// Adjacent pages must have contiguous line ranges when pages break on
	// line boundaries.
	var b strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, "row %04d\n", i)
	}
	runes := []rune(b.String())
	sections := paginate(runes, 100, true)
	if len(sections) < 3 {
		t.Fatalf("expected at least 3 pages, got %d", len(sections))
	}

	prevLast := 0
	for i, s := range sections {
		first, last := lineSpan(runes, s.start, s.end)
		if i > 0 && first != prevLast+1 {
			t.Errorf("page %d starts at line %d, previous ended at %d", i+1, first, prevLast)
		}
		prevLast = last
	}
}

func TestReadFDPages(t *testing.T) {
	m := testManager(t, Settings{DefaultPageSize: 20})

	var b strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	id, _ := m.CreateFromContent(b.String())

	page1, err := m.ReadFD(id, ReadOptions{})
	if err != nil {
		t.Fatalf("ReadFD page 1: %v", err)
	}
	if !strings.Contains(page1, `page="1"`) || !strings.Contains(page1, "line 0") {
		t.Errorf("unexpected page 1 envelope:\n%s", page1)
	}

	page2, err := m.ReadFD(id, ReadOptions{Start: 2})
	if err != nil {
		t.Fatalf("ReadFD page 2: %v", err)
	}
	if !strings.Contains(page2, `page="2"`) {
		t.Errorf("unexpected page 2 envelope:\n%s", page2)
	}

	if _, err := m.ReadFD(id, ReadOptions{Start: 99}); err == nil {
		t.Error("expected invalid_page error for out-of-range page")
	} else if fe, ok := err.(*Error); !ok || fe.Type != ErrInvalidPage {
		t.Errorf("expected invalid_page, got %v", err)
	}
}

func TestReadFDReadAll(t *testing.T) {
	m := testManager(t, Settings{DefaultPageSize: 10})
	content := strings.Repeat("abcde\n", 20)
	id, _ := m.CreateFromContent(content)

	out, err := m.ReadFD(id, ReadOptions{ReadAll: true})
	if err != nil {
		t.Fatalf("ReadFD read_all: %v", err)
	}
	if !strings.Contains(out, `page="all"`) || !strings.Contains(out, content) {
		t.Errorf("read_all envelope missing full content:\n%s", out[:min(len(out), 200)])
	}
}

func TestReadFDLineMode(t *testing.T) {
	m := testManager(t, Settings{})
	id, _ := m.CreateFromContent("one\ntwo\nthree\nfour\n")

	out, err := m.ReadFD(id, ReadOptions{Mode: ModeLine, Start: 2, Count: 2})
	if err != nil {
		t.Fatalf("ReadFD line mode: %v", err)
	}
	if !strings.Contains(out, "two\nthree\n") {
		t.Errorf("expected lines 2-3, got:\n%s", out)
	}
	if !strings.Contains(out, `lines="2-3"`) {
		t.Errorf("expected lines attr 2-3:\n%s", out)
	}

	if _, err := m.ReadFD(id, ReadOptions{Mode: ModeLine, Start: 50}); err == nil {
		t.Error("expected invalid_range for out-of-range start line")
	}
}

func TestReadFDCharMode(t *testing.T) {
	m := testManager(t, Settings{})
	id, _ := m.CreateFromContent("0123456789")

	out, err := m.ReadFD(id, ReadOptions{Mode: ModeChar, Start: 3, Count: 4})
	if err != nil {
		t.Fatalf("ReadFD char mode: %v", err)
	}
	if !strings.Contains(out, "\n3456\n") {
		t.Errorf("expected chars 3-6, got:\n%s", out)
	}

	if _, err := m.ReadFD(id, ReadOptions{Mode: ModeChar, Start: 100}); err == nil {
		t.Error("expected invalid_range for out-of-range char offset")
	}
}

func TestReadFDInvalidMode(t *testing.T) {
	m := testManager(t, Settings{})
	id, _ := m.CreateFromContent("content")

	_, err := m.ReadFD(id, ReadOptions{Mode: "paragraph"})
	if err == nil {
		t.Fatal("expected invalid_mode error")
	}
	if fe, ok := err.(*Error); !ok || fe.Type != ErrInvalidMode {
		t.Errorf("expected invalid_mode, got %v", err)
	}
}

func TestExtractToNewFD(t *testing.T) {
	m := testManager(t, Settings{DefaultPageSize: 10})
	content := strings.Repeat("abc\n", 30)
	id, _ := m.CreateFromContent(content)

	out, err := m.ReadFD(id, ReadOptions{Start: 2, ExtractToNewFD: true})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	for _, want := range []string{`source_fd="fd:1"`, `new_fd="fd:2"`, "<fd_extraction"} {
		if !strings.Contains(out, want) {
			t.Errorf("extraction envelope missing %s:\n%s", want, out)
		}
	}

	// The new descriptor must hold exactly the extracted selection.
	extracted, err := m.Get("fd:2")
	if err != nil {
		t.Fatalf("Get(fd:2): %v", err)
	}
	if !strings.Contains(content, extracted) || extracted == "" {
		t.Errorf("extracted content is not a selection of the source")
	}
}

func TestReferenceDescriptors(t *testing.T) {
	m := testManager(t, Settings{})

	id, err := m.CreateReference("summary", "v1")
	if err != nil {
		t.Fatalf("CreateReference: %v", err)
	}
	if id != "ref:summary" {
		t.Fatalf("expected ref:summary, got %s", id)
	}

	// Overwriting a reference is allowed.
	if _, err := m.CreateReference("summary", "v2"); err != nil {
		t.Fatalf("overwrite reference: %v", err)
	}
	content, _ := m.Get("ref:summary")
	if content != "v2" {
		t.Errorf("expected overwritten content v2, got %q", content)
	}

	if _, err := m.CreateReference("bad name!", "x"); err == nil {
		t.Error("expected invalid_reference error for malformed name")
	}
}

func TestWriteToFileMatrix(t *testing.T) {
	m := testManager(t, Settings{})
	id, _ := m.CreateFromContent("payload")

	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.txt")
	if err := os.WriteFile(existing, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		opts    WriteOptions
		wantErr ErrorType
		want    string
	}{
		{"create new", filepath.Join(dir, "new1.txt"), WriteOptions{Mode: "write", Create: true, ExistOK: true}, "", "payload"},
		{"overwrite existing", existing, WriteOptions{Mode: "write", Create: true, ExistOK: true}, "", "payload"},
		{"create only, exists", existing, WriteOptions{Mode: "write", Create: true, ExistOK: false}, ErrFileExists, ""},
		{"overwrite only, missing", filepath.Join(dir, "missing.txt"), WriteOptions{Mode: "write", Create: false, ExistOK: true}, ErrFileNotFound, ""},
		{"append creates", filepath.Join(dir, "new2.txt"), WriteOptions{Mode: "append", Create: true, ExistOK: true}, "", "payload"},
		{"append only, missing", filepath.Join(dir, "missing2.txt"), WriteOptions{Mode: "append", Create: false, ExistOK: true}, ErrFileNotFound, ""},
		{"contradictory flags", filepath.Join(dir, "never.txt"), WriteOptions{Mode: "write", Create: false, ExistOK: false}, ErrInvalidMode, ""},
		{"bad mode", filepath.Join(dir, "never2.txt"), WriteOptions{Mode: "truncate", Create: true, ExistOK: true}, ErrInvalidMode, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.WriteToFile(id, tt.path, tt.opts)
			if tt.wantErr != "" {
				fe, ok := err.(*Error)
				if !ok || fe.Type != tt.wantErr {
					t.Fatalf("expected %s error, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			data, readErr := os.ReadFile(tt.path)
			if readErr != nil {
				t.Fatalf("read back: %v", readErr)
			}
			if string(data) != tt.want {
				t.Errorf("expected %q on disk, got %q", tt.want, string(data))
			}
		})
	}
}

func TestWriteToFileAppendAppends(t *testing.T) {
	m := testManager(t, Settings{})
	id, _ := m.CreateFromContent("-more")

	path := filepath.Join(t.TempDir(), "log.txt")
	if err := os.WriteFile(path, []byte("base"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.WriteToFile(id, path, WriteOptions{Mode: "append", Create: false, ExistOK: true}); err != nil {
		t.Fatalf("append: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "base-more" {
		t.Errorf("expected appended content, got %q", string(data))
	}
}

func TestWrapToolOutput(t *testing.T) {
	m := testManager(t, Settings{MaxDirectOutput: 50})

	small := models.NewToolResult("short output")
	if got := m.WrapToolOutput("some_tool", small); got != small {
		t.Error("small output should pass through untouched")
	}

	large := models.NewToolResult(strings.Repeat("z", 100))
	wrapped := m.WrapToolOutput("some_tool", large)
	if wrapped == large {
		t.Fatal("large output should be wrapped")
	}
	if !strings.Contains(wrapped.Content, "<fd_result") {
		t.Errorf("wrapped result should carry an fd_result envelope:\n%s", wrapped.Content)
	}

	// Error results and fd tool outputs are never wrapped.
	errRes := models.ErrorResult(strings.Repeat("z", 100))
	if got := m.WrapToolOutput("some_tool", errRes); got != errRes {
		t.Error("error results should pass through untouched")
	}
	fdRes := models.NewToolResult(strings.Repeat("z", 100))
	if got := m.WrapToolOutput("read_fd", fdRes); got != fdRes {
		t.Error("fd tool output should never be wrapped")
	}
}

func TestWrapUserInput(t *testing.T) {
	m := testManager(t, Settings{MaxInputChars: 20, PagePerTurn: 5, PageUserInput: true})

	if msg, wrapped := m.WrapUserInput("short"); wrapped || msg != "short" {
		t.Error("short input should pass through")
	}

	long := strings.Repeat("q", 50)
	msg, wrapped := m.WrapUserInput(long)
	if !wrapped {
		t.Fatal("long input should be wrapped")
	}
	if !strings.Contains(msg, "fd:1") || !strings.Contains(msg, "read_fd") {
		t.Errorf("wrapped input message should reference the descriptor:\n%s", msg)
	}

	off := testManager(t, Settings{MaxInputChars: 20})
	if _, wrapped := off.WrapUserInput(long); wrapped {
		t.Error("wrapping disabled: input should pass through")
	}
}

func TestCopyIsIndependent(t *testing.T) {
	m := testManager(t, Settings{})
	m.CreateFromContent("original")

	clone := m.Copy()
	clone.CreateFromContent("clone only")

	if m.Exists("fd:2") {
		t.Error("clone writes must not leak into the source manager")
	}
	if got, _ := clone.Get("fd:1"); got != "original" {
		t.Errorf("clone should carry copied entries, got %q", got)
	}
}

func TestErrorEnvelope(t *testing.T) {
	err := newError(ErrNotFound, "fd:9", "file descriptor fd:9 not found")
	envelope := err.Envelope()
	if !strings.Contains(envelope, `type="not_found"`) || !strings.Contains(envelope, `fd="fd:9"`) {
		t.Errorf("unexpected envelope: %s", envelope)
	}
}
