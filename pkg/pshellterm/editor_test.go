package pshellterm

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func newEditorOverString(input string) (*lineEditor, *bytes.Buffer) {
	var out bytes.Buffer
	w := struct {
		*bufio.Writer
	}{bufio.NewWriter(&out)}
	r := bufio.NewReader(strings.NewReader(input))
	return newLineEditor(r, w, newHistory()), &out
}

func TestReadLineBasic(t *testing.T) {
	ed, _ := newEditorOverString("help\r\n")
	line, err := ed.readLine("$ ", nil)
	if err != nil {
		t.Fatalf("readLine: %v", err)
	}
	if line != "help" {
		t.Fatalf("line = %q, want %q", line, "help")
	}
}

func TestReadLineBackspace(t *testing.T) {
	ed, _ := newEditorOverString("helpp" + string(keyBackspace2) + "\r\n")
	line, err := ed.readLine("", nil)
	if err != nil {
		t.Fatalf("readLine: %v", err)
	}
	if line != "help" {
		t.Fatalf("line = %q, want %q", line, "help")
	}
}

func TestReadLineCtrlCAborts(t *testing.T) {
	ed, _ := newEditorOverString(string(keyCtrlC))
	_, err := ed.readLine("", nil)
	if err != ErrAbort {
		t.Fatalf("err = %v, want ErrAbort", err)
	}
}

func TestReadLineCtrlDOnEmptyAborts(t *testing.T) {
	ed, _ := newEditorOverString(string(keyCtrlD))
	_, err := ed.readLine("", nil)
	if err != ErrAbort {
		t.Fatalf("err = %v, want ErrAbort", err)
	}
}

func TestReadLineHistoryUp(t *testing.T) {
	ed, _ := newEditorOverString("first\r\n")
	if _, err := ed.readLine("", nil); err != nil {
		t.Fatalf("readLine: %v", err)
	}

	ed2, _ := newEditorOverString("\x1b[A\r\n")
	ed2.hist = ed.hist
	line, err := ed2.readLine("", nil)
	if err != nil {
		t.Fatalf("readLine: %v", err)
	}
	if line != "first" {
		t.Fatalf("line = %q, want %q (recalled from history)", line, "first")
	}
}

func TestReadLineTooLongBell(t *testing.T) {
	long := strings.Repeat("a", LineCapacity+10) + "\r\n"
	ed, out := newEditorOverString(long)
	line, err := ed.readLine("", nil)
	if err != nil {
		t.Fatalf("readLine: %v", err)
	}
	if len(line) != LineCapacity {
		t.Fatalf("len(line) = %d, want capacity %d", len(line), LineCapacity)
	}
	if !bytes.Contains(out.Bytes(), []byte{keyBell}) {
		t.Fatalf("expected a bell byte once the line capacity was exceeded")
	}
}

func TestTabCompletionUniqueMatch(t *testing.T) {
	ed, _ := newEditorOverString("he\t\r\n")
	line, err := ed.readLine("", func(prefix string) []string {
		if prefix == "he" {
			return []string{"help"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("readLine: %v", err)
	}
	if line != "help " {
		t.Fatalf("line = %q, want %q", line, "help ")
	}
}

func TestTabCompletionNoMatchBells(t *testing.T) {
	ed, out := newEditorOverString("zz\t\r\n")
	if _, err := ed.readLine("", func(prefix string) []string { return nil }); err != nil {
		t.Fatalf("readLine: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte{keyBell}) {
		t.Fatalf("expected a bell byte for a TAB with no matches")
	}
}

func TestTabCompletionEmptyInputListsGrid(t *testing.T) {
	ed, out := newEditorOverString("\t\r\n")
	all := []string{"help", "echo", "quit"}
	if _, err := ed.readLine("$ ", func(prefix string) []string { return all }); err != nil {
		t.Fatalf("readLine: %v", err)
	}
	for _, m := range all {
		if !strings.Contains(out.String(), m) {
			t.Fatalf("listing %q missing match %q", out.String(), m)
		}
	}
}

func TestTabCompletionDoubleTabListsGrid(t *testing.T) {
	ed, out := newEditorOverString("h\t\t\r\n")
	matches := []string{"help", "halt"}
	if _, err := ed.readLine("", func(prefix string) []string { return matches }); err != nil {
		t.Fatalf("readLine: %v", err)
	}
	for _, m := range matches {
		if !strings.Contains(out.String(), m) {
			t.Fatalf("listing %q missing match %q", out.String(), m)
		}
	}
}

func TestHistoryRingCapacity(t *testing.T) {
	h := newHistory()
	for i := 0; i < HistoryCapacity+10; i++ {
		h.add(strings.Repeat("x", 1) + string(rune('0'+i%10)))
	}
	if len(h.lines) != HistoryCapacity {
		t.Fatalf("history length = %d, want %d", len(h.lines), HistoryCapacity)
	}
}
