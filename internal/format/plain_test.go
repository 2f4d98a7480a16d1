package format

import "testing"

func TestStatusLine(t *testing.T) {
	got := StatusLine("Ausführung Beendet")
	want := "\x1b[34m ---- Ausführung Beendet ---- \x1b[m\r\n"
	if got != want {
		t.Fatalf("unexpected status line: %q", got)
	}
	if StripANSI(got) != " ---- Ausführung Beendet ---- \r\n" {
		t.Fatalf("unexpected stripped line: %q", StripANSI(got))
	}
}

func TestPlainRendererLines(t *testing.T) {
	r := NewPlainRenderer()
	lines, rest := r.Lines("one\r\n\x1b[31mtwo\x1b[0m\nthr")
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Fatalf("unexpected lines: %#v", lines)
	}
	if rest != "thr" {
		t.Fatalf("unexpected rest: %q", rest)
	}
}

func TestCommandLine(t *testing.T) {
	got := CommandLine([]string{"gcc", "-lm", "my file.c"})
	if got != "gcc -lm 'my file.c'" {
		t.Fatalf("unexpected command line: %q", got)
	}
}
