package languages

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkt.systems/webbox/schema"
)

func TestShellCommandExpansion(t *testing.T) {
	cmd := ShellCommand("javac -Xlint $FILES && echo $MAINFILE $MAINFILE")
	got := cmd.Expand([]string{"Main.java", "util/Helper.java"}, "", "demo")
	require.Len(t, got, 3)
	assert.Equal(t, "bash", got[0])
	assert.Equal(t, "-c", got[1])
	assert.Equal(t, "javac -Xlint 'Main.java' 'util/Helper.java' && echo Main.java $MAINFILE", got[2])
}

func TestArgsCommandIsCopied(t *testing.T) {
	cmd := ArgsCommand("./a.out")
	got := cmd.Expand([]string{"main.c"}, "", "demo")
	got[0] = "changed"
	assert.Equal(t, []string{"./a.out"}, cmd.Args)
}

func TestSplitCommandTokens(t *testing.T) {
	cmd, err := SplitCommand(`ruby -w "$MAINFILE" $FILES`)
	require.NoError(t, err)
	got := cmd.Expand([]string{"a.rb", "b.rb"}, "b.rb", "demo")
	assert.Equal(t, []string{"ruby", "-w", "b.rb", "a.rb", "b.rb"}, got)
}

func TestDefaultLanguages(t *testing.T) {
	reg := Default()

	c, err := reg.Lookup("c13")
	require.NoError(t, err)
	assert.Equal(t, []string{"gcc", "-lm", "-Wall", "main.c", "util.c"},
		c.Compile.Expand([]string{"main.c", "util.h", "util.c"}, "", ""))
	assert.Equal(t, []string{"./a.out"}, c.Exec.Expand(nil, "", ""))

	java, err := reg.Lookup("java8")
	require.NoError(t, err)
	assert.Equal(t, []string{"java", "de.demo.Main"}, java.Exec.Expand([]string{"de/demo/Main.java"}, "", ""))

	py, err := reg.Lookup("python3")
	require.NoError(t, err)
	assert.Equal(t, []string{"python3", "main.py"}, py.Exec.Expand([]string{"main.py"}, "", ""))
	assert.Equal(t, []string{"python3", "./main.py"}, py.Exec.Build(nil, "", ""))
	assert.Equal(t, []string{"python3", "/usr/local/lib/sourcebox/tester.py", "/home/user/demo"},
		py.Test.Expand([]string{"main.py"}, "", "demo"))
	assert.Contains(t, py.EnvList(), "PYTHONPATH=/usr/local/lib/sourcebox/")
	assert.True(t, py.HasTest())
	assert.False(t, py.HasCompile())

	_, err = reg.Lookup("cobol")
	assert.True(t, errors.Is(err, schema.ErrUnknownLanguage))
}

func TestGCCParser(t *testing.T) {
	p := NewGCCParser()
	got := p.Feed("main.c:4:5: error: expected ';' before 'return'")
	require.Len(t, got, 1)
	assert.Equal(t, Diagnostic{File: "main.c", Row: 4, Column: 5, Type: "error", Text: "expected ';' before 'return'"}, got[0])
	assert.Empty(t, p.Feed("   return 0;"))
	got = p.Feed("main.c:1:1: fatal error: foo.h: No such file")
	require.Len(t, got, 1)
	assert.Equal(t, "error", got[0].Type)
}

func TestJavacParser(t *testing.T) {
	p := NewJavacParser()
	assert.Empty(t, p.Feed("Main.java:3: error: ';' expected"))
	assert.Empty(t, p.Feed(`        System.out.println("x")`))
	got := p.Feed("                               ^")
	require.Len(t, got, 1)
	assert.Equal(t, "Main.java", got[0].File)
	assert.Equal(t, 3, got[0].Row)
	assert.Equal(t, 32, got[0].Column)
	assert.Equal(t, "error", got[0].Type)
	assert.Empty(t, p.Flush())
}

func TestPythonErrorParser(t *testing.T) {
	p := NewPythonErrorParser()
	for _, line := range []string{
		"Traceback (most recent call last):",
		`  File "./main.py", line 3, in <module>`,
		"    print(1/0)",
		"ZeroDivisionError: division by zero",
	} {
		p.Feed(line)
	}
	require.True(t, p.HasError())
	res := p.Result()
	assert.Equal(t, "./main.py", res.File)
	assert.Equal(t, 3, res.Line)
	assert.Equal(t, "ZeroDivisionError", res.Error)
	assert.Equal(t, "division by zero", res.Message)
	assert.Equal(t, "    print(1/0)", res.ErrorHint)
}

func TestOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "languages.yaml")
	data := []byte(`languages:
  ruby:
    display_name: Ruby
    extension: .rb
    exec_argv: ruby $MAINFILE
  python3:
    env:
      PYTHONUNBUFFERED: "1"
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	overrides, err := LoadFile(path)
	require.NoError(t, err)
	reg := Default()
	require.NoError(t, reg.ApplyAll(overrides))

	ruby, err := reg.Lookup("ruby")
	require.NoError(t, err)
	assert.Equal(t, "Ruby", ruby.DisplayName)
	assert.Equal(t, "rb", ruby.Extension)
	assert.Equal(t, []string{"ruby", "app.rb"}, ruby.Exec.Expand([]string{"app.rb"}, "", ""))

	py, err := reg.Lookup("python3")
	require.NoError(t, err)
	assert.Equal(t, "1", py.Env["PYTHONUNBUFFERED"])
	assert.Equal(t, "/usr/local/lib/sourcebox/", py.Env["PYTHONPATH"])
}

func TestOverrideRejectsBothForms(t *testing.T) {
	reg := Default()
	err := reg.Apply("x", Override{Exec: "run", ExecArgv: "run"})
	assert.Error(t, err)
	err = reg.Apply("y", Override{DisplayName: "Y"})
	assert.Error(t, err)
}

func TestModesAndExtensions(t *testing.T) {
	assert.Equal(t, "python", ModeForFile("src/main.py"))
	assert.Equal(t, "plaintext", ModeForFile("Unbenannt0.txt"))
	assert.Equal(t, "plaintext", ModeForFile("Makefile"))
	assert.Equal(t, "tests.py", TestFileName("python3"))
	assert.Equal(t, "tests.java", TestFileName("java8"))
}
