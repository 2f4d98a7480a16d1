package schema

import "testing"

func TestEscapeFileName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"main.py", "main.py"},
		{"ma!in.py", "main.py"},
		{"a$b$c.txt", "ab$c.txt"},
		{"(x).c", "x).c"},
		{`back\slash.java`, "backslash.java"},
		{"plus+.c", "plus.c"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := EscapeFileName(tc.in); got != tc.want {
			t.Fatalf("EscapeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateEmbedID(t *testing.T) {
	cases := []struct {
		name  string
		id    EmbedID
		valid bool
	}{
		{"uuid", "db0cadd0-fe97-415b-96f6-90ecbd2d11e0", true},
		{"slug", "hello_world.v2", true},
		{"empty", "", false},
		{"space", "a b", false},
		{"traversal", "../etc", false},
		{"slash", "a/b", false},
	}
	for _, tc := range cases {
		err := ValidateEmbedID(tc.id)
		if tc.valid && err != nil {
			t.Fatalf("case %q expected valid, got %v", tc.name, err)
		}
		if !tc.valid && err == nil {
			t.Fatalf("case %q expected error", tc.name)
		}
	}
}

func TestParseModeRoundTrip(t *testing.T) {
	for _, mode := range []Mode{ModeDefault, ModeReadonly, ModeNoSave, ModeViewDocument, ModeRunMode} {
		if got := ParseMode(mode.String()); got != mode {
			t.Fatalf("ParseMode(%q) = %v", mode.String(), got)
		}
	}
	if got := ParseMode("bogus"); got != ModeUnknown {
		t.Fatalf("expected unknown fallback, got %v", got)
	}
	if got := ParseMode(""); got != ModeDefault {
		t.Fatalf("expected empty mode to default, got %v", got)
	}
}

func TestModeGates(t *testing.T) {
	for _, mode := range []Mode{ModeUnknown, ModeReadonly, ModeNoSave, ModeViewDocument, ModeRunMode} {
		if mode.AllowsSave() {
			t.Fatalf("mode %v must not allow save", mode)
		}
	}
	if !ModeDefault.AllowsSave() {
		t.Fatalf("default mode must allow save")
	}
	if ModeUnknown.AllowsRun() || ModeUnknown.AllowsEdit() {
		t.Fatalf("unknown mode must be most restrictive")
	}
	if ModeReadonly.AllowsEdit() {
		t.Fatalf("readonly must not allow edits")
	}
}

func TestValidateEmbed(t *testing.T) {
	ok := Embed{ID: "e1", Meta: EmbedMeta{Language: "python3"}, Code: map[string]string{"main.py": ""}}
	if err := ValidateEmbed(ok); err != nil {
		t.Fatalf("expected valid embed: %v", err)
	}
	missing := Embed{Meta: EmbedMeta{Language: "python3"}}
	if err := ValidateEmbed(missing); err == nil {
		t.Fatalf("expected missing id to fail")
	}
	badType := ok
	badType.EmbedType = "flash"
	if err := ValidateEmbed(badType); err == nil {
		t.Fatalf("expected unsupported embed type to fail")
	}
}
