package schema

import (
	"path"
	"strings"
)

// fileNameReserved are characters that may not appear in file names.
const fileNameReserved = "\\!$`&*()+"

// EscapeFileName removes the first reserved character from name.
// Only the first occurrence is removed, matching the editor's rename behavior.
func EscapeFileName(name string) string {
	idx := strings.IndexAny(name, fileNameReserved)
	if idx < 0 {
		return name
	}
	return name[:idx] + name[idx+1:]
}

// ContainsReserved reports whether name still carries a reserved character.
func ContainsReserved(name string) bool {
	return strings.ContainsAny(name, fileNameReserved)
}

// ValidateEmbedID ensures an embed id is usable as a storage key.
func ValidateEmbedID(id EmbedID) error {
	raw := string(id)
	if raw == "" || strings.TrimSpace(raw) != raw {
		return ErrInvalidRequest
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			continue
		}
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		return ErrInvalidRequest
	}
	return nil
}

// ProjectPath joins a project directory and a file name the way the sandbox expects.
func ProjectPath(project, name string) string {
	if project == "" {
		project = "."
	}
	return path.Join(project, name)
}
