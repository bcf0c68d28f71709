package storage

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

const (
	FilesNamespace = "workspace"

	maxBaseNameLen = 64
	maxExtLen      = 16
)

// BaseName returns the last path element of a client-supplied name, treating both slash
// styles as separators.
func BaseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimRight(name, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// SanitizeFilename reduces name to a single portable path element made of letters, digits,
// '.', '-' and '_'. Directory parts and traversal sequences are dropped.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(BaseName(name), "..", "")
	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "file"
	}
	return out
}

// SplitExt splits a client filename into its sanitized stem (at most 64 characters) and a
// sanitized extension including the dot, or "" when the extension is unusable.
func SplitExt(name string) (stem, ext string) {
	base := BaseName(name)
	ext = path.Ext(base)
	stem = strings.TrimSuffix(base, ext)
	if !validExt(ext) {
		if ext != "" && ext != "." {
			stem = base
		}
		ext = ""
	}
	stem = SanitizeFilename(stem)
	if len(stem) > maxBaseNameLen {
		stem = strings.TrimRight(stem[:maxBaseNameLen], "._")
	}
	return stem, ext
}

func validExt(ext string) bool {
	if len(ext) < 2 || len(ext) > maxExtLen+1 {
		return false
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// FileKey builds the storage key for an uploaded file:
// workspace/{workspaceID}/users/{ownerID}/{uuid}-{stem}{ext}.
func FileKey(workspaceID, ownerID, originalName string) string {
	stem, ext := SplitExt(originalName)
	return path.Join(
		FilesNamespace, segment(workspaceID),
		"users", segment(ownerID),
		uuid.NewString()+"-"+stem+ext,
	)
}

// segment keeps caller ids from introducing extra path levels.
func segment(id string) string {
	if id == "" {
		return "_"
	}
	return SanitizeFilename(strings.NewReplacer("/", "_", "\\", "_").Replace(id))
}
