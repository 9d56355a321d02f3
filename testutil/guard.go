// Package testutil provides helpers for enforcing import boundaries across
// the repository.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// AssertNoDirectImports scans all non-test .go files in dir (typically "."
// from within the package under test) and fails if any import path satisfies
// the forbidden predicate. Build tags are not followed.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir %s: %v", dir, err)
	}
	fset := token.NewFileSet()
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		path := filepath.Join(dir, name)
		file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parse %s: %v", path, err)
		}
		for _, imp := range file.Imports {
			importPath := strings.Trim(imp.Path.Value, `"`)
			if forbidden(importPath) {
				t.Errorf("%s imports %s: %s", path, importPath, reason)
			}
		}
	}
}

// ForbidPrefixes builds a predicate matching any of the given import path
// prefixes.
func ForbidPrefixes(prefixes ...string) func(string) bool {
	return func(importPath string) bool {
		for _, prefix := range prefixes {
			if importPath == prefix || strings.HasPrefix(importPath, prefix+"/") {
				return true
			}
		}
		return false
	}
}
