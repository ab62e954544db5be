// Command layercheck enforces the package layering of the module.
//
// Storage, credential and policy packages sit below the dispatcher; the
// dispatcher sits below the command handlers; only the HTTP surface and the
// CLI may depend on everything. Any non-test file that imports upward is a
// violation.
//
// Usage:
//
//	go run ./tools/layercheck [-root <module-root>]
package main

import (
	"flag"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"
)

// rule forbids packages under Dir from importing any of Forbidden. Both are
// slash paths relative to the module root.
type rule struct {
	Dir       string
	Forbidden []string
}

var upper = []string{"pkg/dispatcher", "pkg/commands", "pkg/api", "pkg/transport", "pkg/sweeper", "cmd"}

var rules = func() []rule {
	var rs []rule
	for _, dir := range []string{
		"pkg/artifacts", "pkg/authz", "pkg/checks", "pkg/config", "pkg/conversation",
		"pkg/credentials", "pkg/database", "pkg/dynamo", "pkg/observability",
		"pkg/retry", "pkg/statestore", "pkg/vcs",
	} {
		rs = append(rs, rule{Dir: dir, Forbidden: upper})
	}
	return append(rs,
		rule{Dir: "pkg/dispatcher", Forbidden: []string{"pkg/commands", "pkg/api", "pkg/transport", "pkg/sweeper", "cmd"}},
		rule{Dir: "pkg/commands", Forbidden: []string{"pkg/api", "pkg/transport", "pkg/sweeper", "cmd"}},
		rule{Dir: "pkg/transport", Forbidden: []string{"pkg/commands", "pkg/api", "cmd"}},
		rule{Dir: "pkg/sweeper", Forbidden: []string{"pkg/dispatcher", "pkg/commands", "pkg/api", "cmd"}},
		rule{Dir: "pkg/api", Forbidden: []string{"pkg/commands", "cmd"}},
	)
}()

// Violation is one forbidden import.
type Violation struct {
	File   string
	Line   int
	Import string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d imports %q", v.File, v.Line, v.Import)
}

func main() {
	root := flag.String("root", ".", "module root directory")
	flag.Parse()
	os.Exit(run(*root, os.Stdout, os.Stderr))
}

func run(root string, stdout, stderr io.Writer) int {
	violations, err := Check(root)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "layercheck: %v\n", err)
		return 2
	}
	for _, v := range violations {
		_, _ = fmt.Fprintf(stdout, "LAYER VIOLATION: %s\n", v)
	}
	if len(violations) > 0 {
		_, _ = fmt.Fprintf(stdout, "\n%d layer violation(s) found\n", len(violations))
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "layer check passed")
	return 0
}

// Check parses the imports of every non-test Go file below root and reports
// those that break a rule.
func Check(root string) ([]Violation, error) {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return nil, err
	}
	module := modfile.ModulePath(data)
	if module == "" {
		return nil, fmt.Errorf("no module directive in %s", filepath.Join(root, "go.mod"))
	}

	var violations []Violation
	fset := token.NewFileSet()
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || name == "vendor" || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		forbidden := forbiddenFor(rel)
		if len(forbidden) == 0 {
			return nil
		}

		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return fmt.Errorf("parse %s: %w", rel, err)
		}
		for _, imp := range f.Imports {
			p := strings.Trim(imp.Path.Value, `"`)
			if !strings.HasPrefix(p, module+"/") {
				continue
			}
			target := strings.TrimPrefix(p, module+"/")
			for _, bad := range forbidden {
				if target == bad || strings.HasPrefix(target, bad+"/") {
					violations = append(violations, Violation{File: rel, Line: fset.Position(imp.Pos()).Line, Import: p})
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File != violations[j].File {
			return violations[i].File < violations[j].File
		}
		return violations[i].Line < violations[j].Line
	})
	return violations, nil
}

func forbiddenFor(rel string) []string {
	for _, r := range rules {
		if strings.HasPrefix(rel, r.Dir+"/") {
			return r.Forbidden
		}
	}
	return nil
}
