// Package include extracts include references from document content.
//
// Three directive forms are recognised, each on any line outside a fenced
// code block:
//
//	!!!include(path)!!!        whole-document include
//	!!!columninclude(path)!!!  section (column) include
//	!!!taskinclude(path)!!!    item (task) include
//
// Relative targets resolve against the including file's directory.
package include

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Aman-CERP/mdsentry/internal/depgraph"
	"github.com/Aman-CERP/mdsentry/internal/filestate"
)

var directive = regexp.MustCompile(`!!!(include|columninclude|taskinclude)\(([^)]+)\)!!!`)

var kinds = map[string]depgraph.Kind{
	"include":       depgraph.KindDocument,
	"columninclude": depgraph.KindSection,
	"taskinclude":   depgraph.KindItem,
}

// Reference is one include directive found in content.
type Reference struct {
	Target string
	Kind   depgraph.Kind
	Line   int
}

// Extractor turns document content into include edges.
type Extractor interface {
	Edges(source string, content []byte) []depgraph.Edge
}

// Directives is the default Extractor for !!!include(...)!!! syntax.
type Directives struct{}

// Parse returns every reference in content, in order of appearance.
// Targets are returned exactly as written (trimmed, unquoted).
func Parse(content []byte) []Reference {
	var refs []Reference
	inFence := false

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		for _, m := range directive.FindAllStringSubmatch(text, -1) {
			target := strings.Trim(strings.TrimSpace(m[2]), `"'`)
			if target == "" {
				continue
			}
			refs = append(refs, Reference{Target: target, Kind: kinds[m[1]], Line: line})
		}
	}
	return refs
}

// Edges parses content and resolves every target against source's directory.
func (Directives) Edges(source string, content []byte) []depgraph.Edge {
	refs := Parse(content)
	edges := make([]depgraph.Edge, 0, len(refs))
	for _, ref := range refs {
		to, err := Resolve(source, ref.Target)
		if err != nil {
			continue
		}
		edges = append(edges, depgraph.Edge{From: source, To: to, Kind: ref.Kind})
	}
	return edges
}

// Resolve maps a written target to a canonical absolute path.
func Resolve(source, target string) (string, error) {
	if target == "~" || strings.HasPrefix(target, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			target = filepath.Join(home, strings.TrimPrefix(target, "~"))
		}
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(source), filepath.FromSlash(target))
	}
	return filestate.Canonical(target)
}

// Rewrite points every directive in content that resolves to oldTarget at
// newTarget instead. The new target is written relative to source's
// directory when it shares a root with it. Fenced blocks are left alone.
// It returns the rewritten content and the number of directives changed.
func Rewrite(source string, content []byte, oldTarget, newTarget string) ([]byte, int) {
	written := newTarget
	if rel, err := filepath.Rel(filepath.Dir(source), newTarget); err == nil && !strings.HasPrefix(rel, "..") {
		written = filepath.ToSlash(rel)
	}

	var (
		out     bytes.Buffer
		changed int
		inFence bool
	)
	for _, line := range bytes.SplitAfter(content, []byte("\n")) {
		trimmed := strings.TrimSpace(string(line))
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			out.Write(line)
			continue
		}
		if inFence {
			out.Write(line)
			continue
		}
		replaced := directive.ReplaceAllStringFunc(string(line), func(m string) string {
			sub := directive.FindStringSubmatch(m)
			target := strings.Trim(strings.TrimSpace(sub[2]), `"'`)
			if resolved, err := Resolve(source, target); err != nil || resolved != oldTarget {
				return m
			}
			changed++
			return "!!!" + sub[1] + "(" + written + ")!!!"
		})
		out.WriteString(replaced)
	}
	return out.Bytes(), changed
}
