package watcher

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// hardIgnoreNames is always excluded regardless of gitignore contents
// (spec.md section 4.8).
var hardIgnoreNames = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	".cache":       true,
}

// ignoreRule is one gitignore line translated to a doublestar glob, plus
// the directory it is anchored to (for leading-slash patterns).
type ignoreRule struct {
	glob      string
	anchorDir string // absolute dir the pattern is relative to
	anchored  bool   // true if the pattern had a leading '/'
	dirOnly   bool   // true if the pattern had a trailing '/'
}

// ignoreSet is the combined hard list + every ancestor .gitignore collected
// between a project's working directory and its group directory (inclusive).
type ignoreSet struct {
	rules []ignoreRule
}

// loadIgnoreSet walks from workDir up to groupDir (inclusive), reading any
// .gitignore found at each level. groupDir must be an ancestor of workDir
// (or equal to it); if it is not, only workDir's own .gitignore is read.
func loadIgnoreSet(workDir, groupDir string) *ignoreSet {
	set := &ignoreSet{}

	dirs := ancestorChain(workDir, groupDir)
	for _, dir := range dirs {
		path := filepath.Join(dir, ".gitignore")
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		set.rules = append(set.rules, parseGitignore(f, dir)...)
		f.Close()
	}
	return set
}

// ancestorChain returns workDir and each directory above it up to and
// including groupDir. If groupDir isn't an ancestor of workDir, it returns
// just workDir.
func ancestorChain(workDir, groupDir string) []string {
	workDir = filepath.Clean(workDir)
	groupDir = filepath.Clean(groupDir)

	var chain []string
	cur := workDir
	for {
		chain = append(chain, cur)
		if cur == groupDir {
			break
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			// reached filesystem root without finding groupDir
			return []string{workDir}
		}
		cur = parent
	}
	return chain
}

// parseGitignore translates one .gitignore file's lines into ignoreRules
// anchored at dir. Comments and blank lines are skipped; negation ('!') is
// not supported and such lines are skipped (openrunner never needs to
// un-ignore a path the hard list or an earlier rule already excluded).
func parseGitignore(f *os.File, dir string) []ignoreRule {
	var rules []ignoreRule
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}

		anchored := strings.HasPrefix(line, "/")
		dirOnly := strings.HasSuffix(line, "/")

		pattern := line
		if anchored {
			pattern = strings.TrimPrefix(pattern, "/")
		}
		if dirOnly {
			pattern = strings.TrimSuffix(pattern, "/")
		}
		if pattern == "" {
			continue
		}

		glob := pattern
		if !anchored {
			// Bare name without '/' matches at any depth.
			if !strings.Contains(pattern, "/") {
				glob = "**/" + pattern
			}
		}

		rules = append(rules, ignoreRule{
			glob:      glob,
			anchorDir: dir,
			anchored:  anchored,
			dirOnly:   dirOnly,
		})
	}
	return rules
}

// matches reports whether path (absolute) is excluded by this set. isDir
// tells dirOnly rules whether they apply.
func (s *ignoreSet) matches(path string, isDir bool) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if hardIgnoreNames[part] {
			return true
		}
	}

	for _, rule := range s.rules {
		if rule.dirOnly && !isDir {
			continue
		}
		rel, err := filepath.Rel(rule.anchorDir, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)
		// doublestar's "**" matches zero or more path segments, so
		// "**/name" also matches "name" itself at the anchor root.
		ok, err := doublestar.Match(rule.glob, rel)
		if err == nil && ok {
			return true
		}
	}
	return false
}
