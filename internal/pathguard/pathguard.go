// Package pathguard validates filesystem locations for local remotes.
// Every local base directory must come from the configured allow list and
// leaf names must never escape their base.
package pathguard

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/backuper-dev/orchestrator/pkg/utils"
)

// Root è una directory abilitata come base per i remote locali
type Root struct {
	Label string
	Path  string
}

// Guard contiene l'allow list delle directory locali
type Guard struct {
	roots []Root
}

// New costruisce la guard a partire dalle voci "Label|/path" della
// configurazione. Se la lista è vuota viene usata defaultRoot.
func New(entries []string, defaultRoot string) *Guard {
	g := &Guard{}
	seen := make(map[string]bool)

	for _, entry := range entries {
		label, path := splitEntry(entry)
		path = Normalize(path)
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		if label == "" {
			label = filepath.Base(path)
		}
		g.roots = append(g.roots, Root{Label: label, Path: path})
	}

	if len(g.roots) == 0 && defaultRoot != "" {
		path := Normalize(defaultRoot)
		if path != "" {
			g.roots = append(g.roots, Root{Label: filepath.Base(path), Path: path})
		}
	}

	return g
}

func splitEntry(entry string) (label, path string) {
	entry = utils.StripQuotes(strings.TrimSpace(entry))
	if idx := strings.Index(entry, "|"); idx >= 0 {
		return strings.TrimSpace(entry[:idx]), strings.TrimSpace(entry[idx+1:])
	}
	return "", entry
}

// Normalize pulisce un path: rimuove virgolette, espande ~ e lo rende
// assoluto in forma canonica. Ritorna "" per input non utilizzabili.
func Normalize(path string) string {
	path = utils.StripQuotes(strings.TrimSpace(path))
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	if !filepath.IsAbs(path) {
		return ""
	}
	return filepath.Clean(path)
}

// Roots restituisce le directory abilitate
func (g *Guard) Roots() []Root {
	out := make([]Root, len(g.roots))
	copy(out, g.roots)
	return out
}

// IsAllowedBase verifica che path coincida con una root abilitata
func (g *Guard) IsAllowedBase(path string) bool {
	clean := Normalize(path)
	if clean == "" {
		return false
	}
	for _, root := range g.roots {
		if root.Path == clean {
			return true
		}
	}
	return false
}

// Contains verifica che path sia una root abilitata o un suo discendente
func (g *Guard) Contains(path string) (Root, bool) {
	clean := Normalize(path)
	if clean == "" {
		return Root{}, false
	}
	for _, root := range g.roots {
		if clean == root.Path || strings.HasPrefix(clean, root.Path+string(filepath.Separator)) {
			return root, true
		}
	}
	return Root{}, false
}

// SafeLeaf verifica che name sia un singolo componente di path:
// niente separatori, niente "." o "..", niente byte nulli.
func SafeLeaf(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return false
	}
	return true
}
