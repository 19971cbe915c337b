// Package output writes stackmap analysis results to files.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"stackmaps/internal/disasm"
	"stackmaps/internal/smfmt"
	"stackmaps/internal/stackmap"
)

// Document is the JSON form of one binary's stackmap section.
type Document struct {
	Path      string              `json:"path,omitempty"`
	Section   string              `json:"section"`
	StackMaps []stackmap.StackMap `json:"stackmaps"`
}

// WriteStackMapsJSON writes doc as indented JSON to w.
func WriteStackMapsJSON(w io.Writer, doc Document) error {
	return encodeJSON(w, doc, "stackmaps")
}

// WriteStackMapsJSONFile writes doc to stackmaps.json in dir.
func WriteStackMapsJSONFile(dir string, doc Document) (string, error) {
	path := filepath.Join(dir, "stackmaps.json")
	return path, writeJSON(path, doc)
}

// WriteText writes rendered text to name in dir.
func WriteText(dir, name, text string) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("output: write %s: %w", path, err)
	}
	return path, nil
}

// WriteSitesJSONL writes one SiteRecord per line to sites.jsonl in dir.
func WriteSitesJSONL(dir string, sites []disasm.Site, names map[uint64]string) (string, error) {
	path := filepath.Join(dir, "sites.jsonl")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, s := range sites {
		if err := enc.Encode(s.Record(names)); err != nil {
			return "", fmt.Errorf("output: write %s: %w", path, err)
		}
	}
	return path, nil
}

// WriteDiagsJSON writes diagnostics to diags.json in dir.
func WriteDiagsJSON(dir string, diags *smfmt.Diags) (string, error) {
	path := filepath.Join(dir, "diags.json")
	items := diags.Items()
	if items == nil {
		items = []smfmt.Diag{}
	}
	return path, writeJSON(path, items)
}

// WriteASM writes disassembled instructions to asm/<name>.txt. Name is
// sanitized first, so it always lands directly inside asm/.
func WriteASM(dir string, name string, insts []disasm.Inst, lookup disasm.SymbolLookup, annotators ...disasm.Annotator) error {
	path := filepath.Join(dir, "asm", sanitizeFilename(name)+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir asm: %w", err)
	}

	text := disasm.Format(insts, lookup, annotators...)
	return os.WriteFile(path, []byte(text), 0644)
}

var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "_",
	"\x00", "_",
)

// sanitizeFilename makes a symbol name safe for use as a filename.
func sanitizeFilename(name string) string {
	s := filenameReplacer.Replace(name)
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		s = "_"
	}
	return s
}

// WriteDOT writes Graphviz source to name in dir.
func WriteDOT(dir, name, dot string) (string, error) {
	return WriteText(dir, name, dot)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()
	return encodeJSON(f, v, path)
}

func encodeJSON(w io.Writer, v any, name string) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", name, err)
	}
	return nil
}
