package casebank

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brainbank/osce/internal/model"
)

// ImportStore is what Import needs from the record store.
type ImportStore interface {
	UpsertCase(ctx context.Context, c model.CaseRecord) error
	GetImportedFileHash(ctx context.Context, path string) (string, error)
	SetImportedFileHash(ctx context.Context, path, hash string) error
}

// ImportResult reports what an import did.
type ImportResult struct {
	Path    string
	Count   int
	Skipped bool
}

// Import loads a JSON or YAML file holding a list of cases (or an object
// with an "items" list) and upserts every case. A file whose content
// hash matches the last import is skipped.
func Import(ctx context.Context, st ImportStore, path string) (ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImportResult{Path: path}, fmt.Errorf("read %s: %w", path, err)
	}
	return ImportData(ctx, st, path, data)
}

// ImportData is Import for content already in memory, such as an upload.
// name is both the dedup key and the source of the format extension.
func ImportData(ctx context.Context, st ImportStore, name string, data []byte) (ImportResult, error) {
	res := ImportResult{Path: name}
	hash := sha256sum(data)
	storedHash, err := st.GetImportedFileHash(ctx, name)
	if err != nil {
		return res, fmt.Errorf("check import status for %s: %w", name, err)
	}
	if storedHash == hash {
		slog.Info("case file unchanged, skipping", "path", name)
		res.Skipped = true
		return res, nil
	}

	cases, err := ParseCases(data, filepath.Ext(name))
	if err != nil {
		return res, fmt.Errorf("parse %s: %w", name, err)
	}
	for _, c := range cases {
		if strings.TrimSpace(c.CaseName) == "" {
			slog.Warn("skipping case without name", "path", name, "topic", c.Topic)
			continue
		}
		if err := st.UpsertCase(ctx, c); err != nil {
			return res, fmt.Errorf("insert case from %s: %w", name, err)
		}
		res.Count++
	}

	if err := st.SetImportedFileHash(ctx, name, hash); err != nil {
		return res, fmt.Errorf("record import for %s: %w", name, err)
	}
	slog.Info("imported cases", "path", name, "count", res.Count)
	return res, nil
}

// ParseCases decodes a case list. YAML (by .yaml/.yml extension) is
// converted to JSON first so both formats share the JSON field names.
func ParseCases(data []byte, ext string) ([]model.CaseRecord, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("convert yaml: %w", err)
		}
		data = converted
	}

	var cases []model.CaseRecord
	if err := json.Unmarshal(data, &cases); err == nil {
		return cases, nil
	}
	var wrapped struct {
		Items []model.CaseRecord `json:"items"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode cases: %w", err)
	}
	return wrapped.Items, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
