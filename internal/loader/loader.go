// Package loader reads rule definition documents from disk and runs them
// through the variant-sniffing parse chain.
package loader

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dcwatch/internal/audit"
	"dcwatch/internal/rule"
)

// LoadDir parses every *.rule and *.json file in dir. Documents that fail
// to parse are logged and skipped; the rest of the directory still loads.
func LoadDir(dir string, logger *slog.Logger, auditLog audit.Log) ([]rule.Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	rules := make([]rule.Rule, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isRuleFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		r, err := LoadFile(path, logger, auditLog)
		if err != nil {
			if logger != nil {
				logger.Error("skipping rule file", "path", path, "err", err)
			}
			continue
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func LoadFile(path string, logger *slog.Logger, auditLog audit.Log) (rule.Rule, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := rule.Parse(doc, logger, auditLog)
	if err != nil {
		if errors.Is(err, rule.ErrNotApplicable) {
			return nil, errors.New("no rule variant matched the document")
		}
		return nil, err
	}
	return r, nil
}

func isRuleFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".rule" || ext == ".json"
}
