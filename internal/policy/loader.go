package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/samber/oops"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/laundrydesk/abac-pdp/pkg/types"
)

// policyFile is the multi-policy document layout:
//
//	policies:
//	  - id: tenant-isolation
//	    ...
type policyFile struct {
	Policies []*types.Policy `yaml:"policies" json:"policies"`
}

// Loader loads and validates policy files from disk
type Loader struct {
	logger    *zap.Logger
	validator *Validator
}

// NewLoader creates a new policy loader. validator may be nil.
func NewLoader(validator *Validator, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		logger:    logger,
		validator: validator,
	}
}

// IsPolicyFile reports whether name has a supported policy extension
func IsPolicyFile(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// LoadFromDirectory loads every policy file in dir (not recursive). Files
// are read in name order; any invalid file fails the whole load.
func (l *Loader) LoadFromDirectory(dir string) ([]*types.Policy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, oops.Code(CodePolicyLoadFailed).With("path", dir).Wrapf(err, "failed to read directory")
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsPolicyFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var policies []*types.Policy
	seen := make(map[string]string)
	for _, name := range names {
		path := filepath.Join(dir, name)
		loaded, err := l.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		for _, p := range loaded {
			if prev, dup := seen[p.ID]; dup {
				return nil, oops.Code(CodeDuplicatePolicy).
					With("policy_id", p.ID).
					Errorf("policy %q defined in both %s and %s", p.ID, prev, path)
			}
			seen[p.ID] = path
		}
		policies = append(policies, loaded...)
	}

	l.logger.Info("Loaded policies from directory",
		zap.String("path", dir),
		zap.Int("files", len(names)),
		zap.Int("policies", len(policies)),
	)
	return policies, nil
}

// LoadFromFile loads all policies from one YAML or JSON file
func (l *Loader) LoadFromFile(path string) ([]*types.Policy, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Code(CodePolicyLoadFailed).With("path", path).Wrapf(err, "failed to read file")
	}

	format := FormatYAML
	if filepath.Ext(path) == ".json" {
		format = FormatJSON
	}
	policies, err := l.Parse(content, format)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}

	l.logger.Debug("Loaded policy file",
		zap.String("path", path),
		zap.Int("policies", len(policies)),
	)
	return policies, nil
}

// Parse decodes and validates policies from an in-memory document
func (l *Loader) Parse(content []byte, format Format) ([]*types.Policy, error) {
	var (
		policies []*types.Policy
		err      error
	)
	switch format {
	case FormatJSON:
		policies, err = parseJSON(content)
	case FormatYAML:
		policies, err = parseYAML(content)
	default:
		return nil, oops.Code(CodePolicyLoadFailed).Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, oops.Code(CodePolicyLoadFailed).Wrap(err)
	}

	if l.validator != nil {
		for _, p := range policies {
			if err := l.validator.ValidatePolicy(p); err != nil {
				return nil, err
			}
		}
	}
	return policies, nil
}

// parseYAML accepts multi-document YAML where each document is either a
// single policy or a {policies: [...]} list.
func parseYAML(content []byte) ([]*types.Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	var policies []*types.Policy
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		if len(node.Content) == 0 {
			continue
		}

		if hasKey(node.Content[0], "policies") {
			var file policyFile
			if err := node.Decode(&file); err != nil {
				return nil, fmt.Errorf("failed to parse YAML: %w", err)
			}
			policies = append(policies, file.Policies...)
			continue
		}

		var p types.Policy
		if err := node.Decode(&p); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		policies = append(policies, &p)
	}
	return policies, nil
}

func hasKey(mapping *yaml.Node, key string) bool {
	if mapping.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return true
		}
	}
	return false
}

// parseJSON accepts a single policy, a list, or a {policies: [...]} object
func parseJSON(content []byte) ([]*types.Policy, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []*types.Policy
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		return list, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if _, ok := probe["policies"]; ok {
		var file policyFile
		if err := json.Unmarshal(trimmed, &file); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		return file.Policies, nil
	}

	var p types.Policy
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return []*types.Policy{&p}, nil
}
