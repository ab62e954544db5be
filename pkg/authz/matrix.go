package authz

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ErrInvalidMatrix is returned when a permission matrix fails to parse or validate.
var ErrInvalidMatrix = errors.New("authz: invalid permission matrix")

// Format identifies the encoding of a permission matrix document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

const matrixSchemaURL = "https://chatops.schemas.local/authz/permission-matrix.schema.json"

// matrixSchema describes the permission matrix file: command name -> entry.
const matrixSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "propertyNames": { "minLength": 1 },
  "additionalProperties": {
    "type": "object",
    "properties": {
      "description":    { "type": "string" },
      "requiresAuth":   { "type": "boolean" },
      "allowedRoleIds": { "type": "array", "items": { "type": "string", "minLength": 1 } },
      "allowedUserIds": { "type": "array", "items": { "type": "string", "minLength": 1 } },
      "bypassOnEnv":    { "type": ["string", "null"] }
    },
    "required": ["requiresAuth"],
    "additionalProperties": false
  }
}`

var compiledMatrixSchema = mustCompileMatrixSchema()

func mustCompileMatrixSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(matrixSchemaURL, strings.NewReader(matrixSchema)); err != nil {
		panic(fmt.Sprintf("authz: matrix schema load failed: %v", err))
	}
	s, err := c.Compile(matrixSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("authz: matrix schema compile failed: %v", err))
	}
	return s
}

// Entry is the access rule for a single command.
type Entry struct {
	Description    string
	RequiresAuth   bool
	AllowedRoleIDs []string
	AllowedUserIDs []string
	// BypassOnEnv grants everyone access when the current environment matches.
	// Empty means no bypass.
	BypassOnEnv string
}

type entryDoc struct {
	Description    string   `json:"description"`
	RequiresAuth   bool     `json:"requiresAuth"`
	AllowedRoleIDs []string `json:"allowedRoleIds"`
	AllowedUserIDs []string `json:"allowedUserIds"`
	BypassOnEnv    *string  `json:"bypassOnEnv"`
}

type rule struct {
	entry Entry
	roles map[string]struct{}
	users map[string]struct{}
}

// Matrix is an immutable command -> Entry table. The zero value and nil are
// both valid and deny every protected command.
type Matrix struct {
	rules map[string]rule
}

// NewMatrix builds a matrix from entries keyed by command name.
func NewMatrix(entries map[string]Entry) *Matrix {
	m := &Matrix{rules: make(map[string]rule, len(entries))}
	for name, e := range entries {
		m.rules[NormalizeCommand(name)] = newRule(e)
	}
	return m
}

func newRule(e Entry) rule {
	e.AllowedRoleIDs = append([]string(nil), e.AllowedRoleIDs...)
	e.AllowedUserIDs = append([]string(nil), e.AllowedUserIDs...)
	return rule{entry: e, roles: toSet(e.AllowedRoleIDs), users: toSet(e.AllowedUserIDs)}
}

// NormalizeCommand strips surrounding whitespace and a leading slash and lowercases.
func NormalizeCommand(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/"))
}

// Lookup returns the entry for a command. A command without an entry gets a
// fail-closed default that requires authorization and grants nobody.
func (m *Matrix) Lookup(command string) (Entry, bool) {
	r, ok := m.rule(command)
	if !ok {
		return Entry{RequiresAuth: true}, false
	}
	e := r.entry
	e.AllowedRoleIDs = append([]string(nil), e.AllowedRoleIDs...)
	e.AllowedUserIDs = append([]string(nil), e.AllowedUserIDs...)
	return e, true
}

func (m *Matrix) rule(command string) (rule, bool) {
	if m == nil {
		return rule{}, false
	}
	r, ok := m.rules[NormalizeCommand(command)]
	return r, ok
}

// Commands lists the commands present in the matrix, sorted.
func (m *Matrix) Commands() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.rules))
	for name := range m.rules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of entries.
func (m *Matrix) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}

// LoadMatrix reads a permission matrix file. Files ending in .yaml or .yml are
// parsed as YAML, everything else as JSON.
func LoadMatrix(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("authz: read matrix %s: %w", path, err)
	}
	format := FormatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	}
	return ParseMatrix(data, format)
}

// ParseMatrix validates and decodes a permission matrix document.
func ParseMatrix(data []byte, format Format) (*Matrix, error) {
	if format == FormatYAML {
		var err error
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMatrix, err)
		}
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMatrix, err)
	}
	if err := compiledMatrixSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMatrix, err)
	}

	var entries map[string]entryDoc
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMatrix, err)
	}

	m := &Matrix{rules: make(map[string]rule, len(entries))}
	for name, d := range entries {
		key := NormalizeCommand(name)
		if key == "" {
			return nil, fmt.Errorf("%w: empty command name", ErrInvalidMatrix)
		}
		if _, dup := m.rules[key]; dup {
			return nil, fmt.Errorf("%w: duplicate command %q", ErrInvalidMatrix, key)
		}
		e := Entry{
			Description:    d.Description,
			RequiresAuth:   d.RequiresAuth,
			AllowedRoleIDs: d.AllowedRoleIDs,
			AllowedUserIDs: d.AllowedUserIDs,
		}
		if d.BypassOnEnv != nil {
			e.BypassOnEnv = strings.TrimSpace(*d.BypassOnEnv)
		}
		m.rules[key] = newRule(e)
	}
	return m, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return json.Marshal(doc)
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
