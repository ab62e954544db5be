package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/chatops/pkg/authz"
)

var (
	ErrCommandNotFound = errors.New("dispatcher: command not found")
	ErrInvalidCommand  = errors.New("dispatcher: invalid command")
	ErrInvalidOptions  = errors.New("dispatcher: invalid options")
)

// Handler executes a slash command.
type Handler interface {
	Execute(ctx context.Context, in *Interaction) (*Response, error)
}

// ComponentHandler is implemented by handlers that own button callbacks.
type ComponentHandler interface {
	HandleComponent(ctx context.Context, in *Interaction) (*Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, in *Interaction) (*Response, error)

func (f HandlerFunc) Execute(ctx context.Context, in *Interaction) (*Response, error) {
	return f(ctx, in)
}

// Command describes a compiled-in command.
type Command struct {
	Name        string
	Description string
	Handler     Handler
	// ComponentPrefixes are the custom-id prefixes whose callbacks this
	// command handles. Handler must implement ComponentHandler when set.
	ComponentPrefixes []string
	// OptionsSchema is an optional JSON Schema for the command's options.
	OptionsSchema string
}

type registered struct {
	cmd    Command
	schema *jsonschema.Schema
}

// Registry maps command names and component prefixes to commands.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*registered
	prefixes map[string]string // prefix -> command name
}

func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*registered),
		prefixes: make(map[string]string),
	}
}

// Register adds cmd. Registering an existing name replaces the previous
// command and the prefixes it owned; a prefix claimed by another command
// moves to cmd.
func (r *Registry) Register(cmd Command) error {
	cmd.Name = authz.NormalizeCommand(cmd.Name)
	if cmd.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCommand)
	}
	if cmd.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidCommand, cmd.Name)
	}
	if len(cmd.ComponentPrefixes) > 0 {
		if _, ok := cmd.Handler.(ComponentHandler); !ok {
			return fmt.Errorf("%w: %s owns component prefixes but cannot handle components", ErrInvalidCommand, cmd.Name)
		}
	}
	for _, p := range cmd.ComponentPrefixes {
		if p == "" {
			return fmt.Errorf("%w: %s has an empty component prefix", ErrInvalidCommand, cmd.Name)
		}
	}

	entry := &registered{cmd: cmd}
	if strings.TrimSpace(cmd.OptionsSchema) != "" {
		s, err := compileOptionsSchema(cmd.Name, cmd.OptionsSchema)
		if err != nil {
			return fmt.Errorf("%w: %s options schema: %v", ErrInvalidCommand, cmd.Name, err)
		}
		entry.schema = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for p, owner := range r.prefixes {
		if owner == cmd.Name {
			delete(r.prefixes, p)
		}
	}
	r.commands[cmd.Name] = entry
	for _, p := range cmd.ComponentPrefixes {
		r.prefixes[p] = cmd.Name
	}
	return nil
}

// Resolve finds a command by exact (normalized) name.
func (r *Registry) Resolve(name string) (Command, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.commands[authz.NormalizeCommand(name)]; ok {
		return e.cmd, nil
	}
	return Command{}, ErrCommandNotFound
}

// ResolveComponent finds the command owning the longest registered prefix
// of customID.
func (r *Registry) ResolveComponent(customID string) (Command, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best := ""
	for p := range r.prefixes {
		if strings.HasPrefix(customID, p) && len(p) > len(best) {
			best = p
		}
	}
	if best == "" {
		return Command{}, ErrCommandNotFound
	}
	return r.commands[r.prefixes[best]].cmd, nil
}

// List returns every command sorted by name.
func (r *Registry) List() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.commands))
	for _, e := range r.commands {
		out = append(out, e.cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidateOptions checks options against the command's schema, if it has one.
func (r *Registry) ValidateOptions(name string, options map[string]any) error {
	r.mu.RLock()
	e, ok := r.commands[authz.NormalizeCommand(name)]
	r.mu.RUnlock()
	if !ok {
		return ErrCommandNotFound
	}
	if e.schema == nil {
		return nil
	}
	doc, err := jsonDocument(options)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if err := e.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

func compileOptionsSchema(name, schema string) (*jsonschema.Schema, error) {
	url := "https://chatops.schemas.local/commands/" + name + "/options.schema.json"
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// jsonDocument converts options into the generic shape the validator expects.
func jsonDocument(options map[string]any) (any, error) {
	if options == nil {
		options = map[string]any{}
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
