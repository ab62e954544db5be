// Package authz implements role-based access control for chat commands.
//
// A static permission matrix maps each command to the roles and users allowed
// to run it. Authorize is a pure function of the matrix, the engine settings
// and the caller identity, so decisions can be table-tested exhaustively.
package authz

import "errors"

// ErrDenied is returned by callers that surface an authorization denial as an error.
var ErrDenied = errors.New("authz: permission denied")

// DeniedMessage is the user-facing text for every denial. It names no role
// or user.
const DeniedMessage = "You do not have permission to run this command."

// Reason is a machine-readable code explaining a decision, for audit logs.
type Reason string

const (
	ReasonDisabled     Reason = "rbac_disabled"
	ReasonPublic       Reason = "public_command"
	ReasonEnvBypass    Reason = "env_bypass"
	ReasonAdminRole    Reason = "admin_role"
	ReasonAllowedUser  Reason = "allowed_user"
	ReasonAllowedRole  Reason = "allowed_role"
	ReasonDenied       Reason = "denied"
	ReasonUnknownEntry Reason = "no_matrix_entry"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Engine evaluates the permission matrix. It is read-only after construction
// and safe for concurrent use.
type Engine struct {
	matrix  *Matrix
	admins  map[string]struct{}
	enabled bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithAdminRoles sets the global admin roles that may run any command.
func WithAdminRoles(ids ...string) Option {
	return func(e *Engine) {
		for _, id := range ids {
			if id != "" {
				e.admins[id] = struct{}{}
			}
		}
	}
}

// WithEnabled toggles the RBAC master switch. Engines are enabled by default.
func WithEnabled(enabled bool) Option {
	return func(e *Engine) { e.enabled = enabled }
}

func NewEngine(matrix *Matrix, opts ...Option) *Engine {
	e := &Engine{matrix: matrix, admins: make(map[string]struct{}), enabled: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enabled reports the master switch.
func (e *Engine) Enabled() bool { return e.enabled }

// Matrix returns the permission matrix the engine evaluates.
func (e *Engine) Matrix() *Matrix { return e.matrix }

// Authorize decides whether the caller may run command in env. First match wins:
// master switch off, public command, environment bypass, admin role,
// allowed user, allowed role. Anything else is denied.
func (e *Engine) Authorize(command, userID string, roleIDs []string, env string) Decision {
	if !e.enabled {
		return Decision{Allowed: true, Reason: ReasonDisabled}
	}

	r, found := e.matrix.rule(command)
	if found && !r.entry.RequiresAuth {
		return Decision{Allowed: true, Reason: ReasonPublic}
	}
	if found && r.entry.BypassOnEnv != "" && env == r.entry.BypassOnEnv {
		return Decision{Allowed: true, Reason: ReasonEnvBypass}
	}
	if intersects(roleIDs, e.admins) {
		return Decision{Allowed: true, Reason: ReasonAdminRole}
	}
	if !found {
		return Decision{Allowed: false, Reason: ReasonUnknownEntry}
	}
	if userID != "" {
		if _, ok := r.users[userID]; ok {
			return Decision{Allowed: true, Reason: ReasonAllowedUser}
		}
	}
	if intersects(roleIDs, r.roles) {
		return Decision{Allowed: true, Reason: ReasonAllowedRole}
	}
	return Decision{Allowed: false, Reason: ReasonDenied}
}

func intersects(ids []string, set map[string]struct{}) bool {
	if len(set) == 0 {
		return false
	}
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
