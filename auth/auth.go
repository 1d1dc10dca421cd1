// Package auth enforces role-based access to tools. Every tool maps to a
// required permission; roles carry permission sets; a call is allowed when
// the caller's permissions cover the tool's requirement.
package auth

import (
	"fmt"
	"strings"

	"github.com/shale-yeah/kernel/registry"
)

type (
	// Permission names a grant from the fixed permission vocabulary.
	Permission string

	// Role is a named permission bundle.
	Role string
)

const (
	// PermReadAnalysis allows running read-only analysis tools.
	PermReadAnalysis Permission = "read:analysis"
	// PermWriteReports allows tools that produce report artifacts.
	PermWriteReports Permission = "write:reports"
	// PermExecuteDecisions allows tools that commit investment decisions.
	PermExecuteDecisions Permission = "execute:decisions"
	// PermAdminServers allows server administration.
	PermAdminServers Permission = "admin:servers"
	// PermAdminUsers allows user administration.
	PermAdminUsers Permission = "admin:users"
)

const (
	// RoleAnalyst reads analyses.
	RoleAnalyst Role = "analyst"
	// RoleEngineer reads analyses and writes reports.
	RoleEngineer Role = "engineer"
	// RoleExecutive additionally executes decisions.
	RoleExecutive Role = "executive"
	// RoleAdmin holds every permission.
	RoleAdmin Role = "admin"
)

// roleOrder lists roles from least to most privileged.
var roleOrder = []Role{RoleAnalyst, RoleEngineer, RoleExecutive, RoleAdmin}

var rolePermissions = map[Role][]Permission{
	RoleAnalyst:   {PermReadAnalysis},
	RoleEngineer:  {PermReadAnalysis, PermWriteReports},
	RoleExecutive: {PermReadAnalysis, PermWriteReports, PermExecuteDecisions},
	RoleAdmin:     {PermReadAnalysis, PermWriteReports, PermExecuteDecisions, PermAdminServers, PermAdminUsers},
}

// PermissionsFor returns the permission set granted to a role. Unknown roles
// hold nothing.
func PermissionsFor(role Role) []Permission {
	return append([]Permission(nil), rolePermissions[role]...)
}

// Identity describes a caller. Identities are immutable once attached to a
// session.
type Identity struct {
	// UserID uniquely identifies the caller.
	UserID string `json:"userId"`
	// Role is the caller's role.
	Role Role `json:"role"`
	// Permissions is the caller's effective permission set.
	Permissions []Permission `json:"permissions"`
	// Organization optionally names the caller's organization.
	Organization string `json:"organization,omitempty"`
	// DisplayName optionally carries a human-readable name.
	DisplayName string `json:"displayName,omitempty"`
}

// NewIdentity builds an identity holding the role's full permission set.
func NewIdentity(userID string, role Role) Identity {
	return Identity{
		UserID:      userID,
		Role:        role,
		Permissions: PermissionsFor(role),
	}
}

// DemoIdentity is the fixed identity used when a session is created without
// one.
func DemoIdentity() Identity {
	return Identity{
		UserID:      "demo",
		Role:        RoleAnalyst,
		Permissions: []Permission{PermReadAnalysis},
		DisplayName: "Demo User",
	}
}

// Decision is the structured outcome of a permission check.
type Decision struct {
	// Allowed reports whether the call may proceed.
	Allowed bool `json:"allowed"`
	// Reason explains a denial in terms of missing permissions.
	Reason string `json:"reason,omitempty"`
	// RequiredRole is the minimum role that would be allowed.
	RequiredRole Role `json:"requiredRole,omitempty"`
	// RequiredPermissions lists what the tool demands.
	RequiredPermissions []Permission `json:"requiredPermissions,omitempty"`
}

// Resolver resolves tool references to descriptors. *registry.Registry
// satisfies it.
type Resolver interface {
	ResolveTool(toolName string) (registry.ToolDescriptor, bool)
}

// Checker evaluates tool calls against identities. With requireAuth
// disabled every check allows, but the decision still carries the computed
// requirements for auditing.
type Checker struct {
	resolver    Resolver
	requireAuth bool
	overrides   map[string][]Permission
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithToolPermissions overrides the required permissions for one tool name.
func WithToolPermissions(toolName string, perms ...Permission) CheckerOption {
	return func(c *Checker) {
		c.overrides[toolName] = append([]Permission(nil), perms...)
	}
}

// NewChecker builds a checker resolving tools through resolver.
func NewChecker(resolver Resolver, requireAuth bool, opts ...CheckerOption) *Checker {
	c := &Checker{
		resolver:    resolver,
		requireAuth: requireAuth,
		overrides:   make(map[string][]Permission),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check decides whether identity may call toolName.
func (c *Checker) Check(toolName string, identity Identity) Decision {
	required := c.requiredFor(toolName)
	missing := missingPermissions(identity.Permissions, required)

	decision := Decision{
		Allowed:             len(missing) == 0,
		RequiredPermissions: required,
	}
	if len(missing) > 0 {
		decision.RequiredRole = minimumRole(required)
		decision.Reason = fmt.Sprintf("requires %s; role %s is missing %s",
			joinPermissions(required), identity.Role, joinPermissions(missing))
	}
	if !c.requireAuth {
		decision.Allowed = true
		decision.Reason = ""
	}
	return decision
}

func (c *Checker) requiredFor(toolName string) []Permission {
	if perms, ok := c.overrides[toolName]; ok {
		return append([]Permission(nil), perms...)
	}
	desc, ok := c.resolver.ResolveTool(toolName)
	if !ok {
		return []Permission{PermReadAnalysis}
	}
	if perms, ok := c.overrides[desc.Name]; ok {
		return append([]Permission(nil), perms...)
	}
	if desc.Type == registry.ToolTypeCommand {
		if desc.RequiresConfirmation {
			return []Permission{PermExecuteDecisions}
		}
		return []Permission{PermWriteReports}
	}
	return []Permission{PermReadAnalysis}
}

// minimumRole returns the least privileged role whose permission set covers
// required.
func minimumRole(required []Permission) Role {
	for _, role := range roleOrder {
		if len(missingPermissions(rolePermissions[role], required)) == 0 {
			return role
		}
	}
	return RoleAdmin
}

func missingPermissions(held, required []Permission) []Permission {
	set := make(map[Permission]bool, len(held))
	for _, p := range held {
		set[p] = true
	}
	var missing []Permission
	for _, p := range required {
		if !set[p] {
			missing = append(missing, p)
		}
	}
	return missing
}

func joinPermissions(perms []Permission) string {
	parts := make([]string, len(perms))
	for i, p := range perms {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}
