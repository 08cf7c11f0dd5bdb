package auth

import (
	"sort"
	"strings"
)

// Wildcard grants every permission in the catalog.
const Wildcard = "*"

// CatalogVersion is bumped whenever catalog keys are added or removed.
const CatalogVersion = 3

// Permission keys referenced directly by the transport layer.
const (
	PermRolesRead    = "roles.read"
	PermRolesCreate  = "roles.create"
	PermRolesUpdate  = "roles.update"
	PermRolesDelete  = "roles.delete"
	PermRolesAssign  = "roles.assign"
	PermTokensRevoke = "tokens.revoke"
	PermTokensBan    = "tokens.blacklist"
)

var builtinPermissions = map[string]string{
	"orders.create":       "Create orders",
	"orders.read":         "View orders",
	"orders.update":       "Modify orders",
	"orders.delete":       "Delete orders",
	"orders.refund":       "Refund orders",
	"menu.create":         "Create menu items",
	"menu.read":           "View the menu",
	"menu.update":         "Edit menu items",
	"menu.delete":         "Remove menu items",
	"inventory.read":      "View stock levels",
	"inventory.update":    "Adjust stock levels",
	"inventory.order":     "Place supplier orders",
	"billing.create":      "Create invoices",
	"billing.read":        "View invoices and payments",
	"billing.refund":      "Issue payment refunds",
	"reservations.create": "Create reservations",
	"reservations.read":   "View reservations",
	"reservations.update": "Modify reservations",
	"reservations.cancel": "Cancel reservations",
	"tables.read":         "View floor plan and tables",
	"tables.update":       "Change table status",
	"customers.read":      "View customer profiles",
	"customers.update":    "Edit customer profiles",
	"staff.read":          "View staff members",
	"staff.manage":        "Invite and edit staff members",
	"reports.read":        "View reports",
	"reports.export":      "Export reports",
	"analytics.read":      "View analytics dashboards",
	"settings.read":       "View tenant settings",
	"settings.update":     "Change tenant settings",
	PermRolesRead:         "View roles and assignments",
	PermRolesCreate:       "Create roles",
	PermRolesUpdate:       "Edit roles and their permissions",
	PermRolesDelete:       "Delete roles",
	PermRolesAssign:       "Assign and revoke roles",
	PermTokensRevoke:      "Revoke sessions",
	PermTokensBan:         "Blacklist tokens",
}

// Catalog is the closed registry of recognized permission strings, keyed "<module>.<action>".
// It is immutable after construction and safe for concurrent use.
type Catalog struct {
	labels  map[string]string
	modules map[string][]string
	keys    []string
}

// DefaultCatalog returns the catalog of permissions known to this service.
func DefaultCatalog() *Catalog {
	return NewCatalog(builtinPermissions)
}

// NewCatalog builds a catalog from permission key to human label. Keys without a module prefix are ignored.
func NewCatalog(entries map[string]string) *Catalog {
	c := &Catalog{
		labels:  make(map[string]string, len(entries)),
		modules: make(map[string][]string),
	}
	for key, label := range entries {
		key = strings.TrimSpace(strings.ToLower(key))
		module, action, ok := strings.Cut(key, ".")
		if !ok || module == "" || action == "" || action == Wildcard {
			continue
		}
		c.labels[key] = label
		c.modules[module] = append(c.modules[module], key)
		c.keys = append(c.keys, key)
	}
	sort.Strings(c.keys)
	for _, keys := range c.modules {
		sort.Strings(keys)
	}
	return c
}

// IsValid reports whether permission is "*", "<module>.*" for a known module, or an exact catalog key.
func (c *Catalog) IsValid(permission string) bool {
	if permission == Wildcard {
		return true
	}
	if module, ok := strings.CutSuffix(permission, ".*"); ok {
		return len(c.modules[module]) > 0
	}
	_, ok := c.labels[permission]
	return ok
}

// ExpandWildcard returns the catalog keys covered by pattern. Exact keys expand to themselves;
// unknown entries expand to nothing.
func (c *Catalog) ExpandWildcard(pattern string) []string {
	if pattern == Wildcard {
		return c.Keys()
	}
	if module, ok := strings.CutSuffix(pattern, ".*"); ok {
		keys := c.modules[module]
		out := make([]string, len(keys))
		copy(out, keys)
		return out
	}
	if _, ok := c.labels[pattern]; ok {
		return []string{pattern}
	}
	return nil
}

// Keys returns every catalog key in sorted order.
func (c *Catalog) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Modules returns the sorted module names.
func (c *Catalog) Modules() []string {
	out := make([]string, 0, len(c.modules))
	for m := range c.modules {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Label returns the human readable label of a key.
func (c *Catalog) Label(key string) (string, bool) {
	l, ok := c.labels[key]
	return l, ok
}

// Sanitize normalizes entries and splits them into valid and invalid ones.
// Valid entries are deduplicated and sorted.
func (c *Catalog) Sanitize(perms []string) (valid, invalid []string) {
	seen := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		if c.IsValid(p) {
			valid = append(valid, p)
		} else {
			invalid = append(invalid, p)
		}
	}
	sort.Strings(valid)
	return valid, invalid
}
