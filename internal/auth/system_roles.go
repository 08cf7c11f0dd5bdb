package auth

// SystemRoleOwner is the slug of the highest seeded role.
const SystemRoleOwner = "owner"

// SystemRole is a role installed into every tenant by SeedSystemRoles.
type SystemRole struct {
	Name        string
	Slug        string
	Description string
	Level       int
	Color       string
	Icon        string
	Permissions []string
}

// SystemRoles is the fixed seed set, highest level first.
var SystemRoles = []SystemRole{
	{
		Name: "Owner", Slug: SystemRoleOwner, Level: 90, Color: "#7c3aed", Icon: "crown",
		Description: "Full access to the restaurant account",
		Permissions: []string{Wildcard},
	},
	{
		Name: "Manager", Slug: "manager", Level: 80, Color: "#2563eb", Icon: "briefcase",
		Description: "Runs daily operations and staff",
		Permissions: []string{
			"orders.*", "menu.*", "inventory.*", "reservations.*", "tables.*", "customers.*",
			"reports.*", "analytics.read", "staff.*", "billing.read", "settings.read",
			PermRolesRead, PermRolesAssign, PermTokensRevoke,
		},
	},
	{
		Name: "Accountant", Slug: "accountant", Level: 70, Color: "#0891b2", Icon: "calculator",
		Description: "Billing and financial reporting",
		Permissions: []string{"billing.*", "reports.*", "analytics.read", "orders.read"},
	},
	{
		Name: "Cashier", Slug: "cashier", Level: 60, Color: "#16a34a", Icon: "cash-register",
		Description: "Takes orders and payments",
		Permissions: []string{"orders.create", "orders.read", "orders.update", "billing.create", "billing.read", "tables.read", "customers.read"},
	},
	{
		Name: "Waiter", Slug: "waiter", Level: 50, Color: "#ca8a04", Icon: "utensils",
		Description: "Serves tables",
		Permissions: []string{"orders.create", "orders.read", "orders.update", "tables.*", "reservations.read", "menu.read"},
	},
	{
		Name: "Chef", Slug: "chef", Level: 40, Color: "#dc2626", Icon: "chef-hat",
		Description: "Kitchen operations",
		Permissions: []string{"orders.read", "orders.update", "menu.read", "menu.update", "inventory.read", "inventory.update"},
	},
	{
		Name: "Host", Slug: "host", Level: 30, Color: "#db2777", Icon: "door-open",
		Description: "Greets guests and manages reservations",
		Permissions: []string{"reservations.*", "tables.read", "customers.read"},
	},
}
