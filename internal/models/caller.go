package models

// Caller is the identity supplied by the authorization layer for a single call.
// It is passed explicitly into every core operation.
type Caller struct {
	IsAdmin     bool
	BoundTenant string // empty for administrators without a tenant binding
}

func Admin() Caller {
	return Caller{IsAdmin: true}
}

func TenantScoped(tenantID string) Caller {
	return Caller{BoundTenant: tenantID}
}

// Tenant is the subset of the tenant directory record the ledger needs.
type Tenant struct {
	ID    string
	Name  string
	Email string
}
