package ledger

import "github.com/sheikh-saqib/credit-ledger/internal/models"

// AuthorizeCourtesy allows only administrators to issue courtesy credits.
func AuthorizeCourtesy(caller models.Caller) error {
	return AuthorizeAdmin(caller)
}

// AuthorizeTenantAccess allows administrators on any tenant and tenant-scoped
// callers on their own bound tenant.
func AuthorizeTenantAccess(caller models.Caller, tenantID string) error {
	if caller.IsAdmin {
		return nil
	}
	if caller.BoundTenant != "" && caller.BoundTenant == tenantID {
		return nil
	}
	return models.ErrAccessDenied
}

// AuthorizeAdmin guards operator-only reads.
func AuthorizeAdmin(caller models.Caller) error {
	if !caller.IsAdmin {
		return models.ErrAccessDenied
	}
	return nil
}
