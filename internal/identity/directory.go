package identity

import (
	"context"
	"sync"

	id "smartop/pkg/domain"
)

// Directory is an in-memory registry of known principals, used to resolve
// notification fan-out sets. Principal provisioning itself happens in the
// identity provider; this mirror only tracks who holds which role per tenant.
type Directory struct {
	mu         sync.RWMutex
	principals map[id.PrincipalID]Principal
}

func NewDirectory() *Directory {
	return &Directory{principals: make(map[id.PrincipalID]Principal)}
}

// Register adds or updates a principal in the directory.
func (d *Directory) Register(p Principal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.principals[p.ID] = p
}

// Managers returns the IDs of every manager in the tenant.
func (d *Directory) Managers(_ context.Context, tenantID id.TenantID) ([]id.PrincipalID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []id.PrincipalID
	for _, p := range d.principals {
		if p.TenantID == tenantID && p.Role == id.RoleManager {
			out = append(out, p.ID)
		}
	}
	return out, nil
}
