package identity

import (
	"time"

	"github.com/sgal-dev/sgal/internal/shared"
)

// Account is a directory entry for an utente or a member of staff. The
// engine consults this directory for role and department claims; it never
// mutates it.
type Account struct {
	ID         int64
	Name       string
	Email      string
	NIF        string
	Role       shared.Role
	Department shared.Department
	APIKeyHash string
	Active     bool
	CreatedAt  time.Time
}

// Actor converts the account into the explicit actor value passed to every
// engine operation.
func (a Account) Actor() shared.Actor {
	return shared.Actor{
		ID:         a.ID,
		Name:       a.Name,
		NIF:        a.NIF,
		Role:       a.Role,
		Department: a.Department,
	}
}

// TechnicianRef is the typed (id, name) pair used wherever the legacy system
// passed technician lists around as encoded strings.
type TechnicianRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
