package shared

// Role identifies an actor's position in the approval chain.
type Role string

const (
	// RoleUtente is the citizen submitting requests and obligations.
	RoleUtente Role = "UTENTE"
	// RoleTecnico is the reviewing technician.
	RoleTecnico Role = "TECNICO"
	// RoleChefe is the department chief.
	RoleChefe Role = "CHEFE"
	// RoleDireccao is the board.
	RoleDireccao Role = "DIRECCAO"
)

// Department identifies the agency department an actor belongs to.
type Department string

const (
	// DepartmentLicenciamento handles authorization requests.
	DepartmentLicenciamento Department = "LICENCIAMENTO"
	// DepartmentMonitorizacao handles monitoring obligations and site visits.
	DepartmentMonitorizacao Department = "MONITORIZACAO"
)

// Actor is the already-authenticated caller of an engine operation. The
// engine never resolves identity itself; every operation receives the actor
// explicitly.
type Actor struct {
	ID         int64
	Name       string
	NIF        string
	Role       Role
	Department Department
}

// Is reports whether the actor holds one of the given roles.
func (a Actor) Is(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// IsStaff reports whether the actor belongs to the agency.
func (a Actor) IsStaff() bool {
	return a.Role == RoleTecnico || a.Role == RoleChefe || a.Role == RoleDireccao
}
