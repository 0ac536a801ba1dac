package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleInvestigator = "investigator"
	RoleAnalyst      = "analyst"
	RoleAuditor      = "auditor"
	RoleAdmin        = "admin"
)

// Recorders may append custody events.
var Recorders = []string{RoleInvestigator, RoleAnalyst}

// Readers may read chains, verify them and issue certificates.
var Readers = []string{RoleInvestigator, RoleAnalyst, RoleAuditor}

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsKnownRole(role string) bool {
	switch role {
	case RoleInvestigator, RoleAnalyst, RoleAuditor, RoleAdmin:
		return true
	default:
		return false
	}
}
