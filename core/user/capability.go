package user

// Capability is a permission a service operation checks once, at its entry point.
type Capability string

const (
	CapReviewSubmissions Capability = "review_submissions"
	CapAwardPoints       Capability = "award_points"
	CapRecordForOthers   Capability = "record_for_others"
	CapModerate          Capability = "moderate"
	CapManageUsers       Capability = "manage_users"
	CapFollowAllStreams  Capability = "follow_all_streams"
)

var roleCapabilities = map[string][]Capability{
	RoleAdmin: {
		CapReviewSubmissions, CapAwardPoints, CapRecordForOthers, CapModerate, CapManageUsers, CapFollowAllStreams,
	},
	RoleContributor: {CapReviewSubmissions, CapAwardPoints},
}

// Principal is the authenticated caller of an operation, built from a token or a User.
type Principal struct {
	UserID string
	Roles  []string
}

func (p Principal) Can(capability Capability) bool {
	for _, role := range p.Roles {
		for _, c := range roleCapabilities[role] {
			if c == capability {
				return true
			}
		}
	}
	return false
}

// Capabilities lists what p may do, each capability once, in declaration order of its roles.
func (p Principal) Capabilities() []Capability {
	seen := make(map[Capability]bool)
	caps := make([]Capability, 0)
	for _, role := range p.Roles {
		for _, c := range roleCapabilities[role] {
			if !seen[c] {
				seen[c] = true
				caps = append(caps, c)
			}
		}
	}
	return caps
}

// CanAssign reports whether p may hand out roles: nobody grants a role above their own.
func (p Principal) CanAssign(roles []string) bool {
	return p.Can(CapManageUsers) && MaxRolePriority(roles) <= MaxRolePriority(p.Roles)
}

// IsSelf reports whether p acts on its own behalf.
func (p Principal) IsSelf(userID string) bool {
	return p.UserID != "" && p.UserID == userID
}
