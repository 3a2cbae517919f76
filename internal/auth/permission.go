package auth

// Role 전역 사용자 역할
type Role string

const (
	RoleHost      Role = "host"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleModerator, RoleMember:
		return true
	}
	return false
}

// CanModerate 수동 검수 권한 (호스트는 모더레이터 권한 포함)
func (r Role) CanModerate() bool {
	return r == RoleHost || r == RoleModerator
}

// CanHost 발표 모드 제어 권한
func (r Role) CanHost() bool {
	return r == RoleHost
}

// Has reports whether r is one of roles.
func (r Role) Has(roles ...Role) bool {
	for _, want := range roles {
		if r == want {
			return true
		}
	}
	return false
}
