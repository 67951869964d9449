package model

// Role 보드 역할
type Role string

const (
	RoleOwner  Role = "Owner"
	RoleEditor Role = "Editor"
)

// String 메서드
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleEditor
}
