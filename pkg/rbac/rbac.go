package rbac

import "fmt"

// 权限常量
const (
	PermissionCreateReply  = "reply:create"
	PermissionReadRuns     = "runs:read"
	PermissionReplayOutbox = "outbox:replay"
)

// 角色常量
const (
	RoleClient = "client"
	RoleAdmin  = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleClient: {
		PermissionCreateReply,
	},
	RoleAdmin: {
		PermissionCreateReply,
		PermissionReadRuns,
		PermissionReplayOutbox,
	},
}

// NormalizeRole 未携带角色的 token 视为 client
func NormalizeRole(role string) string {
	if role == "" {
		return RoleClient
	}
	return role
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	permissions, ok := rolePermissions[NormalizeRole(role)]
	if !ok {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查角色是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Role:       NormalizeRole(role),
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("insufficient permissions: role %q lacks %s", e.Role, e.Permission)
}
