package rbac

import (
	"freelancehub/internal/model"
	"freelancehub/pkg/apperror"
)

// 权限常量
const (
	PermissionCreateProject = "project:create"
	PermissionReadProject   = "project:read"
	PermissionTransition    = "project:transition" // bid/milestone/project actions; identity rules live in the engine
	PermissionWriteReview   = "review:write"
	PermissionRespondReview = "review:respond"
	PermissionObserve       = "observe"
	PermissionAdminOutbox   = "admin:outbox"
)

// 角色权限映射。只做粗粒度的角色校验，项目内身份（owner、中标者、出价人）由状态机判断
var rolePermissions = map[model.Role][]string{
	model.RoleClient: {
		PermissionCreateProject,
		PermissionReadProject,
		PermissionTransition,
		PermissionWriteReview,
		PermissionObserve,
	},
	model.RoleFreelancer: {
		PermissionReadProject,
		PermissionTransition,
		PermissionRespondReview,
		PermissionObserve,
	},
	model.RoleAdmin: {
		PermissionReadProject,
		PermissionObserve,
		PermissionAdminOutbox,
	},
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role model.Role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 同 HasPermission，但返回 forbidden 错误便于直接向上返回
func CheckPermission(actor model.Actor, permission string) error {
	if !HasPermission(actor.Role, permission) {
		return apperror.New(apperror.CodeForbidden, "insufficient permissions").
			WithMeta("role", string(actor.Role)).
			WithMeta("permission", permission)
	}
	return nil
}
