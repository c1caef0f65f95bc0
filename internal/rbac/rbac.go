package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"smartnotes/internal/store"
)

type Role string
type Action string

const (
	RoleSystem Role = "system"
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
	RoleNone   Role = "none"
)

const (
	ActionSearch Action = "search"
	ActionIndex  Action = "index"
	ActionManage Action = "manage"
)

// SystemViewer is the trusted caller id used by the CLI and internal jobs.
const SystemViewer int64 = 0

func Can(role Role, action Action) bool {
	switch role {
	case RoleSystem, RoleOwner:
		return true
	case RoleMember:
		return action == ActionSearch || action == ActionIndex
	default:
		return false
	}
}

type membershipStore interface {
	GetGroup(context.Context, int64) (store.Group, error)
	IsGroupMember(context.Context, int64, int64) (bool, error)
}

// RoleInGroup resolves the viewer's role in a group. A missing group yields
// RoleNone rather than an error.
func RoleInGroup(ctx context.Context, members membershipStore, viewerID, groupID int64) (Role, error) {
	if viewerID == SystemViewer {
		return RoleSystem, nil
	}
	group, err := members.GetGroup(ctx, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return RoleNone, nil
	}
	if err != nil {
		return RoleNone, fmt.Errorf("load group: %w", err)
	}
	if group.OwnerID == viewerID {
		return RoleOwner, nil
	}
	member, err := members.IsGroupMember(ctx, groupID, viewerID)
	if err != nil {
		return RoleNone, err
	}
	if member {
		return RoleMember, nil
	}
	return RoleNone, nil
}
