// Package rbac decides which highlight operations a role may perform.
package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleAdmin     Role = "admin"
)

const (
	// ActionRead covers rendering documents, listing highlights and search.
	ActionRead Action = "read"
	// ActionSelect covers capturing selections and toggling the composer.
	ActionSelect Action = "select"
	// ActionComment covers adding highlights and editing their comments.
	ActionComment Action = "comment"
	// ActionDelete removes a single highlight.
	ActionDelete Action = "delete"
	// ActionWrite creates documents and commits new content.
	ActionWrite Action = "write"
	// ActionExport produces PDF/DOCX/HTML exports.
	ActionExport Action = "export"
	// ActionClear removes every highlight of a document.
	ActionClear Action = "clear"
	ActionAdmin Action = "admin"
)

var grants = map[Role][]Action{
	RoleViewer:    {ActionRead, ActionExport},
	RoleCommenter: {ActionRead, ActionExport, ActionSelect, ActionComment, ActionDelete},
	RoleEditor:    {ActionRead, ActionExport, ActionSelect, ActionComment, ActionDelete, ActionWrite, ActionClear},
}

func Can(role Role, action Action) bool {
	if role == RoleAdmin {
		return true
	}
	for _, granted := range grants[role] {
		if granted == action {
			return true
		}
	}
	return false
}

// Normalize maps unknown or empty roles to the least privileged one.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
