package model

const (
	PermRead          = "read"
	PermWrite         = "write"
	PermDelete        = "delete"
	PermChangePerm    = "change_perm"
	PermTakeOwnership = "take_ownership"
)

var AllPerms = []string{PermRead, PermWrite, PermDelete, PermChangePerm, PermTakeOwnership}

// PermSet answers perm -> granted for a single node.
type PermSet map[string]bool

// Full grants every permission.
func Full() PermSet {
	p := make(PermSet, len(AllPerms))
	for _, perm := range AllPerms {
		p[perm] = true
	}
	return p
}

// FromList builds a set where every known permission is present, granted or not.
func FromList(perms []string) PermSet {
	p := make(PermSet, len(AllPerms))
	for _, perm := range AllPerms {
		p[perm] = false
	}
	for _, perm := range perms {
		if _, ok := p[perm]; ok {
			p[perm] = true
		}
	}
	return p
}

func IsValid(perm string) bool {
	for _, p := range AllPerms {
		if p == perm {
			return true
		}
	}
	return false
}

type Entry struct {
	ID        string   `json:"id"`
	NodeID    string   `json:"node_id"`
	UserID    string   `json:"user_id,omitempty"`
	GroupID   string   `json:"group_id,omitempty"`
	Perms     []string `json:"perms"`
	Inherited bool     `json:"inherited"`
}

type GrantRequest struct {
	UserID  string   `json:"user_id"`
	GroupID string   `json:"group_id"`
	Perms   []string `json:"perms"`
}
