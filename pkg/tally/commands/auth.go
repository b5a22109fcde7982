package commands

import "strings"

// Authorizer decides whether a sender may run commands.
type Authorizer interface {
	Allowed(senderID string) bool
}

// AllowList permits a fixed set of sender IDs. It is built once from
// configuration and never modified.
type AllowList struct {
	ids map[string]struct{}
}

// NewAllowList builds an allow-list from ids, ignoring blanks. An empty list
// allows nobody.
func NewAllowList(ids ...string) *AllowList {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return &AllowList{ids: set}
}

func (a *AllowList) Allowed(senderID string) bool {
	_, ok := a.ids[senderID]
	return ok
}

// Len returns the number of allowed senders.
func (a *AllowList) Len() int {
	return len(a.ids)
}

// AllowAll permits every sender.
type AllowAll struct{}

func (AllowAll) Allowed(string) bool { return true }
