package models

import (
	"sort"

	"github.com/mailbridge/mailbridge/internal/enum"
	"github.com/mailbridge/mailbridge/internal/utils"
)

// Well-known folder names in the backend-neutral namespace. Adapters
// translate these to provider labels or IMAP mailbox names.
const (
	FolderInbox   = "INBOX"
	FolderSent    = "SENT"
	FolderDrafts  = "DRAFTS"
	FolderArchive = "ARCHIVE"
	FolderSpam    = "SPAM"
	FolderTrash   = "TRASH"
)

// Folder describes a mailbox folder or label. Membership with messages
// is many-to-many; true-folder backends simply never produce more than
// one membership per message.
type Folder struct {
	Name string
	Kind enum.FolderKind
}

func systemFolderRank(name string) (int, bool) {
	switch name {
	case FolderInbox:
		return 0, true
	case FolderSent:
		return 2, true
	case FolderDrafts:
		return 3, true
	case FolderArchive:
		return 4, true
	case FolderSpam:
		return 5, true
	case FolderTrash:
		return 6, true
	}
	return 0, false
}

// DefaultFolderPriority is the resolution order for projecting a
// membership set onto a single current folder: INBOX first, then custom
// labels, then the remaining well-known folders with TRASH last.
var DefaultFolderPriority = []string{
	FolderInbox, FolderSent, FolderDrafts, FolderArchive, FolderSpam, FolderTrash,
}

// ResolveFolder picks the current folder for a membership set. Custom
// labels rank between INBOX and the remaining system folders and are
// ordered lexicographically so resolution is deterministic. An explicit
// priority list (first match wins, custom labels implied after its
// first entry) overrides the default. Empty membership resolves to
// ARCHIVE, matching label-based backends where an unlabeled message is
// archived.
func ResolveFolder(labels []string, priority []string) string {
	if len(labels) == 0 {
		return FolderArchive
	}
	if len(priority) == 0 {
		priority = DefaultFolderPriority
	}

	if utils.ContainsString(labels, priority[0]) {
		return priority[0]
	}

	var custom []string
	for _, l := range labels {
		if _, system := systemFolderRank(l); !system {
			custom = append(custom, l)
		}
	}
	if len(custom) > 0 {
		sort.Strings(custom)
		return custom[0]
	}

	for _, p := range priority[1:] {
		if utils.ContainsString(labels, p) {
			return p
		}
	}
	// Membership holds only system folders outside the priority list.
	rest := append([]string(nil), labels...)
	sort.Strings(rest)
	return rest[0]
}
