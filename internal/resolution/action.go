package resolution

import (
	"github.com/Aman-CERP/mdsentry/internal/conflict"
)

// Action is a user-selectable resolution for a conflict.
type Action string

const (
	ActionReload             Action = "reload"
	ActionKeepMineOverwrite  Action = "keep-mine-and-overwrite"
	ActionIgnoreOnce         Action = "ignore-once"
	ActionReloadDiscardMine  Action = "reload-and-discard-mine"
	ActionSaveCopyElsewhere  Action = "save-copy-elsewhere"
	ActionRecreateFromMemory Action = "recreate-from-memory"
	ActionFindAlternative    Action = "find-alternative"
	ActionRemoveReference    Action = "remove-reference"
	ActionUseNewFile         Action = "use-new-file"
	ActionKeepExistingRef    Action = "keep-existing-reference"
	ActionBreakEdge          Action = "break-edge"
	ActionViewGraph          Action = "view-graph"
	ActionCancelParse        Action = "cancel-parse"
	ActionRetry              Action = "retry"
	ActionContinueReadOnly   Action = "continue-read-only"
	ActionRetryNativeWatch   Action = "retry-native-watch"
	ActionSwitchToPolling    Action = "switch-to-polling"
	ActionDismiss            Action = "dismiss"
)

var offered = map[conflict.Kind][]Action{
	conflict.KindExternalModified:  {ActionReload, ActionKeepMineOverwrite, ActionIgnoreOnce},
	conflict.KindUnsavedVsExternal: {ActionKeepMineOverwrite, ActionReloadDiscardMine, ActionSaveCopyElsewhere},
	conflict.KindExternalDeleted:   {ActionRecreateFromMemory, ActionFindAlternative, ActionRemoveReference},
	conflict.KindCreatedCollision:  {ActionUseNewFile, ActionKeepExistingRef},
	conflict.KindCircular:          {ActionBreakEdge, ActionViewGraph, ActionCancelParse},
	conflict.KindPermissionDenied:  {ActionRetry, ActionSaveCopyElsewhere, ActionContinueReadOnly},
	conflict.KindWatchFailure:      {ActionRetryNativeWatch, ActionSwitchToPolling, ActionDismiss},
}

// Offered returns the actions presented for a conflict kind, in display order.
func Offered(kind conflict.Kind) []Action {
	return append([]Action(nil), offered[kind]...)
}

// IsOffered reports whether a is a valid choice for kind. Dismiss is always
// valid: it is the no-choice outcome of any prompt.
func IsOffered(kind conflict.Kind, a Action) bool {
	if a == ActionDismiss {
		return true
	}
	for _, o := range offered[kind] {
		if o == a {
			return true
		}
	}
	return false
}

// IsDestructive reports whether a overwrites or discards content.
func (a Action) IsDestructive() bool {
	switch a {
	case ActionKeepMineOverwrite, ActionReloadDiscardMine:
		return true
	default:
		return false
	}
}

// Rememberable reports whether a may be stored as a preference.
func (a Action) Rememberable() bool {
	switch a {
	case ActionDismiss, ActionIgnoreOnce, ActionViewGraph, ActionFindAlternative, ActionSaveCopyElsewhere:
		return false
	default:
		return true
	}
}

// Resolution is a chosen action for one conflict.
type Resolution struct {
	ConflictID string `json:"conflict_id"`
	Action     Action `json:"action"`

	// Argument carries the action's parameter: the destination path for
	// save-copy-elsewhere, the replacement include target for
	// find-alternative, or the cycle member whose outgoing edge to drop
	// for break-edge (empty drops the rejected edge itself).
	Argument string `json:"argument,omitempty"`

	// Remember, when set, stores the choice as a preference.
	Remember *Preference `json:"remember,omitempty"`

	// Auto is set when the action came from a stored preference.
	Auto bool `json:"auto,omitempty"`
}
