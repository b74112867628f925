// Package convtree implements the Conversation Tree: an append-only,
// content-addressed message DAG with an active-leaf pointer per chat,
// sibling branching for retry/edit/continue, and the path/descendant
// queries the orchestrator and branch-switching RPCs need.
package convtree

import (
	"time"

	"github.com/covalt-run/flowruntime/errkind"
)

// Role is a chat message's author role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one node in the conversation DAG.
type Message struct {
	ID              string
	ChatID          string
	Role            Role
	Content         any
	CreatedAt       time.Time
	ParentMessageID string
	IsComplete      bool
	Sequence        int
	ManifestID      string
}

// Store persists messages and each chat's active-leaf pointer. The Store
// assigns a message's ID at insert time; Tree computes its Sequence (one
// past the highest among its siblings) before inserting, and the Store
// writes that Sequence as given.
type Store interface {
	InsertMessage(msg Message) (Message, error)
	GetMessage(chatID, messageID string) (Message, bool, error)
	GetChildren(chatID, parentMessageID string) ([]Message, error)
	GetActiveLeaf(chatID string) (string, error)
	SetActiveLeaf(chatID, messageID string) error
	SetMessageManifest(chatID, messageID, manifestID string) error
}

// Tree orchestrates the Conversation Tree's append/branch/query
// operations over a Store, enforcing the DAG invariants:
// acyclic, one active leaf per chat, unique sibling sequence.
type Tree struct {
	store Store
}

// New constructs a Tree over store.
func New(store Store) *Tree {
	return &Tree{store: store}
}

// nextSequence returns max(sibling.Sequence)+1 among parentMessageID's
// existing children, starting at 1 when there are none.
func (t *Tree) nextSequence(chatID, parentMessageID string) (int, error) {
	siblings, err := t.store.GetChildren(chatID, parentMessageID)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, s := range siblings {
		if s.Sequence > max {
			max = s.Sequence
		}
	}
	return max + 1, nil
}

// AppendMessage inserts a new message as a child of parentMessageID (empty
// for a chat root), assigning the next sibling sequence.
func (t *Tree) AppendMessage(chatID string, parentMessageID string, role Role, content any, isComplete bool) (Message, error) {
	seq, err := t.nextSequence(chatID, parentMessageID)
	if err != nil {
		return Message{}, err
	}
	return t.store.InsertMessage(Message{
		ChatID:          chatID,
		Role:            role,
		Content:         content,
		CreatedAt:       time.Now(),
		ParentMessageID: parentMessageID,
		IsComplete:      isComplete,
		Sequence:        seq,
	})
}

// CreateBranchMessage is an alias for AppendMessage kept for symmetry with
// the original's _create_branch_message naming: every branch operation
// (retry, edit, continue) is, mechanically, appending a new sibling or
// child.
func (t *Tree) CreateBranchMessage(chatID, parentMessageID string, role Role, content any, isComplete bool) (Message, error) {
	return t.AppendMessage(chatID, parentMessageID, role, content, isComplete)
}

// SetActiveLeaf atomically repoints chatID's active-leaf pointer to
// messageID.
func (t *Tree) SetActiveLeaf(chatID, messageID string) error {
	return t.store.SetActiveLeaf(chatID, messageID)
}

// SetMessageManifest pins manifestID as messageID's workspace snapshot.
// A message's manifest is built around the same time the message itself
// is created (attachment uploads resolve into a manifest first), so the
// pin is a separate update rather than an insert-time field.
// MaterializeToBranch resolves through this pin, or the nearest
// ancestor's, when switching branches.
func (t *Tree) SetMessageManifest(chatID, messageID, manifestID string) error {
	return t.store.SetMessageManifest(chatID, messageID, manifestID)
}

// ActiveLeaf returns chatID's current active-leaf message id, or "" for a
// chat with no messages yet.
func (t *Tree) ActiveLeaf(chatID string) (string, error) {
	return t.store.GetActiveLeaf(chatID)
}

// Message returns messageID's row directly, without path or children
// context.
func (t *Tree) Message(chatID, messageID string) (Message, bool, error) {
	return t.store.GetMessage(chatID, messageID)
}

// GetMessagePath walks parent pointers from leafID back to the chat root,
// returning messages ordered root-first.
func (t *Tree) GetMessagePath(chatID, leafID string) ([]Message, error) {
	var path []Message
	currentID := leafID
	seen := make(map[string]bool)
	for currentID != "" {
		if seen[currentID] {
			return nil, errkind.Newf(errkind.Topology, "cycle detected in conversation tree at message %s", currentID)
		}
		seen[currentID] = true

		msg, ok, err := t.store.GetMessage(chatID, currentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errkind.Newf(errkind.Resolution, "unknown message id: %s", currentID)
		}
		path = append(path, msg)
		currentID = msg.ParentMessageID
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// GetMessageChildren returns parentMessageID's children ordered by
// sequence ascending (the Store is expected to return them in that
// order; Tree re-sorts defensively).
func (t *Tree) GetMessageChildren(chatID, parentMessageID string) ([]Message, error) {
	children, err := t.store.GetChildren(chatID, parentMessageID)
	if err != nil {
		return nil, err
	}
	sorted := append([]Message(nil), children...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Sequence > sorted[j].Sequence; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return sorted, nil
}

// GetLeafDescendant walks the active path downward from messageID,
// following whichever child sits on the chat's active-leaf path at each
// level, and returns the leaf it terminates at. If messageID is itself a
// leaf (no children), it is returned unchanged.
func (t *Tree) GetLeafDescendant(chatID, messageID string) (string, error) {
	activeLeafID, err := t.store.GetActiveLeaf(chatID)
	if err != nil {
		return "", err
	}

	activePath, err := t.activePathSet(chatID, activeLeafID)
	if err != nil {
		return "", err
	}

	current := messageID
	for {
		children, err := t.store.GetChildren(chatID, current)
		if err != nil {
			return "", err
		}
		if len(children) == 0 {
			return current, nil
		}

		next := ""
		for _, c := range children {
			if activePath[c.ID] {
				next = c.ID
				break
			}
		}
		if next == "" {
			// None of this node's children sit on the active path (it was
			// off the active leaf's lineage to begin with): descend via
			// the most recently created sibling so the walk still
			// terminates at a genuine leaf.
			next = children[len(children)-1].ID
		}
		current = next
	}
}

func (t *Tree) activePathSet(chatID, activeLeafID string) (map[string]bool, error) {
	set := make(map[string]bool)
	if activeLeafID == "" {
		return set, nil
	}
	path, err := t.GetMessagePath(chatID, activeLeafID)
	if err != nil {
		return nil, err
	}
	for _, m := range path {
		set[m.ID] = true
	}
	return set, nil
}
