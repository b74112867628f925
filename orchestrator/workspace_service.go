package orchestrator

import (
	"github.com/covalt-run/flowruntime/convtree"
	"github.com/covalt-run/flowruntime/workspace"
)

// WorkspaceService is the concrete WorkspaceManager: it binds the
// conversation tree's manifest resolution to the workspace package's
// per-chat blob store, materializer, and attachment resolver.
type WorkspaceService struct {
	Tree      *convtree.Tree
	Paths     workspace.Paths
	Manifests workspace.ManifestRepository
}

// NewWorkspaceService constructs a WorkspaceService over the shared
// conversation tree, data-directory layout, and manifest repository.
func NewWorkspaceService(tree *convtree.Tree, paths workspace.Paths, manifests workspace.ManifestRepository) *WorkspaceService {
	return &WorkspaceService{Tree: tree, Paths: paths, Manifests: manifests}
}

// MaterializeToBranch rewrites chatID's workspace directory to match
// messageID's pinned manifest, or its nearest ancestor's.
func (s *WorkspaceService) MaterializeToBranch(chatID, messageID string) error {
	blobs := workspace.NewBlobStore(s.Paths, chatID)
	materializer := workspace.NewMaterializer(s.Paths, s.Manifests, blobs)
	return s.Tree.MaterializeToBranch(materializer, chatID, messageID)
}

// PrepareAttachments stores pending uploads into chatID's blob store and
// layers them onto the manifest pinned at parentMessageID (or its nearest
// ancestor), returning the saved attachment records and new manifest id.
func (s *WorkspaceService) PrepareAttachments(chatID, parentMessageID string, pending []workspace.PendingAttachment) (workspace.Result, error) {
	parentManifestID := ""
	if parentMessageID != "" {
		if id, ok, err := s.ManifestForMessage(chatID, parentMessageID); err != nil {
			return workspace.Result{}, err
		} else if ok {
			parentManifestID = id
		}
	}

	blobs := workspace.NewBlobStore(s.Paths, chatID)
	resolver := workspace.NewAttachmentResolver(blobs, s.Manifests)
	return resolver.Resolve(parentManifestID, pending)
}

// ManifestForMessage walks messageID's ancestors (inclusive) and returns
// the first pinned manifest id, reporting ok=false when no ancestor pins
// one.
func (s *WorkspaceService) ManifestForMessage(chatID, messageID string) (string, bool, error) {
	currentID := messageID
	seen := make(map[string]bool)
	for currentID != "" && !seen[currentID] {
		seen[currentID] = true
		msg, ok, err := s.Tree.Message(chatID, currentID)
		if err != nil {
			return "", false, err
		}
		if !ok {
			return "", false, nil
		}
		if msg.ManifestID != "" {
			return msg.ManifestID, true, nil
		}
		currentID = msg.ParentMessageID
	}
	return "", false, nil
}
