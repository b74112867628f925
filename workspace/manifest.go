package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/covalt-run/flowruntime/errkind"
)

// Manifest is the immutable mapping from workspace-relative path to blob
// hash pinned per message. A Manifest's own hash is
// computed from its canonical JSON encoding, so two messages whose
// workspace content is identical share a manifest hash.
type Manifest struct {
	Files map[string]string
}

// Hash returns the content address of m: sha256 of its canonical
// (sorted-key) JSON encoding.
func (m Manifest) Hash() (string, error) {
	encoded, err := json.Marshal(m.Files)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// ManifestRepository persists manifests by their content hash and tracks
// which one is currently active for a chat. The concrete store (store/
// sqlite) implements this.
type ManifestRepository interface {
	GetManifest(manifestID string) (Manifest, bool, error)
	PutManifest(manifest Manifest) (string, error)
	GetActiveManifestID(chatID string) (string, error)
}

// Materializer rewrites a chat's workspace directory on disk to match one
// pinned manifest, or clears it when no manifest is pinned.
type Materializer struct {
	paths      Paths
	repository ManifestRepository
	blobs      *BlobStore
}

// NewMaterializer constructs a Materializer for chatID.
func NewMaterializer(paths Paths, repository ManifestRepository, blobs *BlobStore) *Materializer {
	return &Materializer{paths: paths, repository: repository, blobs: blobs}
}

// Materialize rewrites chatID's workspace directory to the content pinned
// by manifestID. An empty manifestID falls back to the chat's currently
// active manifest; if there is none, the workspace is cleared.
func (m *Materializer) Materialize(chatID, manifestID string) error {
	if manifestID == "" {
		active, err := m.repository.GetActiveManifestID(chatID)
		if err != nil {
			return err
		}
		manifestID = active
	}

	workspaceDir, err := m.paths.WorkspaceDir(chatID)
	if err != nil {
		return err
	}

	if manifestID == "" {
		return resetDir(workspaceDir)
	}

	manifest, ok, err := m.repository.GetManifest(manifestID)
	if err != nil {
		return err
	}
	if !ok {
		return errkind.Newf(errkind.Resolution, "unknown manifest id: %s", manifestID)
	}

	if err := resetDir(workspaceDir); err != nil {
		return err
	}

	for relPath, hash := range manifest.Files {
		target := filepath.Join(workspaceDir, relPath)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		content, ok := m.blobs.Read(hash)
		if !ok {
			continue
		}
		if err := os.WriteFile(target, content, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// Diff reports the files changed (added or modified) and deleted going
// from preManifestID to postManifestID, either of which may be empty.
func Diff(repository ManifestRepository, preManifestID, postManifestID string) (changed, deleted []string, err error) {
	preFiles := map[string]string{}
	postFiles := map[string]string{}

	if preManifestID != "" {
		m, ok, lookupErr := repository.GetManifest(preManifestID)
		if lookupErr != nil {
			return nil, nil, lookupErr
		}
		if ok {
			preFiles = m.Files
		}
	}
	if postManifestID != "" {
		m, ok, lookupErr := repository.GetManifest(postManifestID)
		if lookupErr != nil {
			return nil, nil, lookupErr
		}
		if ok {
			postFiles = m.Files
		}
	}

	for path, hash := range postFiles {
		if preHash, ok := preFiles[path]; !ok || preHash != hash {
			changed = append(changed, path)
		}
	}
	for path := range preFiles {
		if _, ok := postFiles[path]; !ok {
			deleted = append(deleted, path)
		}
	}
	return changed, deleted, nil
}
