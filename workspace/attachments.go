package workspace

import (
	"fmt"
	"path"
	"strings"
)

// PendingAttachment is a user-uploaded file awaiting materialization into
// a chat's workspace, keyed by the client-assigned attachment id.
type PendingAttachment struct {
	ID       string
	Name     string
	MimeType string
	Size     int64
	Content  []byte
}

// Attachment is a saved attachment record, with Name resolved to whatever
// the workspace actually stored it as (see FileRenames).
type Attachment struct {
	ID       string
	Type     string
	Name     string
	MimeType string
	Size     int64
}

// AttachmentResolver materializes pending attachment uploads into a
// chat's workspace: each file is blob-stored, folded into a new manifest
// layered on the parent message's manifest, and renamed on a name
// collision so no upload silently overwrites an existing workspace file.
type AttachmentResolver struct {
	blobs      *BlobStore
	repository ManifestRepository
}

// NewAttachmentResolver constructs an AttachmentResolver for one chat's
// blob store and manifest repository.
func NewAttachmentResolver(blobs *BlobStore, repository ManifestRepository) *AttachmentResolver {
	return &AttachmentResolver{blobs: blobs, repository: repository}
}

// Result is what Resolve returns: the saved attachment records (with
// resolved names), the new manifest id layering the uploads onto the
// parent, and a rename map from original name to resolved name.
type Result struct {
	Attachments []Attachment
	ManifestID  string
	FileRenames map[string]string
}

// Resolve stores every pending attachment as a blob, builds a new
// manifest that layers them onto parentManifestID's files (renaming on a
// path collision), and returns the saved records. An empty pending list
// returns a zero Result without creating a manifest.
func (r *AttachmentResolver) Resolve(parentManifestID string, pending []PendingAttachment) (Result, error) {
	if len(pending) == 0 {
		return Result{}, nil
	}

	files := map[string]string{}
	if parentManifestID != "" {
		parent, ok, err := r.repository.GetManifest(parentManifestID)
		if err != nil {
			return Result{}, err
		}
		if ok {
			for path, hash := range parent.Files {
				files[path] = hash
			}
		}
	}

	renames := make(map[string]string, len(pending))
	saved := make([]Attachment, 0, len(pending))

	for _, att := range pending {
		hash, err := r.blobs.Store(att.Content)
		if err != nil {
			return Result{}, err
		}

		relPath := uniquePath(files, att.Name)
		files[relPath] = hash
		if relPath != att.Name {
			renames[att.Name] = relPath
		}

		saved = append(saved, Attachment{
			ID:       att.ID,
			Type:     "file",
			Name:     relPath,
			MimeType: att.MimeType,
			Size:     att.Size,
		})
	}

	manifestID, err := r.repository.PutManifest(Manifest{Files: files})
	if err != nil {
		return Result{}, err
	}

	return Result{Attachments: saved, ManifestID: manifestID, FileRenames: renames}, nil
}

// uniquePath returns name, or name suffixed with " (n)" before its
// extension when name already exists in files.
func uniquePath(files map[string]string, name string) string {
	if _, exists := files[name]; !exists {
		return name
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if _, exists := files[candidate]; !exists {
			return candidate
		}
	}
}
