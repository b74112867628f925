package convtree

// WorkspaceMaterializer rematerializes a chat's workspace directory to
// match one pinned manifest. workspace.Materializer implements this;
// defined here (consumer side) so convtree never imports workspace.
type WorkspaceMaterializer interface {
	Materialize(chatID, manifestID string) error
}

// MaterializeToBranch resolves targetID's manifest — or, if targetID
// itself has none, its nearest ancestor's — and rewrites chatID's
// workspace to match it.
func (t *Tree) MaterializeToBranch(materializer WorkspaceMaterializer, chatID, targetID string) error {
	manifestID, err := t.nearestManifest(chatID, targetID)
	if err != nil {
		return err
	}
	return materializer.Materialize(chatID, manifestID)
}

// nearestManifest walks targetID's ancestors (inclusive) until it finds
// one with a non-empty ManifestID, returning "" if none pin a manifest.
func (t *Tree) nearestManifest(chatID, targetID string) (string, error) {
	currentID := targetID
	seen := make(map[string]bool)
	for currentID != "" {
		if seen[currentID] {
			return "", nil
		}
		seen[currentID] = true

		msg, ok, err := t.store.GetMessage(chatID, currentID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", nil
		}
		if msg.ManifestID != "" {
			return msg.ManifestID, nil
		}
		currentID = msg.ParentMessageID
	}
	return "", nil
}
