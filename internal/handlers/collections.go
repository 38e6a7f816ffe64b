package handlers

import (
	"net/http"
	"path/filepath"
	"strings"

	"media-archive/internal/integrity"

	"github.com/gorilla/mux"
)

// collectionRoot resolves a collection id to its directory, rejecting
// ids that escape the archive root.
func (h *Handlers) collectionRoot(collectionID string) (string, bool) {
	if collectionID == "" || strings.ContainsAny(collectionID, "/\\") || collectionID == ".." {
		return "", false
	}
	root := filepath.Join(h.archiveRoot, collectionID)
	if !strings.HasPrefix(root, filepath.Clean(h.archiveRoot)+string(filepath.Separator)) {
		return "", false
	}
	return root, true
}

// ListCollectionAssets returns the catalog rows of one collection.
func (h *Handlers) ListCollectionAssets(w http.ResponseWriter, r *http.Request) {
	collectionID := mux.Vars(r)["id"]
	if _, ok := h.collectionRoot(collectionID); !ok {
		writeJSONError(w, "invalid collection id", http.StatusBadRequest)
		return
	}

	assets, err := h.db.ListAssetsByCollection(r.Context(), collectionID)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{
		"collectionId": collectionID,
		"count":        len(assets),
		"assets":       assets,
	})
}

// ValidateCollection re-hashes a collection against its manifest. This
// reads only the files and the manifest, so it works on a collection
// restored from backup with no database at all.
func (h *Handlers) ValidateCollection(w http.ResponseWriter, r *http.Request) {
	collectionID := mux.Vars(r)["id"]
	root, ok := h.collectionRoot(collectionID)
	if !ok {
		writeJSONError(w, "invalid collection id", http.StatusBadRequest)
		return
	}

	report, err := integrity.Validate(root)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, report)
}

// RebuildCollectionManifest rescans and rewrites the manifest from the
// files on disk.
func (h *Handlers) RebuildCollectionManifest(w http.ResponseWriter, r *http.Request) {
	collectionID := mux.Vars(r)["id"]
	root, ok := h.collectionRoot(collectionID)
	if !ok {
		writeJSONError(w, "invalid collection id", http.StatusBadRequest)
		return
	}

	m, err := integrity.Rebuild(root)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{
		"collectionId": collectionID,
		"entries":      len(m.Entries),
	})
}

// RegenerateCollection re-enqueues derived asset jobs for every asset
// in the collection.
func (h *Handlers) RegenerateCollection(w http.ResponseWriter, r *http.Request) {
	collectionID := mux.Vars(r)["id"]
	if _, ok := h.collectionRoot(collectionID); !ok {
		writeJSONError(w, "invalid collection id", http.StatusBadRequest)
		return
	}

	enqueued, err := h.importer.RegenerateDerivedAssets(r.Context(), collectionID)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]interface{}{
		"collectionId": collectionID,
		"jobsEnqueued": enqueued,
	})
}
