package handlers

import (
	"encoding/json"
	"net/http"

	"media-archive/internal/importer"

	"github.com/gorilla/mux"
)

// ImportRequest is the body of POST /api/import.
type ImportRequest struct {
	CollectionID    string               `json:"collectionId"`
	Files           []importer.FileEntry `json:"files"`
	DeleteOriginals bool                 `json:"deleteOriginals"`
	ChunkSize       int                  `json:"chunkSize,omitempty"`
}

// StartImport accepts an import batch and runs it in the background.
// Responds 202 with the batch id; poll GetImportBatch for progress.
func (h *Handlers) StartImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.CollectionID == "" {
		writeJSONError(w, "collectionId is required", http.StatusBadRequest)
		return
	}
	if len(req.Files) == 0 {
		writeJSONError(w, "files is required", http.StatusBadRequest)
		return
	}

	batchID, err := h.importer.StartImport(r.Context(), req.CollectionID, req.Files, importer.Options{
		DeleteOriginals: req.DeleteOriginals,
		ChunkSize:       req.ChunkSize,
	})
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"batchId": batchID})
}

// GetImportBatch returns the persisted state of one batch.
func (h *Handlers) GetImportBatch(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["batchId"]

	batch, err := h.db.GetBatch(r.Context(), batchID)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if batch == nil {
		writeJSONError(w, "batch not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, batch)
}

// CancelImportBatch requests cancellation of a running batch. The batch
// stops at its next chunk boundary; already-settled files stay settled.
func (h *Handlers) CancelImportBatch(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["batchId"]

	if !h.importer.CancelImport(batchID) {
		writeJSONError(w, "no running batch with that id", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"status": "cancelling"})
}
