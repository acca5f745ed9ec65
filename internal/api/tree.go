// internal/api/tree.go
package api

import (
	"encoding/base64"
	"net/http"

	"github.com/go-chi/chi/v5"

	"driftpad/internal/blob"
	"driftpad/internal/filetree"
)

func (h *Handler) project(w http.ResponseWriter, r *http.Request) (*filetree.Mutator, bool) {
	projectID := chi.URLParam(r, "projectID")
	mut, err := h.svcs.Trees.Project(r.Context(), projectID)
	if err != nil {
		h.writeErr(w, err)
		return nil, false
	}
	return mut, true
}

// Tree handles GET /projects/{projectID}/tree.
func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	mut, ok := h.project(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.treeState(mut))
}

func (h *Handler) treeState(mut *filetree.Mutator) treeResponse {
	return treeResponse{
		Nodes:     toNodeResponses(mut.Nodes()),
		Tabs:      mut.Tabs(),
		ActiveTab: mut.Active(),
		CanUndo:   mut.CanUndo(),
		CanRedo:   mut.CanRedo(),
	}
}

// CreateFile handles POST /projects/{projectID}/files.
func (h *Handler) CreateFile(w http.ResponseWriter, r *http.Request) {
	mut, ok := h.project(w, r)
	if !ok {
		return
	}
	var req createFileRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := mut.CreateFile(r.Context(), req.ParentID, req.Path, req.Content)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// CreateFolder handles POST /projects/{projectID}/folders.
func (h *Handler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	mut, ok := h.project(w, r)
	if !ok {
		return
	}
	var req createFolderRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := mut.CreateFolder(r.Context(), req.ParentID, req.Path)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// ImportFiles handles POST /projects/{projectID}/import. Base64 items are
// decoded first; bodies that look binary are offloaded to the object store
// when one is configured.
func (h *Handler) ImportFiles(w http.ResponseWriter, r *http.Request) {
	mut, ok := h.project(w, r)
	if !ok {
		return
	}
	var req importRequest
	if !h.decode(w, r, &req) {
		return
	}

	items := make([]filetree.BulkItem, 0, len(req.Items))
	importErrs := []importError{}
	for _, item := range req.Items {
		body := []byte(item.Content)
		if item.Encoding == "base64" {
			decoded, err := base64.StdEncoding.DecodeString(item.Content)
			if err != nil {
				importErrs = append(importErrs, importError{Path: item.Path, Error: "invalid base64 content"})
				continue
			}
			body = decoded
		}
		content := string(body)
		if h.svcs.Blobs != nil && blob.ShouldOffload(body) {
			sentinel, err := h.svcs.Blobs.Offload(r.Context(), body)
			if err != nil {
				importErrs = append(importErrs, importError{Path: item.Path, Error: err.Error()})
				continue
			}
			content = sentinel
		}
		items = append(items, filetree.BulkItem{Path: item.Path, Content: content, ParentID: item.ParentID})
	}

	imported := 0
	for i, err := range mut.ImportFiles(r.Context(), items) {
		if err != nil {
			importErrs = append(importErrs, importError{Path: items[i].Path, Error: err.Error()})
			continue
		}
		imported++
	}
	writeJSON(w, http.StatusOK, importResponse{Imported: imported, Errors: importErrs})
}

// Undo handles POST /projects/{projectID}/undo.
func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	mut, ok := h.project(w, r)
	if !ok {
		return
	}
	if err := mut.Undo(r.Context()); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.treeState(mut))
}

// Redo handles POST /projects/{projectID}/redo.
func (h *Handler) Redo(w http.ResponseWriter, r *http.Request) {
	mut, ok := h.project(w, r)
	if !ok {
		return
	}
	if err := mut.Redo(r.Context()); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.treeState(mut))
}

// MoveNodes handles POST /projects/{projectID}/nodes/move.
func (h *Handler) MoveNodes(w http.ResponseWriter, r *http.Request) {
	mut, ok := h.project(w, r)
	if !ok {
		return
	}
	var req moveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := mut.Move(r.Context(), req.IDs, req.NewParentID); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CopyNodes handles POST /projects/{projectID}/nodes/copy.
func (h *Handler) CopyNodes(w http.ResponseWriter, r *http.Request) {
	mut, ok := h.project(w, r)
	if !ok {
		return
	}
	var req moveRequest
	if !h.decode(w, r, &req) {
		return
	}
	ids, err := mut.Copy(r.Context(), req.IDs, req.NewParentID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"ids": ids})
}

// RenameNode handles POST /projects/{projectID}/nodes/{nodeID}/rename.
func (h *Handler) RenameNode(w http.ResponseWriter, r *http.Request) {
	mut, ok := h.project(w, r)
	if !ok {
		return
	}
	var req renameRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := mut.Rename(r.Context(), chi.URLParam(r, "nodeID"), req.Name); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteNode handles DELETE /projects/{projectID}/nodes/{nodeID}.
func (h *Handler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	mut, ok := h.project(w, r)
	if !ok {
		return
	}
	if err := mut.Delete(r.Context(), chi.URLParam(r, "nodeID")); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FileContent handles GET /projects/{projectID}/files/{nodeID}/content.
// Offloaded bodies come back as their sentinel marker; /raw resolves them.
func (h *Handler) FileContent(w http.ResponseWriter, r *http.Request) {
	content, err := h.svcs.Store.GetFileContent(r.Context(), chi.URLParam(r, "nodeID"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

// SaveFileContent handles PUT /projects/{projectID}/files/{nodeID}/content.
func (h *Handler) SaveFileContent(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svcs.Store.UpsertFileContent(r.Context(), chi.URLParam(r, "nodeID"), req.Content); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FileRaw handles GET /projects/{projectID}/files/{nodeID}/raw. It streams
// the resolved body, fetching offloaded blobs from the object store.
func (h *Handler) FileRaw(w http.ResponseWriter, r *http.Request) {
	content, err := h.svcs.Store.GetFileContent(r.Context(), chi.URLParam(r, "nodeID"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	data := []byte(content)
	if h.svcs.Blobs != nil {
		data, err = h.svcs.Blobs.Resolve(r.Context(), content)
		if err != nil {
			h.writeErr(w, err)
			return
		}
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
