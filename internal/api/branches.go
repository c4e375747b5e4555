package api

import "net/http"

// BranchesHandler lists the configured branches.
type BranchesHandler struct {
	Branches []string
}

// List handles GET /api/branches.
func (h *BranchesHandler) List(w http.ResponseWriter, r *http.Request) {
	branches := h.Branches
	if branches == nil {
		branches = []string{}
	}
	jsonResponse(w, http.StatusOK, branches)
}
