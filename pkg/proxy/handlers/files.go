package handlers

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"mercator-hq/webrelay/pkg/files"
	"mercator-hq/webrelay/pkg/proxy/types"
)

// FilesHandler serves generated and downloaded attachments under
// /files/{name}. Stored names are content hashes, so responses are cached
// as immutable.
type FilesHandler struct {
	Store *files.Store
}

// NewFilesHandler creates a file handler.
func NewFilesHandler(store *files.Store) *FilesHandler {
	return &FilesHandler{Store: store}
}

// ServeHTTP implements the http.Handler interface.
func (h *FilesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	f, info, err := h.Store.Open(name)
	switch {
	case errors.Is(err, files.ErrInvalidName):
		writeError(ctx, w, types.NewInvalidRequestError("invalid file name", "name", types.CodeInvalidValue))
		return
	case errors.Is(err, fs.ErrNotExist):
		errResp := types.NewErrorResponse("file not found", types.ErrorTypeNotFound, "name", "file_not_found")
		writeError(ctx, w, errResp)
		return
	case err != nil:
		slog.ErrorContext(ctx, "failed to open file", "name", name, "error", err)
		writeError(ctx, w, types.NewServerError("failed to open file"))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", files.ContentType(name))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, name, info.ModTime(), f)
}
