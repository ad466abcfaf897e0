package sync

import (
	"io"
	"net/http"

	"github.com/rohankatakam/warp/internal/codec"
	"github.com/rohankatakam/warp/internal/logging"
	"github.com/rohankatakam/warp/internal/objstore"
)

// Handler serves POST /sync on the peer side: body is a canonical-codec
// encoded Request, response body is a canonical-codec encoded Response.
// Per spec §6: 413 oversized body, 400 schema failure, 500 internal (403
// trust-rejection is a client-side ApplyResponse outcome, not a peer-side
// one — the peer answers any well-formed request regardless of trust).
type Handler struct {
	Store   objstore.Store
	Layout  objstore.RefLayout
	Caps    Caps
	MaxBody int64
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	maxBody := h.MaxBody
	if maxBody <= 0 {
		maxBody = int64(DefaultCaps().MaxBodyBytes)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if int64(len(body)) > maxBody {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	var req Request
	if err := codec.Decode(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if len(req.Frontier) > h.Caps.withDefaults().MaxWritersInFrontier {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resp, err := BuildResponse(r.Context(), h.Store, h.Layout, req)
	if err != nil {
		logging.Error("sync: failed to build response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	out, err := codec.Encode(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
