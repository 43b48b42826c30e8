package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/storage"
)

const maxBodyBytes = 1 << 20 // 1MB body cap on POST endpoints

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config)
}

func (s *Server) handleBlockByHash(w http.ResponseWriter, r *http.Request) {
	hash, err := block.HashFromHex(r.PathValue("hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid block hash: "+err.Error())
		return
	}
	blk, err := s.coord.GetBlockByHash(r.Context(), hash)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "block not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, blk)
}

func (s *Server) handleBlockByHeight(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(r.PathValue("h"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid height: "+err.Error())
		return
	}
	blk, err := s.coord.GetBlockByHeight(r.Context(), height)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "block not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, blk)
}

func (s *Server) handleBlockCertificates(w http.ResponseWriter, r *http.Request) {
	hash, err := block.HashFromHex(r.PathValue("hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid block hash: "+err.Error())
		return
	}
	certs, err := s.coord.GetBlockCertificates(r.Context(), hash)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "certificates not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, certs)
}

func (s *Server) handleLastBlock(w http.ResponseWriter, r *http.Request) {
	blk, err := s.coord.GetLastBlock(r.Context())
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no blocks committed yet")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, blk)
}

func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var msg block.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message body: "+err.Error())
		return
	}
	err := s.coord.SubmitMessage(r.Context(), msg)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"id": msg.ID.String()})
	case errors.Is(err, block.ErrDuplicateMessage):
		writeError(w, http.StatusBadRequest, "duplicate message")
	case errors.Is(err, block.ErrMempoolFull):
		writeError(w, http.StatusBadRequest, "mempool full")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type dhtStoreRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleDhtStore(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req dhtStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid dht store body: "+err.Error())
		return
	}
	key, err := hex.DecodeString(req.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, "key must be hex-encoded: "+err.Error())
		return
	}
	value, err := hex.DecodeString(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "value must be hex-encoded: "+err.Error())
		return
	}
	if err := s.dht.StoreInDht(key, value); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleDhtQuery(w http.ResponseWriter, r *http.Request) {
	keyHex := r.URL.Query().Get("key")
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, "key must be hex-encoded: "+err.Error())
		return
	}
	value, found, err := s.dht.QueryDht(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]any{"value": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"value": hex.EncodeToString(value)})
}
