package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tabledeck/importd/internal/domain"
	"github.com/tabledeck/importd/internal/ingestion"
)

// trailingUUID extracts a job or importer id from the final path segment,
// skipping a known action suffix such as /mapping or /data.
func trailingUUID(path string) (uuid.UUID, bool) {
	trimmed := strings.TrimSuffix(path, "/")
	for {
		idx := strings.LastIndex(trimmed, "/")
		if idx == -1 {
			return uuid.Nil, false
		}
		segment := trimmed[idx+1:]
		id, err := uuid.Parse(segment)
		if err == nil {
			return id, true
		}
		// Action segments like "mapping" sit after the id; step back once.
		trimmed = trimmed[:idx]
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// writeError maps service errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrPromotionInProgress):
		http.Error(w, err.Error(), http.StatusTooEarly)
	case errors.Is(err, domain.ErrJobNotEditable):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrNoFileData),
		errors.Is(err, domain.ErrWebhookDisabled),
		errors.Is(err, ingestion.ErrUnsupportedFormat),
		errors.Is(err, ingestion.ErrEmptyFile):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
