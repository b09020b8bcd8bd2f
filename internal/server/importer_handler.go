package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tabledeck/importd/internal/domain"
	"github.com/tabledeck/importd/internal/repository"
)

// ImporterHandler serves the importer configuration CRUD endpoints.
type ImporterHandler struct {
	importers repository.ImporterRepository
}

func NewImporterHandler(importers repository.ImporterRepository) http.Handler {
	return &ImporterHandler{importers: importers}
}

func (h *ImporterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, hasID := trailingUUID(r.URL.Path)
	switch {
	case r.Method == http.MethodPost && !hasID:
		h.handleCreate(w, r)
		return
	case r.Method == http.MethodGet && hasID:
		h.handleGet(w, r, id)
		return
	case r.Method == http.MethodGet:
		h.handleList(w, r)
		return
	case r.Method == http.MethodPut && hasID:
		h.handleUpdate(w, r, id)
		return
	case r.Method == http.MethodDelete && hasID:
		h.handleDelete(w, r, id)
		return
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
}

type importerPayload struct {
	Name                    string               `json:"name"`
	Fields                  []domain.FieldSchema `json:"fields"`
	WebhookURL              *string              `json:"webhookUrl"`
	WebhookEnabled          *bool                `json:"webhookEnabled"`
	IncludeDataInWebhook    *bool                `json:"includeDataInWebhook"`
	TruncateData            *bool                `json:"truncateData"`
	WebhookDataSampleSize   *int                 `json:"webhookDataSampleSize"`
	IncludeUnmatchedColumns *bool                `json:"includeUnmatchedColumns"`
	FilterInvalidRows       *bool                `json:"filterInvalidRows"`
}

func (p importerPayload) applyTo(imp *domain.Importer) {
	if p.WebhookURL != nil {
		imp.WebhookURL = strings.TrimSpace(*p.WebhookURL)
	}
	if p.WebhookEnabled != nil {
		imp.WebhookEnabled = *p.WebhookEnabled
	}
	if p.IncludeDataInWebhook != nil {
		imp.IncludeDataInWebhook = *p.IncludeDataInWebhook
	}
	if p.TruncateData != nil {
		imp.TruncateData = *p.TruncateData
	}
	if p.WebhookDataSampleSize != nil {
		imp.WebhookDataSampleSize = p.WebhookDataSampleSize
	}
	if p.IncludeUnmatchedColumns != nil {
		imp.IncludeUnmatchedColumns = *p.IncludeUnmatchedColumns
	}
	if p.FilterInvalidRows != nil {
		imp.FilterInvalidRows = *p.FilterInvalidRows
	}
}

func (h *ImporterHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload importerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if err := validateFields(payload.Fields); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	imp := domain.NewImporter(name, payload.Fields)
	payload.applyTo(&imp)
	created, err := h.importers.Create(r.Context(), imp)
	if err != nil {
		http.Error(w, fmt.Sprintf("create importer: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *ImporterHandler) handleGet(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	imp, err := h.importers.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, imp)
}

func (h *ImporterHandler) handleList(w http.ResponseWriter, r *http.Request) {
	importers, err := h.importers.List(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("list importers: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, importers)
}

func (h *ImporterHandler) handleUpdate(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	defer r.Body.Close()
	var payload importerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	imp, err := h.importers.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if name := strings.TrimSpace(payload.Name); name != "" {
		imp.Name = name
	}
	if payload.Fields != nil {
		if err := validateFields(payload.Fields); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for i := range payload.Fields {
			payload.Fields[i].ExtraRules = domain.NormalizeExtraRules(payload.Fields[i].Type, payload.Fields[i].ExtraRules)
		}
		imp.Fields = payload.Fields
	}
	payload.applyTo(&imp)
	updated, err := h.importers.Update(r.Context(), imp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *ImporterHandler) handleDelete(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.importers.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validateFields(fields []domain.FieldSchema) error {
	seen := map[string]bool{}
	for _, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return fmt.Errorf("field name is required")
		}
		if seen[name] {
			return fmt.Errorf("duplicate field name %q", name)
		}
		seen[name] = true
		switch f.Type {
		case domain.FieldTypeText, domain.FieldTypeNumber, domain.FieldTypeDate,
			domain.FieldTypeEmail, domain.FieldTypePhone, domain.FieldTypeBoolean,
			domain.FieldTypeSelect, domain.FieldTypeCustomRegex:
		default:
			return fmt.Errorf("unsupported field type %q for field %q", f.Type, name)
		}
	}
	return nil
}
