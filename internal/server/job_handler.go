package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tabledeck/importd/internal/domain"
	"github.com/tabledeck/importd/internal/importjob"
)

const maxUploadBytes = 64 << 20 // 64 MiB

// JobHandler serves the import job lifecycle endpoints.
type JobHandler struct {
	service *importjob.Service
}

func NewJobHandler(service *importjob.Service) http.Handler {
	return &JobHandler{service: service}
}

func (h *JobHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, hasID := trailingUUID(r.URL.Path)
	switch {
	case r.Method == http.MethodPost && !hasID:
		h.handleCreate(w, r)
		return
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/mapping"):
		h.handleSetMapping(w, r, id)
		return
	case r.Method == http.MethodPatch && strings.HasSuffix(r.URL.Path, "/cell"):
		h.handleUpdateCell(w, r, id)
		return
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/save"):
		h.handleSave(w, r, id)
		return
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/validate"):
		h.handleValidate(w, r, id)
		return
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/webhook"):
		h.handleResendWebhook(w, r, id)
		return
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/data"):
		h.handleGetData(w, r, id)
		return
	case r.Method == http.MethodGet && hasID:
		h.handleGet(w, r, id)
		return
	case r.Method == http.MethodGet:
		h.handleList(w, r)
		return
	case r.Method == http.MethodDelete && hasID:
		h.handleDelete(w, r, id)
		return
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
}

type createJobPayload struct {
	ImporterID    string            `json:"importerId"`
	FileName      string            `json:"fileName"`
	Data          string            `json:"data"`
	Source        string            `json:"source"`
	ColumnMapping map[string]string `json:"columnMapping"`
}

func (h *JobHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req importjob.CreateJobRequest
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		req, err = parseMultipartUpload(r)
	} else {
		req, err = parseJSONUpload(r)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	job, err := h.service.CreateJob(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func parseJSONUpload(r *http.Request) (importjob.CreateJobRequest, error) {
	var payload createJobPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&payload); err != nil {
		return importjob.CreateJobRequest{}, fmt.Errorf("invalid payload: %v", err)
	}
	importerID, err := uuid.Parse(strings.TrimSpace(payload.ImporterID))
	if err != nil {
		return importjob.CreateJobRequest{}, fmt.Errorf("invalid importerId: %v", err)
	}
	data, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		return importjob.CreateJobRequest{}, fmt.Errorf("invalid data: expected base64: %v", err)
	}
	return importjob.CreateJobRequest{
		ImporterID:    importerID,
		Source:        parseSource(payload.Source),
		FileName:      strings.TrimSpace(payload.FileName),
		Payload:       data,
		ColumnMapping: payload.ColumnMapping,
	}, nil
}

func parseMultipartUpload(r *http.Request) (importjob.CreateJobRequest, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return importjob.CreateJobRequest{}, fmt.Errorf("invalid multipart form: %v", err)
	}
	importerID, err := uuid.Parse(strings.TrimSpace(r.FormValue("importer_id")))
	if err != nil {
		return importjob.CreateJobRequest{}, fmt.Errorf("invalid importer_id: %v", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return importjob.CreateJobRequest{}, fmt.Errorf("file is required: %v", err)
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return importjob.CreateJobRequest{}, fmt.Errorf("read upload: %v", err)
	}
	var columnMapping map[string]string
	if raw := strings.TrimSpace(r.FormValue("column_mapping")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &columnMapping); err != nil {
			return importjob.CreateJobRequest{}, fmt.Errorf("invalid column_mapping: %v", err)
		}
	}
	return importjob.CreateJobRequest{
		ImporterID:    importerID,
		Source:        parseSource(r.FormValue("source")),
		FileName:      header.Filename,
		Payload:       data,
		ColumnMapping: columnMapping,
	}, nil
}

func parseSource(raw string) domain.ImportSource {
	if strings.EqualFold(strings.TrimSpace(raw), string(domain.SourcePortal)) {
		return domain.SourcePortal
	}
	return domain.SourceAPI
}

func (h *JobHandler) handleGet(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	job, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var importerID *uuid.UUID
	if raw := strings.TrimSpace(query.Get("importerId")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid importerId: %v", err), http.StatusBadRequest)
			return
		}
		importerID = &id
	}
	limit := 20
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "offset must be zero or positive", http.StatusBadRequest)
			return
		}
		offset = parsed
	}
	jobs, err := h.service.ListJobs(r.Context(), importerID, limit, offset)
	if err != nil {
		http.Error(w, fmt.Sprintf("list jobs: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

type setMappingPayload struct {
	ColumnMapping map[string]string `json:"columnMapping"`
}

func (h *JobHandler) handleSetMapping(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	defer r.Body.Close()
	var payload setMappingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if len(payload.ColumnMapping) == 0 {
		http.Error(w, "columnMapping is required", http.StatusBadRequest)
		return
	}
	job, err := h.service.SetColumnMapping(r.Context(), id, payload.ColumnMapping)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

type updateCellPayload struct {
	Row    int    `json:"row"`
	Column string `json:"column"`
	Value  string `json:"value"`
}

func (h *JobHandler) handleUpdateCell(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	defer r.Body.Close()
	var payload updateCellPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if payload.Row < 0 {
		http.Error(w, "row must be zero or positive", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Column) == "" {
		http.Error(w, "column is required", http.StatusBadRequest)
		return
	}
	result, err := h.service.UpdateCell(r.Context(), id, payload.Row, payload.Column, payload.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type saveDataPayload struct {
	Rows []map[string]any `json:"rows"`
}

func (h *JobHandler) handleSave(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	defer r.Body.Close()
	var payload saveDataPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	result, job, err := h.service.SaveData(r.Context(), id, payload.Rows)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": result,
		"job":    job,
	})
}

func (h *JobHandler) handleValidate(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	defer r.Body.Close()
	var payload saveDataPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	check, err := h.service.ValidateConflictsOnly(r.Context(), id, payload.Rows)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (h *JobHandler) handleGetData(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	grid, err := h.service.GetData(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

func (h *JobHandler) handleResendWebhook(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	event, err := h.service.ResendWebhook(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *JobHandler) handleDelete(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.service.DeleteJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
