package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/topics"
)

// TopicService is the slice of the topic service the REST surface
// needs.
type TopicService interface {
	CreateTopic(ctx context.Context, instanceID string, spec domain.TopicSpec, userID string) (*topics.OperationResult, error)
	ListTopics(ctx context.Context, instanceID string, includeInternal bool, userID string) ([]string, error)
	DescribeTopic(ctx context.Context, instanceID, name, userID string) (*domain.TopicDescription, error)
	UpdateTopicConfig(ctx context.Context, instanceID, name string, configs map[string]string, userID string) (*topics.OperationResult, error)
	DeleteTopic(ctx context.Context, instanceID, name, userID string) (*topics.OperationResult, error)
	PurgeTopic(ctx context.Context, instanceID, name string, retentionMs int64, userID string) (*topics.OperationResult, error)
	BulkCreateTopics(ctx context.Context, instanceID string, specs []domain.TopicSpec, userID string) (*topics.BulkResult, error)
	BulkDeleteTopics(ctx context.Context, instanceID string, names []string, userID string) (*topics.BulkResult, error)
	GetClusterInfo(ctx context.Context, instanceID string) (*domain.ClusterInfo, error)
}

// TopicHandler serves the topic management REST endpoints under
// /api/v1/clusters/{cluster_id}.
type TopicHandler struct {
	service TopicService
	logger  *logrus.Logger
}

// NewTopicHandler creates the topic REST surface over the service.
func NewTopicHandler(service TopicService, logger *logrus.Logger) *TopicHandler {
	return &TopicHandler{service: service, logger: logger}
}

// Register mounts the topic routes on the router.
func (h *TopicHandler) Register(router *mux.Router) {
	router.HandleFunc("/api/v1/health", h.health).Methods(http.MethodGet)

	cluster := router.PathPrefix("/api/v1/clusters/{cluster_id}").Subrouter()
	cluster.Use(h.requireClusterID)
	cluster.HandleFunc("/topics", h.createTopic).Methods(http.MethodPost)
	cluster.HandleFunc("/topics", h.listTopics).Methods(http.MethodGet)
	cluster.HandleFunc("/topics/bulk", h.bulk).Methods(http.MethodPost)
	cluster.HandleFunc("/topics/{name}", h.describeTopic).Methods(http.MethodGet)
	cluster.HandleFunc("/topics/{name}/config", h.updateConfig).Methods(http.MethodPut)
	cluster.HandleFunc("/topics/{name}", h.deleteTopic).Methods(http.MethodDelete)
	cluster.HandleFunc("/topics/{name}/purge", h.purgeTopic).Methods(http.MethodPost)
	cluster.HandleFunc("/info", h.clusterInfo).Methods(http.MethodGet)
}

// requireClusterID rejects path cluster ids too short to be real.
func (h *TopicHandler) requireClusterID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(mux.Vars(r)["cluster_id"]) < 2 {
			writeErrorStatus(w, http.StatusBadRequest, errors.CodeValidation, "cluster_id must be at least 2 characters")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *TopicHandler) createTopic(w http.ResponseWriter, r *http.Request) {
	clusterID := mux.Vars(r)["cluster_id"]

	var spec domain.TopicSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, errors.CodeValidation, "request body is not valid JSON")
		return
	}

	result, err := h.service.CreateTopic(r.Context(), clusterID, spec, userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	requestLogger(h.logger, r).WithFields(logrus.Fields{
		"cluster_id": clusterID,
		"topic":      spec.Name,
	}).Info("topic created")
	writeJSON(w, http.StatusCreated, result)
}

func (h *TopicHandler) listTopics(w http.ResponseWriter, r *http.Request) {
	clusterID := mux.Vars(r)["cluster_id"]
	includeInternal := r.URL.Query().Get("include_internal") == "true"

	names, err := h.service.ListTopics(r.Context(), clusterID, includeInternal, userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"topics": names,
		"count":  len(names),
	})
}

func (h *TopicHandler) describeTopic(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	description, err := h.service.DescribeTopic(r.Context(), vars["cluster_id"], vars["name"], userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if description == nil {
		writeErrorStatus(w, http.StatusNotFound, errors.CodeTopicNotFound, "topic not found")
		return
	}
	writeJSON(w, http.StatusOK, description)
}

type updateConfigRequest struct {
	Configs map[string]string `json:"configs"`
}

func (h *TopicHandler) updateConfig(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, errors.CodeValidation, "request body is not valid JSON")
		return
	}

	result, err := h.service.UpdateTopicConfig(r.Context(), vars["cluster_id"], vars["name"], req.Configs, userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *TopicHandler) deleteTopic(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	result, err := h.service.DeleteTopic(r.Context(), vars["cluster_id"], vars["name"], userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type purgeRequest struct {
	RetentionMs int64 `json:"retention_ms"`
}

func (h *TopicHandler) purgeTopic(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, errors.CodeValidation, "request body is not valid JSON")
		return
	}

	result, err := h.service.PurgeTopic(r.Context(), vars["cluster_id"], vars["name"], req.RetentionMs, userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type bulkRequest struct {
	Operation  string             `json:"operation"`
	Topics     []domain.TopicSpec `json:"topics,omitempty"`
	TopicNames []string           `json:"topic_names,omitempty"`
}

func (h *TopicHandler) bulk(w http.ResponseWriter, r *http.Request) {
	clusterID := mux.Vars(r)["cluster_id"]

	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, errors.CodeValidation, "request body is not valid JSON")
		return
	}

	var result *topics.BulkResult
	var err error
	switch req.Operation {
	case "create":
		result, err = h.service.BulkCreateTopics(r.Context(), clusterID, req.Topics, userID(r))
	case "delete":
		result, err = h.service.BulkDeleteTopics(r.Context(), clusterID, req.TopicNames, userID(r))
	default:
		writeErrorStatus(w, http.StatusBadRequest, errors.CodeValidation, "operation must be create or delete")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *TopicHandler) clusterInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.GetClusterInfo(r.Context(), mux.Vars(r)["cluster_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *TopicHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": serviceName,
	})
}
