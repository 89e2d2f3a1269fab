package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/orchestrator"
)

// Version is stamped at build time.
var Version = "dev"

const serviceName = "kafka-ops-agent"

// InstanceOrchestrator is the slice of the orchestrator the broker
// surface needs.
type InstanceOrchestrator interface {
	CreateInstance(ctx context.Context, req orchestrator.CreateRequest) (*domain.ServiceInstance, error)
	DeleteInstance(ctx context.Context, instanceID, userID string) error
	GetInstance(ctx context.Context, instanceID string) (*domain.ServiceInstance, error)
}

// BrokerHandler serves the service-marketplace protocol endpoints.
type BrokerHandler struct {
	orchestrator InstanceOrchestrator
	logger       *logrus.Logger
}

// NewBrokerHandler creates the broker surface over the orchestrator.
func NewBrokerHandler(orch InstanceOrchestrator, logger *logrus.Logger) *BrokerHandler {
	return &BrokerHandler{orchestrator: orch, logger: logger}
}

// Register mounts the broker routes on the router.
func (h *BrokerHandler) Register(router *mux.Router) {
	router.HandleFunc("/v2/catalog", h.catalog).Methods(http.MethodGet)
	router.HandleFunc("/v2/service_instances/{instance_id}", h.provision).Methods(http.MethodPut)
	router.HandleFunc("/v2/service_instances/{instance_id}", h.deprovision).Methods(http.MethodDelete)
	router.HandleFunc("/v2/service_instances/{instance_id}", h.notSupported).Methods(http.MethodPatch)
	router.HandleFunc("/v2/service_instances/{instance_id}/last_operation", h.lastOperation).Methods(http.MethodGet)
	router.HandleFunc("/v2/service_instances/{instance_id}/service_bindings/{binding_id}", h.notSupported).
		Methods(http.MethodPut, http.MethodDelete)
	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
}

type catalogPlan struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Free        bool   `json:"free"`
}

type catalogService struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Bindable       bool          `json:"bindable"`
	PlanUpdateable bool          `json:"plan_updateable"`
	Tags           []string      `json:"tags"`
	Plans          []catalogPlan `json:"plans"`
}

func (h *BrokerHandler) catalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"services": []catalogService{{
			ID:             domain.ServiceID,
			Name:           "kafka-service",
			Description:    "Self-service Apache Kafka clusters",
			Bindable:       true,
			PlanUpdateable: false,
			Tags:           []string{"kafka", "streaming", "messaging"},
			Plans: []catalogPlan{
				{ID: domain.PlanBasic, Name: "basic", Description: "Single-node development cluster", Free: true},
				{ID: domain.PlanStandard, Name: "standard", Description: "Three-node cluster with replication", Free: false},
				{ID: domain.PlanPremium, Name: "premium", Description: "Hardened production cluster with TLS and SASL", Free: false},
			},
		}},
	})
}

type provisionRequest struct {
	ServiceID        string                 `json:"service_id"`
	PlanID           string                 `json:"plan_id"`
	OrganizationGUID string                 `json:"organization_guid"`
	SpaceGUID        string                 `json:"space_guid"`
	Parameters       map[string]interface{} `json:"parameters"`
}

// validateParameters rejects values the orchestrator would accept into
// a row before failing asynchronously.
func validateParameters(params map[string]interface{}) error {
	if raw, ok := params["cluster_size"]; ok {
		v, ok := raw.(float64)
		if !ok || v != float64(int(v)) || v < 1 || v > 10 {
			return errors.New(errors.CodeValidation, "cluster_size must be an integer between 1 and 10")
		}
	}
	for _, key := range []string{"replication_factor", "retention_hours"} {
		if raw, ok := params[key]; ok {
			v, ok := raw.(float64)
			if !ok || v != float64(int(v)) || v < 1 {
				return errors.Newf(errors.CodeValidation, "%s must be a positive integer", key)
			}
		}
	}
	return nil
}

func (h *BrokerHandler) provision(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instance_id"]

	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		brokerErrorStatus(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if err := validateParameters(req.Parameters); err != nil {
		brokerError(w, err)
		return
	}

	instance, err := h.orchestrator.CreateInstance(r.Context(), orchestrator.CreateRequest{
		InstanceID:       instanceID,
		ServiceID:        req.ServiceID,
		PlanID:           req.PlanID,
		OrganizationGUID: req.OrganizationGUID,
		SpaceGUID:        req.SpaceGUID,
		Parameters:       req.Parameters,
		UserID:           userID(r),
	})
	if err != nil {
		brokerError(w, err)
		return
	}

	requestLogger(h.logger, r).WithField("instance_id", instanceID).Info("provisioning accepted")
	// The orchestrator provisions asynchronously, so a fresh instance is
	// always in creating here and the request is answered 202. The 201
	// arm stays for a synchronously-completing provisioner.
	if instance.Status == domain.InstanceStatusRunning {
		writeJSON(w, http.StatusCreated, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"operation": "provision"})
}

func (h *BrokerHandler) deprovision(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instance_id"]
	query := r.URL.Query()
	if query.Get("service_id") == "" || query.Get("plan_id") == "" {
		brokerErrorStatus(w, http.StatusBadRequest, "service_id and plan_id query parameters are required")
		return
	}

	if err := h.orchestrator.DeleteInstance(r.Context(), instanceID, userID(r)); err != nil {
		if errors.CodeOf(err) == errors.CodeInstanceNotFound {
			writeJSON(w, http.StatusGone, map[string]interface{}{})
			return
		}
		brokerError(w, err)
		return
	}
	requestLogger(h.logger, r).WithField("instance_id", instanceID).Info("deprovisioning accepted")
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

// operationState maps instance status onto the protocol's three
// last-operation states.
func operationState(status domain.InstanceStatus) string {
	switch status {
	case domain.InstanceStatusRunning:
		return "succeeded"
	case domain.InstanceStatusError:
		return "failed"
	default:
		return "in progress"
	}
}

func (h *BrokerHandler) lastOperation(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instance_id"]

	instance, err := h.orchestrator.GetInstance(r.Context(), instanceID)
	if err != nil {
		if errors.CodeOf(err) == errors.CodeInstanceNotFound {
			writeJSON(w, http.StatusGone, map[string]interface{}{})
			return
		}
		brokerError(w, err)
		return
	}

	body := map[string]interface{}{"state": operationState(instance.Status)}
	if instance.Status == domain.InstanceStatusError && instance.ErrorMessage != "" {
		body["description"] = instance.ErrorMessage
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *BrokerHandler) notSupported(w http.ResponseWriter, _ *http.Request) {
	brokerErrorStatus(w, http.StatusUnprocessableEntity, "operation not supported")
}

func (h *BrokerHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": serviceName,
		"version": Version,
	})
}
