package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tahsilat/sanalpos/gateway"
	"github.com/tahsilat/sanalpos/infra/response"
	"github.com/tahsilat/sanalpos/installment"
	"github.com/tahsilat/sanalpos/store"

	"github.com/go-chi/chi/v5"
)

// ConfigHandler manages gateway configurations and their installment
// options. These endpoints are operator-facing and sit behind API key
// auth.
type ConfigHandler struct {
	store    *store.SQLiteStore
	validate *validator.Validate
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(store *store.SQLiteStore, validate *validator.Validate) *ConfigHandler {
	return &ConfigHandler{store: store, validate: validate}
}

type gatewayConfigPayload struct {
	Name        string `json:"name" validate:"required,max=64"`
	Type        string `json:"type" validate:"required"`
	Environment string `json:"environment" validate:"required,oneof=test production"`

	Username      string `json:"username"`
	Password      string `json:"password"`
	ClientID      string `json:"clientId"`
	MerchantID    string `json:"merchantId"`
	TerminalID    string `json:"terminalId"`
	StoreKey      string `json:"storeKey"`
	ProvisionUser string `json:"provisionUser"`

	HashAlgorithm string `json:"hashAlgorithm" validate:"omitempty,oneof=sha256 sha512"`

	APIURLTest    string `json:"apiUrlTest" validate:"omitempty,url"`
	APIURLProd    string `json:"apiUrlProd" validate:"omitempty,url"`
	ThreeDURLTest string `json:"threeDUrlTest" validate:"omitempty,url"`
	ThreeDURLProd string `json:"threeDUrlProd" validate:"omitempty,url"`
	QueryURLTest  string `json:"queryUrlTest" validate:"omitempty,url"`
	QueryURLProd  string `json:"queryUrlProd" validate:"omitempty,url"`

	TimeoutSeconds int `json:"timeoutSeconds" validate:"omitempty,min=1,max=300"`
	RetryCount     int `json:"retryCount" validate:"omitempty,min=0,max=5"`

	Use3DSecure    bool `json:"use3dSecure"`
	Force3DSecure  bool `json:"force3dSecure"`
	AllowNonSecure bool `json:"allowNonSecure"`

	AllowRefund         bool `json:"allowRefund"`
	AllowCancel         bool `json:"allowCancel"`
	EnableInstallments  bool `json:"enableInstallments"`
	MaxInstallmentCount int  `json:"maxInstallmentCount" validate:"required,min=1,max=24"`
	RefundTimeLimitDays int  `json:"refundTimeLimitDays" validate:"omitempty,min=0,max=365"`
}

func (p gatewayConfigPayload) toConfig() gateway.Config {
	return gateway.Config{
		Name:                p.Name,
		Type:                gateway.Type(p.Type),
		Environment:         gateway.Environment(p.Environment),
		Username:            p.Username,
		Password:            p.Password,
		ClientID:            p.ClientID,
		MerchantID:          p.MerchantID,
		TerminalID:          p.TerminalID,
		StoreKey:            p.StoreKey,
		ProvisionUser:       p.ProvisionUser,
		HashAlgorithm:       gateway.HashAlgorithm(p.HashAlgorithm),
		APIURLTest:          p.APIURLTest,
		APIURLProd:          p.APIURLProd,
		ThreeDURLTest:       p.ThreeDURLTest,
		ThreeDURLProd:       p.ThreeDURLProd,
		QueryURLTest:        p.QueryURLTest,
		QueryURLProd:        p.QueryURLProd,
		Timeout:             time.Duration(p.TimeoutSeconds) * time.Second,
		RetryCount:          p.RetryCount,
		Use3DSecure:         p.Use3DSecure,
		Force3DSecure:       p.Force3DSecure,
		AllowNonSecure:      p.AllowNonSecure,
		AllowRefund:         p.AllowRefund,
		AllowCancel:         p.AllowCancel,
		EnableInstallments:  p.EnableInstallments,
		MaxInstallmentCount: p.MaxInstallmentCount,
		RefundTimeLimitDays: p.RefundTimeLimitDays,
	}
}

// configView is the outward shape of a stored config. Credentials stay
// server-side.
type configView struct {
	ID                  int64  `json:"id"`
	Name                string `json:"name"`
	Type                string `json:"type"`
	Environment         string `json:"environment"`
	Use3DSecure         bool   `json:"use3dSecure"`
	AllowNonSecure      bool   `json:"allowNonSecure"`
	AllowRefund         bool   `json:"allowRefund"`
	AllowCancel         bool   `json:"allowCancel"`
	EnableInstallments  bool   `json:"enableInstallments"`
	MaxInstallmentCount int    `json:"maxInstallmentCount"`
	RefundTimeLimitDays int    `json:"refundTimeLimitDays"`
}

func viewOf(cfg gateway.Config) configView {
	return configView{
		ID:                  cfg.ID,
		Name:                cfg.Name,
		Type:                string(cfg.Type),
		Environment:         string(cfg.Environment),
		Use3DSecure:         cfg.Use3DSecure,
		AllowNonSecure:      cfg.AllowNonSecure,
		AllowRefund:         cfg.AllowRefund,
		AllowCancel:         cfg.AllowCancel,
		EnableInstallments:  cfg.EnableInstallments,
		MaxInstallmentCount: cfg.MaxInstallmentCount,
		RefundTimeLimitDays: cfg.RefundTimeLimitDays,
	}
}

// SaveConfig creates or updates a gateway configuration by name.
func (h *ConfigHandler) SaveConfig(w http.ResponseWriter, r *http.Request) {
	var req gatewayConfigPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	cfg := req.toConfig()
	if err := cfg.Validate(); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid gateway configuration", err)
		return
	}

	// Resolving through the registry catches missing credentials before
	// the config is ever used for a payment.
	if _, err := gateway.Resolve(cfg); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid gateway configuration", err)
		return
	}

	id, err := h.store.SaveGatewayConfig(cfg)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to save configuration", nil)
		return
	}
	cfg.ID = id
	response.Success(w, http.StatusOK, "Configuration saved", viewOf(cfg))
}

// GetConfig returns one configuration without its credentials.
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "configID"), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid config id", nil)
		return
	}
	cfg, err := h.store.GetGatewayConfig(id)
	if err != nil {
		response.Error(w, http.StatusNotFound, "Gateway configuration not found", nil)
		return
	}
	response.Success(w, http.StatusOK, "Configuration retrieved", viewOf(cfg))
}

// ListConfigs returns every configuration without credentials.
func (h *ConfigHandler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.ListGatewayConfigs()
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to list configurations", nil)
		return
	}
	views := make([]configView, 0, len(configs))
	for _, cfg := range configs {
		views = append(views, viewOf(cfg))
	}
	response.Success(w, http.StatusOK, "Configurations listed", views)
}

// DeleteConfig removes a configuration.
func (h *ConfigHandler) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "configID"), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid config id", nil)
		return
	}
	if err := h.store.DeleteGatewayConfig(id); err != nil {
		response.Error(w, http.StatusNotFound, "Gateway configuration not found", nil)
		return
	}
	response.Success(w, http.StatusOK, "Configuration deleted", nil)
}

type installmentOptionPayload struct {
	Count          int     `json:"count" validate:"required,min=1,max=24"`
	CommissionRate float64 `json:"commissionRate" validate:"omitempty,min=0,max=100"`
	InterestRate   float64 `json:"interestRate" validate:"omitempty,min=0,max=100"`
	MinAmount      float64 `json:"minAmount" validate:"omitempty,min=0"`
	MaxAmount      float64 `json:"maxAmount" validate:"omitempty,min=0"`
	Active         bool    `json:"active"`
	Description    string  `json:"description" validate:"omitempty,max=128"`
}

// SaveInstallmentOption creates or updates the option for a count
// under a configuration.
func (h *ConfigHandler) SaveInstallmentOption(w http.ResponseWriter, r *http.Request) {
	configID, err := strconv.ParseInt(chi.URLParam(r, "configID"), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid config id", nil)
		return
	}
	if _, err := h.store.GetGatewayConfig(configID); err != nil {
		response.Error(w, http.StatusNotFound, "Gateway configuration not found", nil)
		return
	}

	var req installmentOptionPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	opt := installment.Option{
		ConfigID:       configID,
		Count:          req.Count,
		CommissionRate: req.CommissionRate,
		InterestRate:   req.InterestRate,
		MinAmount:      req.MinAmount,
		MaxAmount:      req.MaxAmount,
		Active:         req.Active,
		Description:    req.Description,
	}
	id, err := h.store.SaveInstallmentOption(opt)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid installment option", err)
		return
	}
	opt.ID = id
	response.Success(w, http.StatusOK, "Installment option saved", opt)
}

// ListInstallmentOptions returns the options under a configuration.
func (h *ConfigHandler) ListInstallmentOptions(w http.ResponseWriter, r *http.Request) {
	configID, err := strconv.ParseInt(chi.URLParam(r, "configID"), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid config id", nil)
		return
	}
	options, err := h.store.ListInstallmentOptions(configID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to list installment options", nil)
		return
	}
	response.Success(w, http.StatusOK, "Installment options listed", options)
}

// DeleteInstallmentOption removes one option.
func (h *ConfigHandler) DeleteInstallmentOption(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "optionID"), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid option id", nil)
		return
	}
	if err := h.store.DeleteInstallmentOption(id); err != nil {
		response.Error(w, http.StatusNotFound, "Installment option not found", nil)
		return
	}
	response.Success(w, http.StatusOK, "Installment option deleted", nil)
}
