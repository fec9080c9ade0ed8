package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Sync types supported by the scheduler and the webhook ingress.
const (
	SyncTypeMember   = "member"
	SyncTypeDeposit  = "deposit"
	SyncTypeWithdraw = "withdraw"
)

// SyncTypes lists the sync types that get a recurring schedule, in registration order.
var SyncTypes = []string{SyncTypeMember, SyncTypeDeposit, SyncTypeWithdraw}

const (
	SyncModeFull        = "full"
	SyncModeIncremental = "incremental"

	ProxyProtocolHTTP   = "http"
	ProxyProtocolHTTPS  = "https"
	ProxyProtocolSOCKS5 = "socks5"
)

// ProxyConfig describes an optional forward proxy used for all calls of one tenant.
type ProxyConfig struct {
	Enabled  bool   `json:"enabled"`
	Protocol string `json:"protocol" validate:"omitempty,oneof=http https socks5"`
	Host     string `json:"host" validate:"required_if=Enabled true"`
	Port     int    `json:"port" validate:"min=0,max=65535"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Active reports whether requests must be routed through the proxy.
func (p *ProxyConfig) Active() bool {
	return p != nil && p.Enabled && strings.TrimSpace(p.Host) != "" && p.Port > 0
}

// Address returns host:port of the proxy.
func (p *ProxyConfig) Address() string {
	return fmt.Sprintf("%s:%d", strings.TrimSpace(p.Host), p.Port)
}

// SyncTypeConfig holds the per sync type overrides of an integration.
type SyncTypeConfig struct {
	Enabled    bool                   `json:"enabled"`
	SyncMode   string                 `json:"syncMode,omitempty" validate:"omitempty,oneof=full incremental"`
	MaxPages   int                    `json:"maxPages,omitempty" validate:"min=0"`
	SyncCron   string                 `json:"syncCron,omitempty"`
	SyncParams map[string]interface{} `json:"syncParams,omitempty"`

	// deposit only
	SyncDays              int             `json:"syncDays,omitempty" validate:"min=0,max=30"`
	DepositConversionRate decimal.Decimal `json:"depositConversionRate"`
	MaxPointsPerDay       int64           `json:"maxPointsPerDay,omitempty" validate:"min=0"`
	MaxEligibleDeposits   int             `json:"maxEligibleDeposits,omitempty" validate:"min=0"`
}

// IntegrationConfig is the per company configuration of the external platform
// integration. It is stored as JSON on the companies table.
type IntegrationConfig struct {
	Provider    string `json:"provider" validate:"required_if=Enabled true"`
	Enabled     bool   `json:"enabled"`
	APIURL      string `json:"apiUrl,omitempty" validate:"omitempty,url"`
	AccessID    string `json:"accessId,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`

	Proxy *ProxyConfig `json:"proxy,omitempty"`

	IPWhitelistEnabled bool   `json:"ipWhitelistEnabled"`
	IPWhitelist        string `json:"ipWhitelist,omitempty"`
	WebhookSecret      string `json:"webhookSecret,omitempty"`

	SyncCron    string                    `json:"syncCron,omitempty"`
	SyncMode    string                    `json:"syncMode,omitempty" validate:"omitempty,oneof=full incremental"`
	MaxPages    int                       `json:"maxPages,omitempty" validate:"min=0"`
	SyncParams  map[string]interface{}    `json:"syncParams,omitempty"`
	SyncConfigs map[string]SyncTypeConfig `json:"syncConfigs,omitempty" validate:"dive"`
}

var configValidate = validator.New()

// Validate checks the struct tags of the config, including the proxy and the sync type configs.
func (c *IntegrationConfig) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid integration config: %w", err)
	}
	return nil
}

// SyncConfigFor returns the override for syncType and whether one is configured.
func (c *IntegrationConfig) SyncConfigFor(syncType string) (SyncTypeConfig, bool) {
	if c == nil || c.SyncConfigs == nil {
		return SyncTypeConfig{}, false
	}
	cfg, ok := c.SyncConfigs[syncType]
	return cfg, ok
}

// IsSyncTypeEnabled applies the fallback rule: an explicit type config decides,
// otherwise only the member sync follows the root enabled flag.
func (c *IntegrationConfig) IsSyncTypeEnabled(syncType string) bool {
	if c == nil || !c.Enabled {
		return false
	}
	if cfg, ok := c.SyncConfigFor(syncType); ok {
		return cfg.Enabled
	}
	return syncType == SyncTypeMember
}

// CronFor resolves the schedule of syncType: type override, company override, global default.
func (c *IntegrationConfig) CronFor(syncType, globalDefault string) string {
	if cfg, ok := c.SyncConfigFor(syncType); ok && strings.TrimSpace(cfg.SyncCron) != "" {
		return strings.TrimSpace(cfg.SyncCron)
	}
	if strings.TrimSpace(c.SyncCron) != "" {
		return strings.TrimSpace(c.SyncCron)
	}
	return globalDefault
}

// AllowedIPs splits the comma separated whitelist.
func (c *IntegrationConfig) AllowedIPs() []string {
	var out []string
	for _, part := range strings.Split(c.IPWhitelist, ",") {
		if ip := strings.TrimSpace(part); ip != "" {
			out = append(out, ip)
		}
	}
	return out
}

// ParamString renders a free-form param value the way the provider expects it in a form body.
func ParamString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
