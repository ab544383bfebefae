package gateway

import (
	"fmt"
	"strings"
)

// ConfigField declares one credential field a gateway requires, used
// for declarative validation and for surfacing setup requirements to
// operators.
type ConfigField struct {
	Key         string
	Required    bool
	Description string
	MinLength   int
	MaxLength   int
}

// credentialValue maps a ConfigField key to the matching Config field.
func credentialValue(cfg Config, key string) string {
	switch key {
	case "username":
		return cfg.Username
	case "password":
		return cfg.Password
	case "clientId":
		return cfg.ClientID
	case "merchantId":
		return cfg.MerchantID
	case "terminalId":
		return cfg.TerminalID
	case "storeKey":
		return cfg.StoreKey
	case "provisionUser":
		return cfg.ProvisionUser
	default:
		return ""
	}
}

// ValidateFields checks a config against a gateway's declared credential
// requirements. Used by every adapter's Init.
func ValidateFields(gatewayType Type, cfg Config, fields []ConfigField) error {
	for _, field := range fields {
		value := credentialValue(cfg, field.Key)

		if field.Required && strings.TrimSpace(value) == "" {
			return &ConfigError{
				Gateway: string(gatewayType),
				Reason:  fmt.Sprintf("required credential %q is missing", field.Key),
			}
		}
		if value == "" {
			continue
		}
		if field.MinLength > 0 && len(value) < field.MinLength {
			return &ConfigError{
				Gateway: string(gatewayType),
				Reason:  fmt.Sprintf("credential %q must be at least %d characters", field.Key, field.MinLength),
			}
		}
		if field.MaxLength > 0 && len(value) > field.MaxLength {
			return &ConfigError{
				Gateway: string(gatewayType),
				Reason:  fmt.Sprintf("credential %q must not exceed %d characters", field.Key, field.MaxLength),
			}
		}
	}
	return nil
}
