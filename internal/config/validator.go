package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	radio := cfg.GetRadio()
	app := cfg.GetApplication()
	validateRadio(&radio, result)
	validateApplication(&app, result)

	return result
}

func validateRadio(data *RadioConfig, result *ValidationResult) {
	if strings.TrimSpace(data.Host) == "" {
		result.AddError("radio.host", "radio host is required")
	}

	validatePort(data.CommandPort, "radio.command_port", result)
	validatePort(data.StreamPort, "radio.stream_port", result)
	validatePort(data.UDPBasePort, "radio.udp_base_port", result)

	if data.UDPScanCount < 1 {
		result.AddError("radio.udp_scan_count", "must scan at least 1 port")
	} else if data.UDPBasePort+data.UDPScanCount-1 > 65535 {
		result.AddError("radio.udp_scan_count", "port scan runs past 65535")
	}

	if data.ConnectTimeoutSec < 1 {
		result.AddError("radio.connect_timeout_sec", "connect timeout must be at least 1 second")
	}

	if data.KeepAliveEnabled {
		if data.KeepAliveIntervalSec < 1 {
			result.AddError("radio.keepalive_interval_sec", "keep-alive interval must be at least 1 second")
		}
		if data.KeepAliveTimeoutSec <= data.KeepAliveIntervalSec {
			result.AddError("radio.keepalive_timeout_sec", "keep-alive timeout must exceed the interval")
		}
	}

	if data.StreamActivityTimeoutMs < 100 {
		result.AddWarning("radio.stream_activity_timeout_ms",
			"stream activity timeout under 100ms will flap between active and inactive")
	}

	if strings.TrimSpace(data.ClientProgram) == "" {
		result.AddWarning("radio.client_program", "client program is empty, the radio will show no name")
	}
}

func validateApplication(data *ApplicationConfig, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application.api.port", result)
		if data.API.TLSEnabled {
			if strings.TrimSpace(data.API.TLSCertFile) == "" {
				result.AddError("application.api.tls_cert_file",
					"TLS certificate file is required when TLS is enabled")
			}
			if strings.TrimSpace(data.API.TLSKeyFile) == "" {
				result.AddError("application.api.tls_key_file",
					"TLS key file is required when TLS is enabled")
			}
		}
		if data.API.RateLimitRPS < 1 {
			result.AddWarning("application.api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application.mqtt.port", "invalid MQTT port")
		}
	}

	if _, err := zerolog.ParseLevel(data.Logging.Level); err != nil {
		result.AddWarning("application.logging.level",
			fmt.Sprintf("unknown log level %q, falling back to info", data.Logging.Level))
	}

	if strings.TrimSpace(data.Database.Path) == "" {
		result.AddError("application.database.path", "database path is required")
	}

	if data.Timers.HeartbeatInterval > 0 && data.Timers.HeartbeatInterval < 10 {
		result.AddWarning("application.timers.heartbeat_interval_sec",
			"heartbeat interval less than 10s may cause excessive traffic")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a TCP port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
