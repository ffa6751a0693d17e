package config

import (
	"errors"
	"strings"

	ini "gopkg.in/ini.v1"
)

type MQTTConfig struct {
	Broker               string `ini:"broker"`
	Username             string `ini:"username"`
	Password             string `ini:"password"`
	QoS                  int    `ini:"qos"`
	ClientID             string `ini:"client_id"`
	KeepAliveSeconds     int    `ini:"keepalive_seconds"`
	CommandTopic         string `ini:"command_topic"`
	TelemetryTopicPrefix string `ini:"telemetry_topic_prefix"`
	Retain               bool   `ini:"retain"`
}

type RadioConfig struct {
	NodeID         string `ini:"node_id"`
	SPIPort        string `ini:"spi_port"`
	CEPin          string `ini:"ce_pin"`
	Channel        int    `ini:"channel"`
	DataRate       string `ini:"data_rate"`
	PALevel        string `ini:"pa_level"`
	RetryDelay     int    `ini:"retry_delay"`
	RetryCount     int    `ini:"retry_count"`
	PollIntervalMS int    `ini:"poll_interval_ms"`
	SendAttempts   int    `ini:"send_attempts"`
	SendBackoffMS  int    `ini:"send_backoff_ms"`
}

type LoggingConfig struct {
	File       string `ini:"file"`
	Level      string `ini:"level"`
	Console    bool   `ini:"console"`
	MaxSizeMB  int    `ini:"max_size_mb"`
	MaxBackups int    `ini:"max_backups"`
	MaxAgeDays int    `ini:"max_age_days"`
}

type ServerConfig struct {
	Listen                 string `ini:"listen"`
	ShutdownTimeoutSeconds int    `ini:"shutdown_timeout_seconds"`
}

type CameraConfig struct {
	CapturePath    string `ini:"capture_path"`
	TimeoutSeconds int    `ini:"timeout_seconds"`
	MaxBytes       int64  `ini:"max_bytes"`
	ScratchDir     string `ini:"scratch_dir"`
	KeepCaptures   bool   `ini:"keep_captures"`
}

type ModelConfig struct {
	Path           string `ini:"path"`
	LabelsFile     string `ini:"labels_file"`
	RuntimeLibrary string `ini:"runtime_library"`
	InputSize      int    `ini:"input_size"`
	Softmax        bool   `ini:"softmax"`
}

// Gateway is the configuration of the radio/MQTT bridge process.
type Gateway struct {
	MQTT    MQTTConfig
	Radio   RadioConfig
	Logging LoggingConfig
}

// Inference is the configuration of the image classification service.
type Inference struct {
	Server  ServerConfig
	Camera  CameraConfig
	Model   ModelConfig
	Logging LoggingConfig
}

func defaultLogging() LoggingConfig {
	return LoggingConfig{Level: "info", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28}
}

// DefaultGateway returns the values used for keys absent from the file.
func DefaultGateway() Gateway {
	return Gateway{
		MQTT: MQTTConfig{
			ClientID:             "rpi_nrf24_mqtt_GATEWAY_NODE",
			KeepAliveSeconds:     60,
			CommandTopic:         "uol/uol-cm3070-mod11/sub/#",
			TelemetryTopicPrefix: "your/mqtt/topic",
		},
		Radio: RadioConfig{
			NodeID:         "GATEWAY_NODE",
			SPIPort:        "/dev/spidev0.0",
			CEPin:          "GPIO25",
			Channel:        0x76,
			DataRate:       "1mbps",
			PALevel:        "high",
			RetryDelay:     15,
			RetryCount:     15,
			PollIntervalMS: 100,
			SendAttempts:   3,
			SendBackoffMS:  50,
		},
		Logging: defaultLogging(),
	}
}

// DefaultInference returns the values used for keys absent from the file.
func DefaultInference() Inference {
	return Inference{
		Server: ServerConfig{Listen: "0.0.0.0:8081", ShutdownTimeoutSeconds: 10},
		Camera: CameraConfig{
			CapturePath:    "/capture",
			TimeoutSeconds: 10,
			MaxBytes:       10 << 20,
			ScratchDir:     "captures",
		},
		Model:   ModelConfig{InputSize: 224},
		Logging: defaultLogging(),
	}
}

func load(path string) (*ini.File, error) {
	// IgnoreInlineComment keeps '#' in values such as "uol/uol-cm3070-mod11/sub/#".
	return ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), "\"'")
}

func LoadGateway(path string) (Gateway, error) {
	cfg := DefaultGateway()
	f, err := load(path)
	if err != nil {
		return cfg, err
	}
	if err := f.Section("mqtt").MapTo(&cfg.MQTT); err != nil {
		return cfg, err
	}
	if err := f.Section("radio").MapTo(&cfg.Radio); err != nil {
		return cfg, err
	}
	if err := f.Section("logging").MapTo(&cfg.Logging); err != nil {
		return cfg, err
	}
	cfg.MQTT.CommandTopic = unquote(cfg.MQTT.CommandTopic)
	cfg.MQTT.TelemetryTopicPrefix = strings.TrimRight(unquote(cfg.MQTT.TelemetryTopicPrefix), "/")
	cfg.Radio.NodeID = unquote(cfg.Radio.NodeID)

	if cfg.MQTT.Broker == "" {
		return cfg, errors.New("mqtt broker must be set")
	}
	if cfg.MQTT.CommandTopic == "" || cfg.MQTT.TelemetryTopicPrefix == "" {
		return cfg, errors.New("mqtt command_topic and telemetry_topic_prefix must be set")
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return cfg, errors.New("mqtt qos must be 0, 1 or 2")
	}
	if cfg.Radio.Channel < 0 || cfg.Radio.Channel > 125 {
		return cfg, errors.New("radio channel must be within 0..125")
	}
	if cfg.Radio.RetryDelay < 0 || cfg.Radio.RetryDelay > 15 || cfg.Radio.RetryCount < 0 || cfg.Radio.RetryCount > 15 {
		return cfg, errors.New("radio retry_delay and retry_count must be within 0..15")
	}
	if cfg.Radio.PollIntervalMS <= 0 {
		return cfg, errors.New("radio poll_interval_ms must be positive")
	}
	if cfg.Radio.SendAttempts < 1 {
		cfg.Radio.SendAttempts = 1
	}
	return cfg, nil
}

func LoadInference(path string) (Inference, error) {
	cfg := DefaultInference()
	f, err := load(path)
	if err != nil {
		return cfg, err
	}
	if err := f.Section("server").MapTo(&cfg.Server); err != nil {
		return cfg, err
	}
	if err := f.Section("camera").MapTo(&cfg.Camera); err != nil {
		return cfg, err
	}
	if err := f.Section("model").MapTo(&cfg.Model); err != nil {
		return cfg, err
	}
	if err := f.Section("logging").MapTo(&cfg.Logging); err != nil {
		return cfg, err
	}
	cfg.Camera.CapturePath = "/" + strings.TrimLeft(unquote(cfg.Camera.CapturePath), "/")

	if cfg.Model.Path == "" || cfg.Model.LabelsFile == "" {
		return cfg, errors.New("model path and labels_file must be set")
	}
	if cfg.Model.InputSize <= 0 {
		return cfg, errors.New("model input_size must be positive")
	}
	if cfg.Camera.TimeoutSeconds <= 0 {
		return cfg, errors.New("camera timeout_seconds must be positive")
	}
	return cfg, nil
}
