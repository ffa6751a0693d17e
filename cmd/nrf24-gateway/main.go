package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nrf24-gateway/internal/bridge"
	"nrf24-gateway/internal/config"
	"nrf24-gateway/internal/gateway"
	"nrf24-gateway/internal/logging"
	mqttcli "nrf24-gateway/internal/mqtt"
	"nrf24-gateway/internal/radio"
	"nrf24-gateway/internal/radio/nrf24"
)

func main() {
	cfgPath := flag.String("config", "configs/gateway.ini", "path of the config file")
	flag.Parse()

	cfg, err := config.LoadGateway(*cfgPath)
	if err != nil {
		panic(err)
	}
	logger, closeLogger, err := logging.NewLogger(logging.Options{
		File:       cfg.Logging.File,
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		panic(err)
	}
	defer closeLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	self := radio.NodeID(cfg.Radio.NodeID)
	if !radio.Known(self) {
		logger.Fatal().Str("node", cfg.Radio.NodeID).Msg("node_id is not in the address table")
	}
	rate, err := nrf24.ParseDataRate(cfg.Radio.DataRate)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid radio config")
	}
	pa, err := nrf24.ParsePALevel(cfg.Radio.PALevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid radio config")
	}
	rcfg := nrf24.DefaultConfig()
	rcfg.Channel = uint8(cfg.Radio.Channel)
	rcfg.DataRate = rate
	rcfg.PALevel = pa
	rcfg.RetryDelay = uint8(cfg.Radio.RetryDelay)
	rcfg.RetryCount = uint8(cfg.Radio.RetryCount)

	client, err := mqttcli.NewClient(mqttcli.ClientOptions{
		Broker:    cfg.MQTT.Broker,
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		Clean:     true,
		KeepAlive: cfg.MQTT.KeepAliveSeconds,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create mqtt client")
	}

	// From here on the radio is held; failures go through Gateway.Run so the
	// CE pin and SPI port are released.
	dev, err := nrf24.Open(cfg.Radio.SPIPort, cfg.Radio.CEPin, rcfg)
	if err != nil {
		logger.Fatal().Err(err).Str("spi", cfg.Radio.SPIPort).Str("ce", cfg.Radio.CEPin).Msg("failed to initialize radio")
	}
	transport := radio.NewTransport(dev, logger.With().Str("component", "radio").Logger())

	br := &bridge.Bridge{
		Logger:       logger.With().Str("component", "bridge").Logger(),
		Radio:        transport,
		MQTT:         client,
		TopicPrefix:  cfg.MQTT.TelemetryTopicPrefix,
		QoS:          byte(cfg.MQTT.QoS),
		Retain:       cfg.MQTT.Retain,
		SendAttempts: cfg.Radio.SendAttempts,
		SendBackoff:  time.Duration(cfg.Radio.SendBackoffMS) * time.Millisecond,
	}
	transport.SetSink(br)

	gw := &gateway.Gateway{
		Radio:        transport,
		MQTT:         client,
		Self:         self,
		CommandTopic: cfg.MQTT.CommandTopic,
		QoS:          byte(cfg.MQTT.QoS),
		OnCommand: func(topic string, payload []byte) {
			br.HandleCommand(ctx, topic, payload)
		},
		Interval: time.Duration(cfg.Radio.PollIntervalMS) * time.Millisecond,
		Logger:   logger,
	}
	if err := gw.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("gateway startup failed")
		stop()
		closeLogger()
		os.Exit(1)
	}
}
