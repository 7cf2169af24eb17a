// feedviewer connects to a vehicle video feed and saves the newest frame.
//
// Usage:
//
//	feedviewer [options]
//
// Options:
//
//	-config        YAML stream configuration file
//	-transport     auto, websocket, webrtc or snapshot (default: auto)
//	-video         WebSocket video URL
//	-signaling     WebRTC signaling URL
//	-snapshot      Snapshot image URL
//	-discover      Find the endpoints with mDNS
//	-name          Vehicle name to discover
//	-quality       Initial quality 20-95
//	-out           Directory for latest.png
//	-stats         Stats log interval (default: 5s)
//	-mqtt          MQTT broker for telemetry
//	-log           Log level (default: info)
//
// Example:
//
//	feedviewer -discover -name "Rover 7" -out /tmp/feed
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/backkem/roverfeed/examples/common"
	"github.com/backkem/roverfeed/examples/viewer"
	"github.com/backkem/roverfeed/pkg/discovery"
	"github.com/backkem/roverfeed/pkg/stream"
	"github.com/backkem/roverfeed/pkg/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "feedviewer: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := common.ParseFlags()

	level, err := opts.Level()
	if err != nil {
		return err
	}
	logger := common.NewLogger(os.Stderr, level, opts.NoColor)
	loggerFactory := common.SlogLoggerFactory{Logger: logger}

	cfg, err := opts.StreamConfig()
	if err != nil {
		return err
	}
	cfg.LoggerFactory = loggerFactory

	if opts.Discover {
		resolver, err := discovery.NewResolver(discovery.ResolverConfig{LoggerFactory: loggerFactory})
		if err != nil {
			return err
		}
		svc, err := resolver.Discover(context.Background(), opts.DiscoverName)
		if err != nil {
			return err
		}
		logger.Info("discovered vehicle", "name", svc.Endpoints.Name, "host", svc.PreferredIP())
		cfg.VideoURL = svc.Endpoints.VideoURL
		cfg.SignalingURL = svc.Endpoints.SignalingURL
		cfg.SnapshotURL = svc.Endpoints.SnapshotURL
	}

	if opts.MQTTBroker != "" {
		sink, err := telemetry.NewMQTTSink(telemetry.MQTTConfig{
			Broker:        opts.MQTTBroker,
			ClientID:      "feedviewer-" + fmt.Sprint(os.Getpid()),
			Topic:         opts.MQTTTopic,
			LoggerFactory: loggerFactory,
		})
		if err != nil {
			return err
		}
		defer sink.Close()
		cfg.TelemetrySink = sink
	} else {
		cfg.TelemetrySink = telemetry.NewLogSink(loggerFactory)
	}

	client, err := stream.New(cfg)
	if err != nil {
		return err
	}

	v, err := viewer.New(viewer.Config{
		Client:          client,
		OutDir:          opts.OutDir,
		StatsInterval:   opts.StatsInterval,
		RefreshInterval: opts.RefreshInterval,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	logger.Info("starting", "transport", cfg.Transport.String())
	return v.Run(context.Background())
}
