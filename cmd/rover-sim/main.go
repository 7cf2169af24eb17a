// rover-sim serves a simulated vehicle video feed for feedviewer.
//
// Usage:
//
//	rover-sim [options]
//
// Options:
//
//	-addr          Listen address (default: :8080)
//	-name          Vehicle name (default: "rover")
//	-fps           Frames per second (default: 10)
//	-legacy        Send frames without metadata
//	-no-webrtc     Never answer WebRTC offers
//	-advertise     Advertise with mDNS
//
// Example:
//
//	rover-sim -name "Rover 7" -advertise
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/backkem/roverfeed/examples/common"
	"github.com/backkem/roverfeed/examples/rover"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rover-sim: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", ":8080", "Listen address")
	name := flag.String("name", "rover", "Vehicle name")
	fps := flag.Int("fps", 10, "Frames per second")
	legacy := flag.Bool("legacy", false, "Send frames without metadata")
	noWebRTC := flag.Bool("no-webrtc", false, "Never answer WebRTC offers")
	advertise := flag.Bool("advertise", false, "Advertise with mDNS")
	logLevel := flag.String("log", "info", "Log level")
	flag.Parse()

	if *fps <= 0 {
		return fmt.Errorf("fps must be positive, got %d", *fps)
	}
	level, err := common.ParseLevel(*logLevel)
	if err != nil {
		return err
	}
	logger := common.NewLogger(os.Stderr, level, false)

	srv, err := rover.New(rover.Config{
		Name:          *name,
		FrameInterval: time.Second / time.Duration(*fps),
		Legacy:        *legacy,
		DisableWebRTC: *noWebRTC,
		LoggerFactory: common.SlogLoggerFactory{Logger: logger},
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		return err
	}
	httpServer := &http.Server{Handler: srv, ReadHeaderTimeout: 5 * time.Second}

	if *advertise {
		port := ln.Addr().(*net.TCPAddr).Port
		adv, err := srv.Advertise(port, nil)
		if err != nil {
			return err
		}
		defer adv.Close()
	}

	logger.Info("rover ready", "addr", ln.Addr().String(), "name", *name)

	return common.Run(context.Background(),
		func(ctx context.Context) error {
			if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		func(ctx context.Context) error {
			<-ctx.Done()
			_ = srv.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	)
}
