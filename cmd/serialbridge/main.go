// Command serialbridge relays a serial device to a remote service.
//
// Usage:
//
//	serialbridge [settings-file]
//
// The settings file defaults to settings.ini in the working directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/arloliu/go-serialbridge/bridge"
	"github.com/arloliu/go-serialbridge/logger"
	"github.com/arloliu/go-serialbridge/remote"
	"github.com/arloliu/go-serialbridge/serialport"
	"github.com/arloliu/go-serialbridge/settings"
	"github.com/arloliu/go-serialbridge/statusapi"
)

const (
	logFileName     = "serialbridge.log"
	shutdownTimeout = 5 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// consolePublisher prints status lines and forwards them to the status hub.
type consolePublisher struct {
	out io.Writer
	hub *statusapi.Hub
}

func (p *consolePublisher) Publish(line string) {
	fmt.Fprintln(p.out, line)
	p.hub.Publish(line)
}

func run(args []string, out io.Writer) int {
	path := settings.DefaultPath
	if len(args) > 0 {
		path = args[0]
	}

	s, err := settings.Load(path)
	if err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			fmt.Fprintf(out, "Error: could not load settings file: %s\n", path)
			return 0
		}
		fmt.Fprintf(out, "Error: %v\n", err)

		return 1
	}

	log, closeLog, err := newLogger(s)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serialCfg, err := s.SerialConfig(serialport.WithLogger(log))
	if err != nil {
		log.Error("invalid serial settings", "error", err)
		return 1
	}

	remoteCfg, err := s.RemoteConfig(remote.WithLogger(log))
	if err != nil {
		log.Error("invalid remote settings", "error", err)
		return 1
	}

	codec, err := s.Codec()
	if err != nil {
		log.Error("invalid charset", "error", err)
		return 1
	}

	serialCh, err := serialport.NewChannel(ctx, serialCfg)
	if err != nil {
		log.Error("failed to create serial channel", "error", err)
		return 1
	}

	remoteCh, err := remote.NewChannel(ctx, remoteCfg)
	if err != nil {
		log.Error("failed to create remote channel", "error", err)
		return 1
	}

	hub := statusapi.NewHub()

	b, err := bridge.New(ctx, serialCh, remoteCh,
		bridge.WithDataType(s.Remote.DataType),
		bridge.WithCodec(codec),
		bridge.WithStatusPublisher(&consolePublisher{out: out, hub: hub}),
		bridge.WithLogger(log),
	)
	if err != nil {
		log.Error("failed to create bridge", "error", err)
		return 1
	}

	var api *statusapi.Server
	if s.Status.Listen != "" {
		api, err = statusapi.NewServer(s.Status.Listen, b, hub, statusapi.WithLogger(log))
		if err != nil {
			log.Error("failed to create status api", "error", err)
			return 1
		}
	}

	fmt.Fprintf(out, "Connection type: %s\n", remoteCfg.TransportMode())

	if err := b.Start(); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}

	if api != nil {
		if err := api.Start(); err != nil {
			log.Error("failed to start status api", "error", err)
			_ = b.Stop()

			return 1
		}
		log.Info("status api listening", "addr", api.Addr())
	}

	fmt.Fprintln(out, "Press Ctrl+C to quit")

	exitSig := make(chan os.Signal, 1)
	signal.Notify(exitSig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(exitSig)

	select {
	case sig := <-exitSig:
		log.Info("exit signal received", "signal", sig)
	case <-b.Done():
		log.Warn("bridge stopped", "error", b.Err())
	}

	if err := b.Stop(); err != nil {
		log.Error("bridge stopped with error", "error", err)
	}

	if api != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Warn("status api shutdown", "error", err)
		}
		shutdownCancel()
	}

	fmt.Fprintln(out, "Program stopped")

	var readErr *serialport.ReadError
	if errors.As(b.Err(), &readErr) {
		return 1
	}

	return 0
}

// newLogger builds the process logger. Records go to a file in the log
// directory when one is configured, otherwise to stdout.
func newLogger(s *settings.Settings) (logger.Logger, func(), error) {
	level, err := s.LogLevel()
	if err != nil {
		return nil, nil, err
	}

	opts := logger.Options{Level: level, Console: s.Log.Console}
	closeFn := func() {}

	if dir := s.Remote.LogDirectory; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}

		f, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		opts.Output = f
		closeFn = func() { _ = f.Close() }
	}

	l := logger.NewSlogWithOptions(opts)
	logger.SetLogger(l)

	return l, closeFn, nil
}
