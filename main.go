package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sketchroom/internal/discover"
	"sketchroom/internal/server"
	"sketchroom/internal/session"
	"sketchroom/internal/store"
)

func main() {
	addr := flag.String("addr", ":8888", "address to listen on")
	dbPath := flag.String("db", "sketchroom.sqlite3", "path to the draft database")
	enableMDNS := flag.Bool("mdns", false, "advertise the server on the local network")
	browse := flag.Bool("browse", false, "list sketchroom servers on the local network and exit")
	debug := flag.Bool("debug", false, "verbose development logging")
	flag.Parse()

	if *browse {
		if err := discover.Browse(func(addr string) {
			fmt.Println(addr)
		}); err != nil {
			fmt.Fprintln(os.Stderr, "browse failed:", err)
			os.Exit(1)
		}
		return
	}

	var (
		logger *zap.Logger
		err    error
	)
	if *debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger, *addr, *dbPath, *enableMDNS); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(logger *zap.Logger, addr, dbPath string, enableMDNS bool) error {
	drafts, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer drafts.Close()

	registry := session.NewRegistry(logger)
	srv := server.New(logger, registry, drafts)
	httpServer := &http.Server{Addr: addr, Handler: srv.Router()}

	if enableMDNS {
		if port, err := listenPort(addr); err != nil {
			logger.Warn("cannot advertise over mdns", zap.Error(err))
		} else if mdnsServer, err := discover.Advertise(port); err != nil {
			logger.Warn("mdns advertisement failed", zap.Error(err))
		} else {
			defer mdnsServer.Shutdown()
		}
	}

	if ip, err := discover.OutgoingIP(); err == nil {
		logger.Info("share link", zap.String("url", fmt.Sprintf("http://%s%s", ip, addr)))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-exit:
		logger.Info("signal caught, shutting down", zap.Stringer("sig", sig))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

func listenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("parse listen port: %w", err)
	}
	return port, nil
}
