package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"growth-service/internal/config"
	"growth-service/internal/factory"
	"growth-service/internal/handler"
	"growth-service/internal/scheduler"
	"growth-service/internal/service"
	growthtls "growth-service/internal/tls"
	"growth-service/internal/util"
)

func main() {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	util.Info("Starting growth service",
		util.String("environment", cfg.Environment),
		util.String("address", cfg.GetServerAddress()))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	infra, err := factory.NewFactory(ctx, cfg, util.Get())
	cancel()
	if err != nil {
		util.Fatal("Infrastructure initialization failed", util.ErrorField(err))
	}
	defer infra.Close()

	services := service.NewServiceFactory(infra)

	delayWorker := scheduler.New(services.DelayQueue, services.Funnel)
	delayWorker.Start()
	defer delayWorker.Stop()

	router := handler.NewRouter(infra, services, cfg)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errors := make(chan error, 2)

	if cfg.Server.EnableTLS {
		tlsManager, err := growthtls.NewManager(&cfg.Server)
		if err != nil {
			util.Fatal("TLS initialization failed", util.ErrorField(err))
		}

		tlsServer := &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.TLSPort),
			Handler:      router,
			TLSConfig:    tlsManager.TLSConfig(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}

		// Plain HTTP keeps serving ACME challenges and redirects.
		server.Handler = tlsManager.HTTPHandler(router)

		go func() {
			util.Info("HTTPS server listening", util.String("addr", tlsServer.Addr))
			if err := tlsServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				errors <- err
			}
		}()
		defer shutdownServer(tlsServer)
	}

	go func() {
		util.Info("HTTP server listening", util.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errors <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		util.Info("Shutdown signal received", util.String("signal", sig.String()))
	case err := <-errors:
		util.Error("Server failed", util.ErrorField(err))
	}

	shutdownServer(server)
	util.Info("Growth service stopped")
}

func shutdownServer(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		util.Error("Graceful shutdown failed", util.ErrorField(err))
	}
}
