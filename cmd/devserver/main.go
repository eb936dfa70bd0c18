// Command devserver serves the request pipelines over plain HTTP for local development.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/hatsunemiku3939/lambdapipe"
	"github.com/hatsunemiku3939/lambdapipe/internal/profiles"
	"github.com/hatsunemiku3939/lambdapipe/pkg/settings"
)

func main() {
	s, err := settings.Load(os.Getenv)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	svc := profiles.NewService(profiles.NewStore(), lambdapipe.DefaultLogger())
	handler, err := newRouter(svc, s)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("🚀 listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("FATAL: %v", err)
	}
}
