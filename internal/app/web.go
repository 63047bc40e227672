// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/relabs-tech/imu_logger/internal/config"
	"github.com/relabs-tech/imu_logger/internal/web"
)

const shutdownTimeout = 5 * time.Second

// RunServe runs the web surface until ctx is done. Acquisition is driven
// over HTTP and the websocket; autostart begins a session right away.
func RunServe(ctx context.Context, cfg *config.Config, autostart bool) error {
	hub := web.NewHub()
	p, err := NewPipeline(cfg, hub)
	if err != nil {
		return err
	}
	defer p.Close()

	ctrl := p.Controller
	if autostart {
		if err := ctrl.Start(); err != nil {
			log.Printf("web: autostart: %v", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.WebAddr(),
		Handler:           web.NewServer(ctrl, hub, cfg.WebStaticDir),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if serr := ctrl.Stop(); serr != nil {
			log.Printf("web: %v", serr)
		}
		return err
	case <-ctx.Done():
	}

	log.Println("web: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("web: shutdown: %v", err)
	}

	if err := ctrl.Stop(); err != nil {
		log.Printf("web: %v", err)
	}
	return nil
}
