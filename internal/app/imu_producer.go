// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"log"
	"time"

	"github.com/relabs-tech/imu_logger/internal/config"
)

// RunAcquire records one session from the configured source and exports
// it. Acquisition ends when ctx is done, after duration (if > 0), or when
// the source closes. exportPath overrides cfg.ExportPath when set.
func RunAcquire(ctx context.Context, cfg *config.Config, duration time.Duration, exportPath string) error {
	log.Println("starting imu-logger acquisition")

	p, err := NewPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	ctrl := p.Controller
	if err := ctrl.Start(); err != nil {
		return err
	}

	var timeout <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		log.Println("acquire: interrupted")
	case <-timeout:
		log.Printf("acquire: %v elapsed", duration)
	case <-ctrl.Done():
		log.Printf("acquire: source ended: %s", ctrl.Status().EndReason)
	}

	if err := ctrl.Stop(); err != nil {
		log.Printf("acquire: %v", err)
	}

	if exportPath == "" {
		exportPath = ctrl.ExportPath()
	}
	if err := ctrl.ExportFile(exportPath); err != nil {
		return err
	}

	st := ctrl.Status()
	log.Printf("acquire: session %s: %d rows, %d parse errors, %d degenerate tilts",
		st.SessionID, st.Rows, st.Stats.ParseErrors, st.Stats.DegenerateTilts)
	return nil
}
