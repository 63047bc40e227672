// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"fmt"
	"os"
)

// ReplayConnector replays a recorded capture file, one frame per line.
// The end of the file ends the stream.
type ReplayConnector struct {
	Path string
}

// Name implements Connector.
func (c ReplayConnector) Name() string { return "replay:" + c.Path }

// Connect implements Connector.
func (c ReplayConnector) Connect() (LineSource, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	return NewLineStream(f, false), nil
}
