// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"log"
	"time"

	"github.com/goanna247/diagnostic/internal/datalog"
)

// Replay plays back a raw log, optionally paced at a fixed interval.
type Replay struct {
	r        *datalog.RawReader
	interval time.Duration
	last     time.Time
}

func OpenReplay(path string, interval time.Duration) (*Replay, error) {
	r, err := datalog.OpenRaw(path)
	if err != nil {
		return nil, err
	}
	log.Printf("replay: playing %s every %s", path, interval)
	return &Replay{r: r, interval: interval}, nil
}

func (p *Replay) Next(ctx context.Context) ([]byte, error) {
	if p.interval > 0 && !p.last.IsZero() {
		t := time.NewTimer(time.Until(p.last.Add(p.interval)))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
	p.last = time.Now()
	return p.r.Next()
}

// Summary reports how much has been played so far.
func (p *Replay) Summary() string { return p.r.Summary() }

func (p *Replay) Close() error { return p.r.Close() }
