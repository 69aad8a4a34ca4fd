// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/devblok/kres/model"
	"github.com/devblok/kres/resource"
	"github.com/devblok/kres/texture"
)

// NewRegistry creates a registry configured by cfg, streaming from src,
// with the built in fallbacks registered.
func NewRegistry(cfg Configuration, src resource.Source, log logrus.FieldLogger) (*resource.Registry, error) {
	options := append(cfg.Streaming.RegistryOptions(),
		resource.WithSource(src),
		resource.WithLogger(log),
	)
	reg := resource.NewRegistry(options...)
	for _, register := range []func(*resource.Registry) error{
		texture.RegisterFallbacks,
		model.RegisterFallbacks,
	} {
		if err := register(reg); err != nil {
			reg.Shutdown(true)
			return nil, err
		}
	}
	return reg, nil
}

// Streamer drives the maintenance path of a registry once per frame.
// It must be the only caller of PerFrameUpdate.
type Streamer struct {
	reg *resource.Registry
	cfg StreamingConfiguration
	log logrus.FieldLogger

	frame     uint64
	collected int
}

// NewStreamer creates a Streamer for reg.
func NewStreamer(reg *resource.Registry, cfg StreamingConfiguration, log logrus.FieldLogger) *Streamer {
	return &Streamer{reg: reg, cfg: cfg, log: log}
}

// Tick runs one maintenance frame, and garbage collection every
// GCEvery frames.
func (s *Streamer) Tick() resource.FrameStats {
	s.frame++
	st := s.reg.PerFrameUpdate(s.cfg.Budget())

	if s.cfg.GCEvery > 0 && s.frame%uint64(s.cfg.GCEvery) == 0 {
		if n := s.reg.GarbageCollect(s.cfg.GCPolicy()); n > 0 {
			s.collected += n
			s.log.WithFields(logrus.Fields{
				"frame":     s.frame,
				"reclaimed": n,
			}).Debug("garbage collected")
		}
	}

	if st.Loaded+st.Dispatched+st.Unloaded+st.Dropped > 0 {
		s.log.WithFields(logrus.Fields{
			"frame":      s.frame,
			"loaded":     st.Loaded,
			"dispatched": st.Dispatched,
			"unloaded":   st.Unloaded,
			"dropped":    st.Dropped,
			"pending":    st.Pending,
		}).Debug("maintenance frame")
	}
	return st
}

// Frames returns how many frames have run.
func (s *Streamer) Frames() uint64 {
	return s.frame
}

// Collected returns how many entities garbage collection reclaimed.
func (s *Streamer) Collected() int {
	return s.collected
}

// Run ticks once per frame of t until ctx is done.
func (s *Streamer) Run(ctx context.Context, t *Time) error {
	ticker := t.FpsTicker()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}
