// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command kres streams a set of resources through a registry and prints
// the resulting memory report as JSON. The kind of each identifier comes
// from its scheme: tex, mesh, shd or mat.
//
//	kres -dir ./assets tex://stone.png mat://stone.yaml
//	kres -archive assets.kar -env streaming.env mesh://rock.dae
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/devblok/kres/core"
	"github.com/devblok/kres/material"
	"github.com/devblok/kres/model"
	"github.com/devblok/kres/resource"
	"github.com/devblok/kres/shader"
	"github.com/devblok/kres/source"
	"github.com/devblok/kres/texture"
)

var (
	dir     = flag.String("dir", "", "directory to stream from")
	archive = flag.String("archive", "", "kar archive to stream from, searched before -dir")
	envFile = flag.String("env", "", "dotenv file with KRES_* settings, the environment otherwise")
	timeout = flag.Duration("timeout", 10*time.Second, "give up streaming after this long")
	unload  = flag.Bool("unload", false, "release everything and collect before reporting")
	verbose = flag.Bool("v", false, "debug logging")
)

func configuration() (core.Configuration, error) {
	if *envFile != "" {
		return core.ReadConfiguration(*envFile)
	}
	return core.ConfigurationFromEnv()
}

func openSource() (resource.Source, func(), error) {
	var (
		sources []resource.Source
		closers []func()
	)
	if *archive != "" {
		ar, err := source.OpenArchive(*archive)
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, ar)
		closers = append(closers, func() { ar.Close() })
	}
	if *dir != "" {
		sources = append(sources, source.Dir(*dir))
	}
	if len(sources) == 0 {
		return nil, nil, errors.New("one of -dir or -archive is required")
	}
	return source.Logged(source.Chain(sources...), log.StandardLogger()), func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

// load takes a handle to id with the kind its scheme names.
func load(reg *resource.Registry, id string) (resource.Handle, error) {
	switch resource.NormalizeID(id).Scheme() {
	case "tex":
		h, err := resource.Load(reg, texture.Kind, id)
		return h.Untyped(), err
	case "mesh":
		h, err := resource.Load(reg, model.Kind, id)
		return h.Untyped(), err
	case "shd":
		h, err := resource.Load(reg, shader.Kind, id)
		return h.Untyped(), err
	case "mat":
		h, err := resource.Load(reg, material.Kind, id)
		return h.Untyped(), err
	default:
		return resource.Handle{}, fmt.Errorf("%s: unknown scheme", id)
	}
}

func settled(handles []resource.Handle) bool {
	for _, h := range handles {
		if !h.State().Terminal() {
			return false
		}
	}
	return true
}

func main() {
	flag.Parse()
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := configuration()
	if err != nil {
		log.Fatal(err)
	}
	src, closeSource, err := openSource()
	if err != nil {
		log.Fatal(err)
	}
	defer closeSource()

	reg, err := core.NewRegistry(cfg, src, log.StandardLogger())
	if err != nil {
		log.Fatal(err)
	}
	reg.Subscribe(resource.ObserverFunc(func(e resource.Event) {
		log.WithFields(log.Fields{
			"id":    e.ID,
			"kind":  e.Kind,
			"state": e.Descriptor.State,
		}).Debug(e.Type)
	}))

	var handles []resource.Handle
	for _, id := range flag.Args() {
		h, err := load(reg, id)
		if err != nil {
			log.WithField("id", id).Error(err)
			continue
		}
		reg.Preload(h, time.Time{})
		handles = append(handles, h)
	}

	streamer := core.NewStreamer(reg, cfg.Streaming, log.StandardLogger())
	frames := core.NewTime(cfg.Time)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	for !settled(handles) && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-frames.FpsTicker().C:
			streamer.Tick()
		}
	}
	cancel()
	frames.Stop()
	streamer.Tick()

	for _, h := range handles {
		log.WithFields(log.Fields{
			"id":    h.ID(),
			"state": h.State(),
		}).Info("streamed")
	}
	if *unload {
		for i := range handles {
			handles[i].Release()
		}
		handles = nil
		reg.GarbageCollect(resource.GCPolicy{})
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	if err := out.Encode(reg.MemoryReport()); err != nil {
		log.Error(err)
	}

	for i := range handles {
		handles[i].Release()
	}
	if err := reg.Shutdown(false); err != nil {
		log.Error(err)
	}
	log.WithField("frames", streamer.Frames()).Info("done")
}
