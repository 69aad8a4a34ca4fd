// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"

	"github.com/devblok/kres/resource"
)

// Configuration defines a global streaming configuration setting
type Configuration struct {
	Time      TimeConfiguration
	Streaming StreamingConfiguration
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int
}

// StreamingConfiguration is used to configure the registry and its
// maintenance loop.
type StreamingConfiguration struct {
	Workers       int
	QueueSize     int
	RetainedLimit int

	// FrameBudget and LoadsPerFrame bound one maintenance frame,
	// zero is unlimited
	FrameBudget   time.Duration
	LoadsPerFrame int

	// GCEvery runs garbage collection every that many frames,
	// reclaiming what has been unreferenced for GCMinAge
	GCEvery  int
	GCMinAge time.Duration
}

// Environment keys
const (
	EnvFPS           = "KRES_FPS"
	EnvWorkers       = "KRES_WORKERS"
	EnvQueueSize     = "KRES_QUEUE_SIZE"
	EnvRetainedLimit = "KRES_RETAINED_LIMIT"
	EnvFrameBudget   = "KRES_FRAME_BUDGET"
	EnvLoadsPerFrame = "KRES_LOADS_PER_FRAME"
	EnvGCEvery       = "KRES_GC_EVERY"
	EnvGCMinAge      = "KRES_GC_MIN_AGE"
)

// DefaultConfiguration is used for every key that is not set.
var DefaultConfiguration = Configuration{
	Time: TimeConfiguration{
		FramesPerSecond: 60,
	},
	Streaming: StreamingConfiguration{
		Workers:       resource.DefaultWorkers,
		QueueSize:     resource.DefaultQueueSize,
		RetainedLimit: resource.DefaultRetainedLimit,
		FrameBudget:   4 * time.Millisecond,
		GCEvery:       60,
		GCMinAge:      5 * time.Second,
	},
}

// ConfigurationFromEnv reads the configuration from the environment,
// which includes a .env file in the working directory.
func ConfigurationFromEnv() (Configuration, error) {
	return parseConfiguration(func(key string) (string, bool) {
		v := envy.Get(key, "")
		return v, v != ""
	})
}

// ReadConfiguration reads the configuration from a dotenv file.
func ReadConfiguration(path string) (Configuration, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return Configuration{}, err
	}
	return parseConfiguration(func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	})
}

func parseConfiguration(lookup func(key string) (string, bool)) (Configuration, error) {
	cfg := DefaultConfiguration
	ints := []struct {
		key string
		dst *int
	}{
		{EnvFPS, &cfg.Time.FramesPerSecond},
		{EnvWorkers, &cfg.Streaming.Workers},
		{EnvQueueSize, &cfg.Streaming.QueueSize},
		{EnvRetainedLimit, &cfg.Streaming.RetainedLimit},
		{EnvLoadsPerFrame, &cfg.Streaming.LoadsPerFrame},
		{EnvGCEvery, &cfg.Streaming.GCEvery},
	}
	for _, v := range ints {
		raw, ok := lookup(v.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Configuration{}, fmt.Errorf("%s: %q is not a non-negative integer", v.key, raw)
		}
		*v.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{EnvFrameBudget, &cfg.Streaming.FrameBudget},
		{EnvGCMinAge, &cfg.Streaming.GCMinAge},
	}
	for _, v := range durations {
		raw, ok := lookup(v.key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return Configuration{}, fmt.Errorf("%s: %q is not a duration", v.key, raw)
		}
		*v.dst = d
	}
	return cfg, nil
}

// RegistryOptions turns the streaming configuration into registry options.
func (c StreamingConfiguration) RegistryOptions() []resource.RegistryOption {
	return []resource.RegistryOption{
		resource.WithWorkers(c.Workers),
		resource.WithQueueSize(c.QueueSize),
		resource.WithRetainedLimit(c.RetainedLimit),
	}
}

// Budget is the per frame maintenance budget.
func (c StreamingConfiguration) Budget() resource.Budget {
	return resource.Budget{MaxDuration: c.FrameBudget, MaxLoads: c.LoadsPerFrame}
}

// GCPolicy is the policy of the periodic garbage collection.
func (c StreamingConfiguration) GCPolicy() resource.GCPolicy {
	return resource.GCPolicy{MinAge: c.GCMinAge}
}
