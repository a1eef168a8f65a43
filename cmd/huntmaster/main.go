// Package main is the entry point for huntmaster, a thin CLI wrapper
// around one engine.Engine. It reads raw mono f32le PCM from stdin in
// fixed chunks, feeds it to one session already attached to a master
// call resolved from the feature cache, and prints each ScoreSnapshot
// as it's produced. Each chunk is appended in a single call, so a chunk
// larger than the session ring's free space (2*frame_size minus the
// unframed backlog) fails with an overflow error; the default chunk size
// fits the default 512-sample frame. File I/O (WAV decoding, resampling) is explicitly
// out of scope (§1 non-goals) — this binary only demonstrates wiring
// the facade end to end.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/huntmaster/engine/engine"
	"github.com/huntmaster/engine/internal/config"
	"github.com/huntmaster/engine/internal/session"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config holds the CLI's own flags, distinct from config.EngineConfig.
type Config struct {
	ConfigPath string
	CacheDir   string
	MasterID   string
	ChunkSize  int
	Verbose    bool
}

func main() {
	cfg := parseFlags()

	if cfg.Verbose {
		log.Printf("huntmaster version %s starting...", Version)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.Printf("fatal error: %v", err)
		os.Exit(exitCodeFor(err))
	}
}

func parseFlags() *Config {
	cfg := &Config{}
	flag.StringVar(&cfg.ConfigPath, "config", "", "path to an EngineConfig JSON file (default: built-in 44.1kHz defaults)")
	flag.StringVar(&cfg.CacheDir, "cache-dir", "", "feature-cache directory (default: $TMPDIR/huntmaster-cache)")
	flag.StringVar(&cfg.MasterID, "master-id", "", "master_id to attach, already present in the feature cache (required)")
	flag.IntVar(&cfg.ChunkSize, "chunk-size", 512, "PCM samples read from stdin per chunk")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "enable verbose logging")
	flag.Parse()

	if cfg.CacheDir == "" {
		cfg.CacheDir = os.TempDir() + "/huntmaster-cache"
	}
	return cfg
}

func run(ctx context.Context, cfg *Config) error {
	if cfg.MasterID == "" {
		return fmt.Errorf("missing required -master-id")
	}

	engineCfg, err := loadEngineConfig(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load engine config: %w", err)
	}

	eng, err := engine.New(engineCfg, cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	// The cache-only path: no PCM is supplied here, so a cache miss
	// surfaces as InvalidAudio (nothing to compute from).
	if err := eng.LoadMaster(cfg.MasterID, nil); err != nil {
		return fmt.Errorf("load master %q: %w", cfg.MasterID, err)
	}

	id, err := eng.CreateSession()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer eng.DestroySession(id)

	if err := eng.AttachMasterToSession(id, cfg.MasterID); err != nil {
		return fmt.Errorf("attach master: %w", err)
	}

	return streamStdin(ctx, eng, id, cfg)
}

// snapshotJSON is the wire shape printed for each ScoreSnapshot; it
// exists separately from scorer.Snapshot so the CLI's JSON field names
// stay stable independent of internal struct layout.
type snapshotJSON struct {
	SequenceNumber  int64   `json:"sequenceNumber"`
	Overall         float64 `json:"overall"`
	MfccComponent   float64 `json:"mfccComponent"`
	PitchComponent  float64 `json:"pitchComponent"`
	TimingComponent float64 `json:"timingComponent"`
	Confidence      float64 `json:"confidence"`
	Reliable        bool    `json:"reliable"`
}

func streamStdin(ctx context.Context, eng *engine.Engine, id engine.SessionId, cfg *Config) error {
	buf := make([]byte, cfg.ChunkSize*4)
	samples := make([]float32, cfg.ChunkSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := io.ReadFull(os.Stdin, buf)
		if n > 0 {
			count := n / 4
			for i := 0; i < count; i++ {
				bits := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
				samples[i] = math.Float32frombits(bits)
			}

			snapshot, appendErr := appendAndScore(eng, id, samples[:count])
			if appendErr != nil {
				return fmt.Errorf("append_pcm/drain_and_score: %w", appendErr)
			}
			printSnapshot(snapshot)
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return finalizeAndPrint(eng, id)
		}
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}
}

func appendAndScore(eng *engine.Engine, id engine.SessionId, samples []float32) (snapshotJSON, error) {
	var out snapshotJSON
	err := eng.WithSession(id, func(s *session.Session) error {
		if _, err := s.AppendPCM(samples); err != nil {
			return err
		}
		snap, err := s.DrainAndScore()
		if err != nil {
			return err
		}
		out = snapshotJSON{
			SequenceNumber:  snap.SequenceNumber,
			Overall:         snap.Overall,
			MfccComponent:   snap.MfccComponent,
			PitchComponent:  snap.PitchComponent,
			TimingComponent: snap.TimingComponent,
			Confidence:      snap.Confidence,
			Reliable:        snap.Reliable,
		}
		return nil
	})
	return out, err
}

func finalizeAndPrint(eng *engine.Engine, id engine.SessionId) error {
	err := eng.WithSession(id, func(s *session.Session) error {
		profile, err := s.Finalize()
		if err != nil {
			return err
		}
		data, _ := json.Marshal(profile)
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	})
	return err
}

func printSnapshot(snap snapshotJSON) {
	data, _ := json.Marshal(snap)
	fmt.Fprintln(os.Stdout, string(data))
}

func loadEngineConfig(path string) (config.EngineConfig, error) {
	if path == "" {
		return config.DefaultEngineConfig(44100), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return config.EngineConfig{}, err
	}
	cfg := config.DefaultEngineConfig(44100)
	if err := json.Unmarshal(data, &cfg); err != nil {
		return config.EngineConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.EngineConfig{}, err
	}
	return cfg, nil
}

// exitCodeFor maps a facade error to the CLI exit codes enumerated in §6.
// run wraps every facade error with fmt.Errorf("...: %w", err), so a
// direct type assertion never matches; errors.As unwraps through that.
func exitCodeFor(err error) int {
	var ferr *engine.Error
	if !errors.As(err, &ferr) {
		return 10
	}
	switch ferr.Kind {
	case engine.KindInvalidConfig:
		return 2
	case engine.KindNotFound:
		return 3
	case engine.KindInvalidAudio:
		return 4
	case engine.KindCacheCorrupt:
		return 5
	default:
		return 10
	}
}
