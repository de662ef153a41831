// Copyright (c) 2025 A Bit of Help, Inc.

package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/compression"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/config"
	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/frame"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/keys"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/logger"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/observe"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/writer"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/registry"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/schema"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/seal"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/serialization"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stage"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/stats"
	"github.com/spf13/pflag"
	"github.com/zoobzio/capitan"
	"go.uber.org/zap"
)

// outputMode is the permission of published output files.
const outputMode = 0o644

// common holds the flags shared by encode and decode.
type common struct {
	configPath string
	logLevel   string
	keyring    string
	identity   string
	peers      map[string]string
	showStats  bool
	events     bool
}

func (c *common) register(fs *pflag.FlagSet) {
	fs.StringVarP(&c.configPath, "config", "c", "", "YAML configuration file")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.StringVar(&c.keyring, "keyring", "", "age-encrypted keyring file")
	fs.StringVar(&c.identity, "identity", "", "age identity file that opens the keyring")
	fs.StringToStringVar(&c.peers, "peer", nil, "key id=hex X25519 public key of a peer (repeatable)")
	fs.BoolVar(&c.showStats, "stats", false, "print a processing summary")
	fs.BoolVar(&c.events, "events", false, "log stage signals from the event bus")
}

// load returns the configuration with the common flags applied. A configured log
// level replaces the application logger.
func (c *common) load(a *app) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if c.configPath != "" {
		loaded, err := config.LoadConfig(c.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if c.keyring != "" {
		cfg.Keys.Keyring = c.keyring
	}
	if c.identity != "" {
		cfg.Keys.Identity = c.identity
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if len(c.peers) > 0 {
		if cfg.Keys.Peers == nil {
			cfg.Keys.Peers = make(map[string]string, len(c.peers))
		}
		for id, pub := range c.peers {
			cfg.Keys.Peers[id] = pub
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if c.configPath != "" || c.logLevel != "" {
		log, err := logger.InitLoggerWithLevel(cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		a.log = log
	}
	return cfg, nil
}

func newFlagSet(a *app, name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(a.stdout)
	return fs
}

// newPipeline builds a pipeline over the builtin registry, the builtin schemas plus
// the configured schema files, and the configured keyring with its peers. With events
// set, stage signals also go to a capitan bus whose listener logs them. release closes
// the keyring and drains the bus.
func newPipeline(a *app, cfg *config.Config, events bool, observers ...observe.Observer) (p *pipeline.Pipeline, release func(), err error) {
	catalog := schema.NewBuiltinCatalog()
	if err := catalog.LoadFiles(cfg.Schemas.Files...); err != nil {
		return nil, nil, err
	}

	var closers []func()
	release = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	observers = append(observers, observe.NewZapObserver(a.log))
	if events {
		bus := capitan.New()
		sink := observe.LogSignals(bus, a.log)
		closers = append(closers, func() {
			_ = bus.Drain(context.Background())
			sink.Close()
			bus.Shutdown()
		})
		observers = append(observers, observe.NewSignalObserver(bus))
	}
	opts := []pipeline.Option{
		pipeline.WithLogger(a.log),
		pipeline.WithObserver(observe.Multi(observers...)),
	}
	if cfg.Keys.Keyring != "" {
		kr, err := keys.LoadKeyring(cfg.Keys.Keyring, cfg.Keys.Identity)
		if err != nil {
			release()
			return nil, nil, err
		}
		closers = append(closers, kr.Close)
		for id, value := range cfg.Keys.Peers {
			pub, err := config.PeerKey(id, value)
			if err == nil {
				err = kr.AddPeer(id, pub)
			}
			if err != nil {
				release()
				return nil, nil, fmt.Errorf("%w: %w", perrors.ErrKey, err)
			}
		}
		opts = append(opts, pipeline.WithKeySource(kr))
	}
	return pipeline.New(nil, catalog, opts...), release, nil
}

func runEncode(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "encode")
	var c common
	c.register(fs)
	schemaID := fs.String("schema", schema.BlobID, "schema of the payload; must be a single bytes field")
	comp := fs.StringP("compression", "z", "", "compression algorithm, alias or id, or none")
	level := fs.IntP("level", "l", 0, "compression level; 0 selects the algorithm default")
	sealName := fs.StringP("seal", "s", "", "seal algorithm, alias or id, or none")
	keyID := fs.String("key-id", "", "keyring id of the seal key")
	chunkSize := fs.Int("chunk-size", 0, "bytes per independently compressed chunk")
	workers := fs.Int("workers", 0, "number of compressor goroutines")
	skip := fs.Bool("skip-incompressible", false, "omit compression when it does not shrink the payload")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return usageError{"encode [flags] <input> <output>"}
	}
	inputPath, outputPath := fs.Arg(0), fs.Arg(1)

	cfg, err := c.load(a)
	if err != nil {
		return err
	}
	if fs.Changed("compression") {
		cfg.Pipeline.Compression = *comp
	}
	if fs.Changed("level") {
		cfg.Pipeline.Level = *level
	}
	if fs.Changed("seal") {
		cfg.Pipeline.Seal = *sealName
	}
	if fs.Changed("key-id") {
		cfg.Pipeline.KeyID = *keyID
	}
	if fs.Changed("chunk-size") {
		cfg.Pipeline.ChunkSize = *chunkSize
	}
	if fs.Changed("workers") {
		cfg.Pipeline.Workers = *workers
	}
	if fs.Changed("skip-incompressible") {
		cfg.Pipeline.SkipIncompressible = *skip
	}
	opts := cfg.Options()
	if err := opts.Validate(); err != nil {
		return err
	}

	st := stats.NewStats()
	p, release, err := newPipeline(a, cfg, c.events, st)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("%w: opening input: %w", perrors.ErrIOFailure, err)
	}
	defer in.Close()

	inHash := sha256.New()
	counter := &byteCounter{}
	container, err := p.EncodeReader(ctx, *schemaID, io.TeeReader(in, io.MultiWriter(inHash, counter)), opts)
	if err != nil {
		return err
	}
	err = writer.Publish(ctx, a.log, outputPath, outputMode, func(w io.Writer) error {
		_, err := w.Write(container)
		return err
	})
	if err != nil {
		return err
	}

	outHash := sha256.Sum256(container)
	st.UpdateInputBytes(counter.n)
	st.UpdateOutputBytes(uint64(len(container)))
	st.InputHash = inHash.Sum(nil)
	st.OutputHash = outHash[:]
	st.ProcessingTime = time.Since(start)

	a.log.Info("Encoded file",
		zap.String("input_file", inputPath),
		zap.String("output_file", outputPath),
		zap.Uint64("input_bytes", counter.n),
		zap.Int("output_bytes", len(container)))
	if c.showStats {
		st.DisplaySummary(a.stdout, a.log, inputPath, outputPath)
	}
	return nil
}

func runDecode(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "decode")
	var c common
	c.register(fs)
	requireSeal := fs.Bool("require-seal", false, "reject containers without a seal stage")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return usageError{"decode [flags] <input> <output>"}
	}
	inputPath, outputPath := fs.Arg(0), fs.Arg(1)

	cfg, err := c.load(a)
	if err != nil {
		return err
	}
	if fs.Changed("require-seal") {
		cfg.Pipeline.RequireSeal = *requireSeal
	}
	opts := cfg.Options()

	st := stats.NewStats()
	p, release, err := newPipeline(a, cfg, c.events, st)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("%w: reading input: %w", perrors.ErrIOFailure, err)
	}

	outHash := sha256.New()
	var n int64
	err = writer.Publish(ctx, a.log, outputPath, outputMode, func(w io.Writer) error {
		var err error
		n, err = p.DecodeTo(ctx, data, io.MultiWriter(w, outHash), opts)
		return err
	})
	if err != nil {
		return err
	}

	inHash := sha256.Sum256(data)
	st.UpdateInputBytes(uint64(len(data)))
	st.UpdateOutputBytes(uint64(n))
	st.InputHash = inHash[:]
	st.OutputHash = outHash.Sum(nil)
	st.ProcessingTime = time.Since(start)

	a.log.Info("Decoded file",
		zap.String("input_file", inputPath),
		zap.String("output_file", outputPath),
		zap.Int("input_bytes", len(data)),
		zap.Int64("output_bytes", n))
	if c.showStats {
		st.DisplaySummary(a.stdout, a.log, inputPath, outputPath)
	}
	return nil
}

func runInspect(_ context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "inspect")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError{"inspect <input>"}
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("%w: reading input: %w", perrors.ErrIOFailure, err)
	}
	c, err := frame.Parse(data)
	if err != nil {
		return err
	}

	reg := registry.Default()
	w := a.stdout
	fmt.Fprintf(w, "Format version: %d\n", c.FormatVersion)
	fmt.Fprintf(w, "Descriptors: %d\n", len(c.Descriptors))
	for i, d := range c.Descriptors {
		name := reg.Name(d.Kind, d.Algorithm)
		if name == "" {
			name = "unknown"
		}
		fmt.Fprintf(w, "  [%d] %s %s (id %d, v%d)%s\n", i, d.Kind, name, d.Algorithm, d.Version, describeParams(d))
	}
	fmt.Fprintf(w, "Payload: %d bytes\n", len(c.Payload))
	if c.Sealed() {
		fmt.Fprintf(w, "Tag: %d bytes\n", len(c.Tag))
	}
	return nil
}

// describeParams renders the recorded parameters of a descriptor.
func describeParams(d stage.Descriptor) string {
	switch d.Kind {
	case stage.KindSerialize:
		var p serialization.Params
		if err := p.UnmarshalBinary(d.Params); err != nil {
			return " params=invalid"
		}
		return fmt.Sprintf(" schema=%s v%d", p.SchemaID, p.SchemaVersion)
	case stage.KindCompress:
		var p compression.Params
		if err := p.UnmarshalBinary(d.Params); err != nil {
			return " params=invalid"
		}
		s := fmt.Sprintf(" level=%d size=%d", p.Level, p.Size)
		if p.ChunkSize > 0 {
			s += fmt.Sprintf(" chunk_size=%d", p.ChunkSize)
		}
		return s
	case stage.KindSeal:
		var p seal.Params
		if err := p.UnmarshalBinary(d.Params); err != nil || p.KeyID == "" {
			return ""
		}
		return " key_id=" + p.KeyID
	}
	return ""
}

func runKeygen(_ context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "keygen")
	identityPath := fs.String("identity", "", "where to write the age identity (required)")
	keyringPath := fs.String("keyring", "", "where to write the encrypted keyring (required)")
	configPath := fs.StringP("config", "c", "", "also write a configuration file pointing at both")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 || *identityPath == "" || *keyringPath == "" {
		return usageError{"keygen --identity <path> --keyring <path> [--config <path>]"}
	}
	for _, path := range []string{*identityPath, *keyringPath} {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: refusing to overwrite %s", perrors.ErrKey, path)
		}
	}

	id, err := keys.GenerateIdentity()
	if err != nil {
		return err
	}
	kr, err := keys.NewRandomKeyring()
	if err != nil {
		return err
	}
	defer kr.Close()

	if err := keys.SaveIdentity(*identityPath, id); err != nil {
		return err
	}
	if err := keys.SaveKeyring(*keyringPath, kr, id.Recipient()); err != nil {
		return err
	}
	if *configPath != "" {
		cfg := config.DefaultConfig()
		cfg.Keys = config.Keys{Keyring: *keyringPath, Identity: *identityPath}
		if err := config.SaveConfig(cfg, *configPath); err != nil {
			return err
		}
	}

	agreement, err := kr.AgreementPublic()
	if err != nil {
		return err
	}

	a.log.Info("Generated keyring",
		zap.String("identity", *identityPath),
		zap.String("keyring", *keyringPath))
	fmt.Fprintf(a.stdout, "Public key: %s\n", id.Recipient())
	fmt.Fprintf(a.stdout, "Agreement key: %s\n", hex.EncodeToString(agreement))
	return nil
}

func runAlgorithms(_ context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "algorithms")
	if err := fs.Parse(args); err != nil {
		return err
	}
	kinds := stage.Kinds
	switch fs.NArg() {
	case 0:
	case 1:
		kind, err := stage.ParseKind(fs.Arg(0))
		if err != nil {
			return err
		}
		kinds = []stage.Kind{kind}
	default:
		return usageError{"algorithms [serialize|compress|seal]"}
	}

	reg := registry.Default()
	for _, kind := range kinds {
		fmt.Fprintf(a.stdout, "%s:\n", kind)
		for _, alg := range reg.Algorithms(kind) {
			line := fmt.Sprintf("  %3d  %-18s v%d", alg.ID, alg.Name, alg.Version)
			if len(alg.Aliases) > 0 {
				line += "  (" + strings.Join(alg.Aliases, ", ") + ")"
			}
			fmt.Fprintln(a.stdout, line)
		}
	}
	return nil
}

// byteCounter counts the bytes written to it.
type byteCounter struct {
	n uint64
}

func (c *byteCounter) Write(p []byte) (int, error) {
	c.n += uint64(len(p))
	return len(p), nil
}
