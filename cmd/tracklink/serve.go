package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"tailscale.com/tsweb"

	"github.com/banshee-data/tracklink/internal/config"
	"github.com/banshee-data/tracklink/internal/detect"
	"github.com/banshee-data/tracklink/internal/httputil"
	"github.com/banshee-data/tracklink/internal/journal"
	"github.com/banshee-data/tracklink/internal/monitoring"
	"github.com/banshee-data/tracklink/internal/network"
	"github.com/banshee-data/tracklink/internal/pipeline"
	"github.com/banshee-data/tracklink/internal/source"
)

type serveOptions struct {
	// maxFrames stops the synthetic source after this many frames
	maxFrames uint64
}

func newServeCmd(g *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tracking pipeline with the command and video servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.cfg
			overrideString(cmd, "command-addr", &cfg.CommandAddr)
			overrideString(cmd, "video-addr", &cfg.VideoAddr)
			overrideString(cmd, "admin-addr", &cfg.AdminAddr)
			overrideInt(cmd, "quality", &cfg.JPEGQuality)
			overrideBool(cmd, "upright", &cfg.UprightVideo)
			overrideFloat(cmd, "deadzone", &cfg.Deadzone)
			overrideFloat(cmd, "area-min", &cfg.AreaMin)
			overrideFloat(cmd, "area-max", &cfg.AreaMax)
			overrideString(cmd, "detector", &cfg.Detector)
			overrideInt(cmd, "min-area", &cfg.MinArea)
			overrideString(cmd, "source", &cfg.Source)
			overrideString(cmd, "source-dir", &cfg.SourceDir)
			overrideFloat(cmd, "fps", &cfg.FrameRate)
			overrideInt(cmd, "rotation", &cfg.Rotation)
			overrideBool(cmd, "mirrored", &cfg.Mirrored)
			overrideBool(cmd, "loop", &cfg.Loop)
			overrideString(cmd, "journal", &cfg.JournalPath)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, opts)
		},
	}

	f := cmd.Flags()
	f.String("command-addr", ":6000", "command server listen address")
	f.String("video-addr", ":6001", "video server listen address")
	f.String("admin-addr", "localhost:8080", "debug HTTP listen address, empty to disable")
	f.Int("quality", 50, "JPEG quality for the video stream (1-100)")
	f.Bool("upright", false, "rotate video frames upright before encoding")
	f.Float64("deadzone", 60, "side of the centred lock box, in pixels")
	f.Float64("area-min", 0, "lower bound of the depth band, percent of frame (needs --area-max)")
	f.Float64("area-max", 0, "upper bound of the depth band, percent of frame (needs --area-min)")
	f.String("detector", "color", "detector: color or none (face and object need an inference backend, none is bundled)")
	f.Int("min-area", 500, "smallest color blob, in pixels")
	f.String("source", "synthetic", "frame source: synthetic or dir")
	f.String("source-dir", "", "directory of JPEG/PNG frames for --source=dir")
	f.Float64("fps", 15, "source frame rate")
	f.Int("rotation", 0, "sensor rotation in degrees clockwise (0, 90, 180, 270)")
	f.Bool("mirrored", false, "frames come from a front-facing (mirrored) camera")
	f.Bool("loop", false, "replay --source-dir forever")
	f.String("journal", "tracklink.db", "SQLite journal path, empty to disable")
	f.Uint64Var(&opts.maxFrames, "frames", 0, "stop the synthetic source after this many frames (0 = unlimited)")
	return cmd
}

// errNoBackend is returned for detectors that wrap a model this binary does
// not ship. Programs embedding the pipeline pass detect.Face or detect.Object
// with their own detect.Backend.
var errNoBackend = errors.New("no inference backend is bundled")

func buildDetector(cfg *config.Config) (detect.Detector, error) {
	switch cfg.GetDetector() {
	case "color":
		d := detect.NewColorBlob()
		d.MinArea = cfg.GetMinArea()
		d.BlurSigma = float32(cfg.GetBlurSigma())
		return d, nil
	case "none":
		return detect.Fixed{}, nil
	case "face", "object":
		return nil, fmt.Errorf("%w: detector %q", errNoBackend, cfg.GetDetector())
	default:
		return nil, fmt.Errorf("unknown detector %q", cfg.GetDetector())
	}
}

func buildSource(cfg *config.Config, maxFrames uint64) (source.Source, error) {
	switch cfg.GetSource() {
	case "synthetic":
		g := source.NewSynthetic()
		g.FrameRate = cfg.GetFrameRate()
		g.Rotation = cfg.GetRotation()
		g.Mirrored = cfg.GetMirrored()
		g.MaxFrames = maxFrames
		return g, nil
	case "dir":
		return source.NewDirectory(cfg.GetSourceDir(), source.DirectoryOptions{
			Rotation:  cfg.GetRotation(),
			Mirrored:  cfg.GetMirrored(),
			FrameRate: cfg.GetFrameRate(),
			Loop:      cfg.GetLoop(),
		})
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.GetSource())
	}
}

// sessionHooks journals connects and disconnects of one transport.
func sessionHooks(rec *journal.Recorder, transport string) network.Hooks {
	if rec == nil {
		return network.Hooks{}
	}
	return network.Hooks{
		OnConnect: func(s network.Session) {
			rec.RecordEvent(journal.Event{
				Kind:      journal.ClientConnected,
				SessionID: s.ID,
				Detail:    transport + " " + s.RemoteAddr,
			})
		},
		OnDisconnect: func(s network.Session, reason error) {
			rec.RecordEvent(journal.Event{
				Kind:      journal.ClientDisconnected,
				SessionID: s.ID,
				Detail:    fmt.Sprintf("%s %s: %v", transport, s.RemoteAddr, reason),
			})
		},
	}
}

// server bundles everything runServe starts so tests can inspect it.
type server struct {
	journal  *journal.Journal
	recorder *journal.Recorder
	commands *network.CommandServer
	video    *network.VideoServer
	latest   *source.Latest
	driver   *pipeline.Driver
}

func newServer(cfg *config.Config) (*server, error) {
	s := &server{latest: source.NewLatest()}

	var events pipeline.EventRecorder
	if path := cfg.GetJournalPath(); path != "" {
		j, err := journal.Open(path)
		if err != nil {
			return nil, err
		}
		if err := j.MigrateUp(); err != nil {
			j.Close()
			return nil, err
		}
		s.journal = j
		s.recorder = journal.NewRecorder(j, 256, 10*time.Second)
		events = s.recorder
	}

	s.commands = network.NewCommandServer(network.CommandConfig{
		ListenAddr:   cfg.GetCommandAddr(),
		QueueSize:    cfg.GetCommandQueue(),
		WriteTimeout: cfg.GetWriteTimeout(),
		Hooks:        sessionHooks(s.recorder, "command"),
	})
	s.video = network.NewVideoServer(network.VideoConfig{
		ListenAddr:   cfg.GetVideoAddr(),
		Quality:      cfg.GetJPEGQuality(),
		Upright:      cfg.GetUprightVideo(),
		WriteTimeout: cfg.GetWriteTimeout(),
		Hooks:        sessionHooks(s.recorder, "video"),
	})

	det, err := buildDetector(cfg)
	if err != nil {
		s.close()
		return nil, err
	}
	s.driver, err = pipeline.New(pipeline.Config{
		Detector:    det,
		Commands:    s.commands,
		Video:       s.video,
		Params:      cfg.Params(),
		Journal:     events,
		SampleEvery: cfg.GetSampleEvery(),
	})
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *server) close() {
	if s.journal != nil {
		s.journal.Close()
	}
}

func (s *server) adminMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.driver.AttachAdminRoutes(mux)
	if s.journal != nil {
		if err := s.journal.AttachAdminRoutes(mux); err != nil {
			monitoring.Logf("failed to attach journal admin routes: %v", err)
		}
	}

	debug := tsweb.Debugger(mux)
	debug.KVFunc("Command client", func() any { return s.commands.Stats().State.String() })
	debug.KVFunc("Video client", func() any { return s.video.Stats().State.String() })
	debug.HandleFunc("transports", "Transport and source counters (JSON)", httputil.GetOnly(func(w http.ResponseWriter, r *http.Request) {
		out := struct {
			Command  network.CommandStats   `json:"command"`
			Video    network.VideoStats     `json:"video"`
			Source   source.LatestStats     `json:"source"`
			Recorder *journal.RecorderStats `json:"recorder,omitempty"`
		}{
			Command: s.commands.Stats(),
			Video:   s.video.Stats(),
			Source:  s.latest.Stats(),
		}
		if s.recorder != nil {
			st := s.recorder.Stats()
			out.Recorder = &st
		}
		httputil.WriteJSONOK(w, out)
	}))
	return mux
}

func runServe(ctx context.Context, cfg *config.Config, opts *serveOptions) error {
	src, err := buildSource(cfg, opts.maxFrames)
	if err != nil {
		return err
	}
	s, err := newServer(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.commands.Start(); err != nil {
		return err
	}
	defer s.commands.Stop()
	if err := s.video.Start(); err != nil {
		return err
	}
	defer s.video.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if s.recorder != nil {
		// the recorder flushes on cancel, so it must outlive the driver
		recCtx, stopRec := context.WithCancel(context.Background())
		recDone := make(chan struct{})
		go func() {
			s.recorder.Run(recCtx)
			close(recDone)
		}()
		defer func() {
			stopRec()
			<-recDone
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := source.Pump(ctx, src, s.latest); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("[Pipeline] Source failed: %v", err)
		}
	}()

	if addr := cfg.GetAdminAddr(); addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveAdmin(ctx, addr, s.adminMux())
		}()
	}

	monitoring.Logf("[Pipeline] Running (source %s, detector %s)", cfg.GetSource(), cfg.GetDetector())
	err = s.driver.Run(ctx, s.latest)
	cancel()
	wg.Wait()

	// Stop the transports while the recorder still drains, so the final
	// client_disconnected events reach the journal.
	s.video.Stop()
	s.commands.Stop()

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if st := s.driver.Stats(); st.DetectErrors > 0 {
		monitoring.Logf("[Pipeline] %d detector errors", st.DetectErrors)
	}
	return err
}

// serveAdmin runs the debug HTTP server until ctx is done.
func serveAdmin(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("failed to start admin server: %v", err)
		}
	}()
	monitoring.Logf("Admin server on http://%s/debug/", addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("admin server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("admin server force close error: %v", err)
		}
	}
}
