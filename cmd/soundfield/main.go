package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/soundfield/internal/assets"
	"github.com/banshee-data/soundfield/internal/config"
	"github.com/banshee-data/soundfield/internal/engine"
	"github.com/banshee-data/soundfield/internal/environment"
	"github.com/banshee-data/soundfield/internal/fsutil"
	"github.com/banshee-data/soundfield/internal/health"
	"github.com/banshee-data/soundfield/internal/journal"
	"github.com/banshee-data/soundfield/internal/monitoring"
	"github.com/banshee-data/soundfield/internal/transport"
	"github.com/banshee-data/soundfield/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the JSON configuration file")
	listen      = flag.String("listen", ":8080", "Debug HTTP listen address (empty to disable)")
	grpcListen  = flag.String("grpc-listen", "", "gRPC health listen address (empty to disable)")
	devMode     = flag.Bool("dev", false, "Run against an in-process fake engine")
	debugFlag   = flag.Bool("debug", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func loadConfig(path string) *config.SoundConfig {
	cfg, err := config.LoadSoundConfig(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("config %s not found, using defaults", path)
			return config.DefaultSoundConfig()
		}
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// openChannels returns the control and query channels for the configured
// transport.
func openChannels(ctx context.Context, cfg *config.SoundConfig, wg *sync.WaitGroup) (control, query transport.Conn, err error) {
	if *devMode {
		local, dev := newDevEngine()
		wg.Add(1)
		go func() {
			defer wg.Done()
			dev.run(ctx)
		}()
		return local[0], local[1], nil
	}

	switch cfg.GetTransport() {
	case "serial":
		conn, err := transport.OpenSerial(cfg.GetSerialPort(), transport.PortOptions{BaudRate: cfg.GetSerialBaud()})
		if err != nil {
			return nil, nil, err
		}
		return conn, conn, nil
	default:
		c, err := transport.DialControl(cfg.GetServerIP(), cfg.GetServerPort())
		if err != nil {
			return nil, nil, err
		}
		q, err := transport.DialQuery(cfg.GetServerIP(), cfg.GetStatusPort(), cfg.GetNotifyPort())
		if err != nil {
			c.Close()
			return nil, nil, err
		}
		return c, q, nil
	}
}

// connectEngine opens the engine channels and connects sess. A failure is
// logged and leaves sess disconnected, so sends are dropped and the rest of
// the process keeps running.
func connectEngine(ctx context.Context, cfg *config.SoundConfig, sess *engine.Session, wg *sync.WaitGroup) bool {
	control, query, err := openChannels(ctx, cfg, wg)
	if err != nil {
		log.Printf("connection error, running without sound: %v", err)
		return false
	}
	if err := sess.Connect(control, query); err != nil {
		log.Printf("connection error, running without sound: %v", err)
		control.Close()
		if query != control {
			query.Close()
		}
		return false
	}
	return true
}

func newResolver(cfg *config.SoundConfig) *assets.Resolver {
	var syncer assets.CacheSyncer
	if cfg.GetAssetCacheEnabled() {
		root, err := os.UserCacheDir()
		if err != nil {
			root = os.TempDir()
		}
		syncer = &assets.DirCacheSyncer{
			FS:          fsutil.OSFileSystem{},
			SourceRoots: cfg.AssetSearchPaths,
			CacheRoot:   filepath.Join(root, "soundfield"),
		}
	}
	r := assets.NewResolver(fsutil.OSFileSystem{}, syncer, cfg.AssetSearchPaths...)
	if dir := cfg.GetAssetDirectory(); dir != "" {
		r.SetAssetDirectory(dir)
	}
	r.SetCacheEnabled(cfg.GetAssetCacheEnabled())
	return r
}

// startSound brings the engine up and starts the looping stereo test sound.
func startSound(ctx context.Context, cfg *config.SoundConfig, sess *engine.Session, env *environment.Environment) {
	if err := sess.StartServer(ctx); err != nil {
		log.Printf("failed to start engine: %v", err)
		return
	}
	if err := sess.WaitReady(ctx, cfg.GetStartupTimeout()); err != nil {
		log.Printf("Sound disabled: %v", err)
		return
	}

	env.SetServerVolume(cfg.GetServerVolume())

	stereo, err := env.LoadSound(ctx, "stereoTest", cfg.GetStereoTestSound())
	if err != nil {
		log.Printf("failed to load stereo test sound: %v", err)
		return
	}
	if _, err := env.LoadSound(ctx, "monoTest", cfg.GetMonoTestSound()); err != nil {
		log.Printf("failed to load mono test sound: %v", err)
	}

	inst := env.NewInstance(stereo)
	inst.Loop = true
	env.PlayStereo(inst)
	log.Printf("playing %s as instance %d", cfg.GetStereoTestSound(), inst.ID)
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg := loadConfig(*configPath)
	monitoring.SetDebug(*debugFlag || cfg.GetDebug())
	log.Print(version.String())

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var jrnl *journal.Journal
	opts := engine.Options{ProbeInterval: cfg.GetProbeInterval()}
	if path := cfg.GetJournalPath(); path != "" {
		var err error
		jrnl, err = journal.Open(path, cfg.GetServerIP(), cfg.GetServerPort(), nil)
		if err != nil {
			log.Fatalf("failed to open journal: %v", err)
		}
		defer jrnl.Close()
		opts.Recorder = jrnl
		log.Printf("journal %s session %s", path, jrnl.SessionID())
	}
	sess := engine.New(opts)

	envOpts := environment.OptionsFromConfig(cfg)
	envOpts.Assets = newResolver(cfg)
	env := environment.New(sess, envOpts)

	var hs *health.Server
	if *grpcListen != "" {
		hs = health.New(*grpcListen)
		hs.Watch(sess)
		if err := hs.Start(); err != nil {
			log.Fatalf("failed to start health server: %v", err)
		}
		defer hs.Stop()
	}

	connectEngine(ctx, cfg, sess, &wg)
	defer sess.Close()

	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			mux := http.NewServeMux()
			sess.AttachAdminRoutes(mux)
			env.AttachAdminRoutes(mux)
			if jrnl != nil {
				if err := jrnl.AttachAdminRoutes(mux); err != nil {
					log.Printf("journal admin routes disabled: %v", err)
				}
			}
			if hs != nil {
				hs.AttachAdminRoutes(mux)
			}

			server := &http.Server{Addr: *listen, Handler: mux}
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("failed to start server: %v", err)
				}
			}()

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("failed to shut down HTTP server: %v", err)
			}
		}()
	}

	// the poll loop starts after the handshake; WaitReady reads the query
	// channel itself.
	startSound(ctx, cfg, sess, env)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := env.Run(ctx, cfg.GetPollInterval()); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("poll loop stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("shutting down")
	env.StopAllSounds()
	env.CleanupAllSounds()
	wg.Wait()
}
