package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/banshee-data/kinetic/internal/api"
	"github.com/banshee-data/kinetic/internal/config"
	"github.com/banshee-data/kinetic/internal/control"
	"github.com/banshee-data/kinetic/internal/db"
	"github.com/banshee-data/kinetic/internal/device"
	"github.com/banshee-data/kinetic/internal/scheduler"
	"github.com/banshee-data/kinetic/internal/serialmux"
	"github.com/banshee-data/kinetic/internal/timeutil"
	"github.com/banshee-data/kinetic/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the JSON configuration file")
	dbPath      = flag.String("db", "kinetic.db", "Journal database path (empty disables the journal)")
	listen      = flag.String("listen", ":8080", "Listen address")
	envFile     = flag.String("env", ".env", "Optional dotenv file with KINETIC_* overrides")
	simulate    = flag.Bool("simulate", false, "Drive a simulated device instead of the serial port")
	simulateRun = flag.Duration("simulate-run", 3*time.Second, "How long the simulated device runs each command")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: failed to load %s: %v", *envFile, err)
	}

	log.Printf("starting %s", version.Get())

	clock := timeutil.RealClock{}
	rt := &runtime{configPath: *configPath, simulated: *simulate, clock: clock}

	cfg, err := rt.loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	rt.cfg = cfg
	pc, err := rt.protocolConfig(cfg)
	if err != nil {
		log.Fatalf("invalid device configuration: %v", err)
	}

	var journal control.Journal
	var history api.Journal
	if *dbPath != "" {
		rt.db, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer rt.db.Close()
		journal, history = rt.db, rt.db
	}

	openLink := serialmux.OpenLink
	if *simulate {
		openLink = serialmux.OpenSimulatedLink(*simulateRun)
		log.Printf("simulating device, commands run for %s", *simulateRun)
	}
	links := serialmux.NewTracker(openLink)
	open := func(path string, opts serialmux.PortOptions) (device.Port, error) {
		link, err := links.Open(path, opts)
		if err != nil {
			return nil, err
		}
		return link, nil
	}

	rt.protocol = device.NewProtocol(pc, open, clock)
	if rt.db != nil {
		rt.protocol.OnTransition(func(tr device.Transition) {
			if err := rt.db.RecordTransition(tr); err != nil {
				log.Printf("failed to record transition: %v", err)
			}
		})
	}

	rt.inst, err = control.New(cfg.ControlConfig(), rt.protocol, journal)
	if err != nil {
		log.Fatalf("invalid installation configuration: %v", err)
	}

	sched := scheduler.New(clock)
	if err := rt.addTasks(sched); err != nil {
		log.Fatal(err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.StartAll()
	log.Printf("started %d tasks", len(sched.Tasks()))

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := api.NewServer(rt.inst, api.Options{
			Device:  rt.protocol,
			Journal: history,
			Tasks:   sched,
			Clock:   clock,
			Reload:  rt.Reload,
		})
		mux := server.ServeMux()
		server.AttachAdminRoutes(mux)
		links.AttachAdminRoutes(mux)
		if rt.db != nil {
			if err := rt.db.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach database admin routes: %v", err)
			}
		}

		srv := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("listening on %s", *listen)

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := srv.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sched.StopAll(stopCtx); err != nil {
		log.Printf("failed to stop tasks: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
