package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"roadvision/internal/config"
	"roadvision/internal/database"
	"roadvision/internal/detection"
	"roadvision/internal/health"
	"roadvision/internal/lanefit"
	"roadvision/internal/pipeline"
	"roadvision/internal/pipeline/detectors"
	"roadvision/internal/readout"
	"roadvision/internal/recorder"
	"roadvision/internal/stream"
	"roadvision/internal/ws"
)

func main() {
	// Define command line flags. Flags that are set override the config file
	// and the environment.
	var (
		configF  = flag.String("config", "", "JSON config file")
		dotenvF  = flag.String("env-file", ".env", "dotenv file loaded into the environment if present")
		sourceF  = flag.String("source", "", "video file, /dev/videoN, rtsp/http stream, snapshot URL or image directory")
		confF    = flag.Float64("conf", 0, "detection confidence threshold")
		noObjF   = flag.Bool("no-objects", false, "disable object detection")
		noLaneF  = flag.Bool("no-lanes", false, "disable lane detection")
		visualsF = flag.Bool("visuals", true, "concatenate the lane pipeline visual")
		rawF     = flag.Bool("record-raw", false, "record raw frames")
		procF    = flag.Bool("record-processed", false, "record processed frames")
		invertF  = flag.Bool("invert", false, "rotate input frames by 180 degrees")
		cacheF   = flag.Int("cache", 0, "smoothing cache capacity")
		anchorF  = flag.Bool("anchor-edges", false, "back-project the near edge from the ROI's bottom vertices")
		allF     = flag.Bool("detect-all", false, "keep every detected class")
		policyF  = flag.String("on-error", "", "collaborator error policy: continue, passthrough or halt")
		readoutF = flag.Bool("readout", true, "print the live numeric readout")
		fpsF     = flag.Int("fps", 0, "source frame rate (0 keeps the native rate)")
		httpF    = flag.String("http", "", "HTTP listen address")
		grpcF    = flag.String("grpc", "", "gRPC health listen address, empty string disables")
		dbF      = flag.String("db", "", "SQLite measurement log path")
		recDirF  = flag.String("record-dir", "", "recording root directory")
		previewF = flag.Bool("position", false, "position-camera preview mode")
		prevOutF = flag.String("preview-out", "", "save the first position preview to this file and exit")
		dbgF     = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	// Setup logger
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.TimeOnly})
	log.SetOutput(os.Stderr)

	cfg, err := config.Load(config.Options{File: *configF, DotEnv: *dotenvF})
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Apply only the flags given on the command line
	overrides := &config.Overrides{}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			overrides.Source = sourceF
		case "conf":
			c := float32(*confF)
			overrides.Confidence = &c
		case "no-objects":
			v := !*noObjF
			overrides.ObjectDetection = &v
		case "no-lanes":
			v := !*noLaneF
			overrides.LaneDetection = &v
		case "visuals":
			overrides.ShowVisuals = visualsF
		case "record-raw":
			overrides.RecordRaw = rawF
		case "record-processed":
			overrides.RecordProcessed = procF
		case "invert":
			overrides.Invert = invertF
		case "cache":
			overrides.CacheSize = cacheF
		case "anchor-edges":
			overrides.AnchorROIEdges = anchorF
		case "detect-all":
			overrides.DetectAll = allF
		case "on-error":
			p := pipeline.ErrorPolicy(*policyF)
			overrides.ErrorPolicy = &p
		case "readout":
			overrides.Readout = readoutF
		case "fps":
			overrides.FPS = fpsF
		case "http":
			overrides.HTTPAddr = httpF
		case "grpc":
			overrides.GRPCAddr = grpcF
		case "db":
			overrides.DBPath = dbF
		case "record-dir":
			overrides.RecordDir = recDirF
		case "position":
			overrides.Preview = previewF
		case "debug":
			overrides.Debug = dbgF
		}
	})
	if err := overrides.Apply(cfg); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}
	if cfg.Preview {
		// The preview only needs the static geometry
		cfg.Fusion.ObjectDetection = false
		cfg.Fusion.LaneDetection = false
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if cfg.Source == "" {
		log.Fatal("no source given (-source or ROADVISION_SOURCE)")
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	sessionID := uuid.New().String()

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop.
	errc := make(chan error, 4)

	// Setup interrupt handler so that SIGINT and SIGTERM stop the loop gracefully
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize collaborators
	healthSvc := health.NewService()
	opts := []pipeline.Option{pipeline.WithSessionID(sessionID)}

	if cfg.Fusion.ObjectDetection {
		svc := detection.NewServiceDetector(cfg.DetectorURL, cfg.ServiceTimeout)
		adapter := detectors.NewSSDAdapter(svc, cfg.Fusion.Confidence)
		healthSvc.Register("detector", adapter)
		opts = append(opts, pipeline.WithDetector(adapter))
	}
	if cfg.Fusion.LaneDetection {
		client := lanefit.NewClient(cfg.LaneURL, cfg.ServiceTimeout)
		healthSvc.Register("lanes", client)
		opts = append(opts, pipeline.WithLanePipeline(client))
	}

	var rec *recorder.Recorder
	if cfg.Fusion.RecordRaw || cfg.Fusion.RecordProcessed {
		rec, err = recorder.New(cfg.RecordDir, sessionID, 90)
		if err != nil {
			log.Fatalf("failed to create recorder: %v", err)
		}
		opts = append(opts, pipeline.WithRecorder(rec))
	}

	if cfg.Fusion.Readout {
		opts = append(opts, pipeline.WithReadout(readout.NewPrinter(os.Stdout)))
	}

	// Result fan-out
	bus := pipeline.NewEventBus()
	mjpeg := stream.NewMJPEGStream(85)
	readoutHub := ws.NewReadoutHub()
	bus.Subscribe(mjpeg)
	bus.Subscribe(readoutHub)
	opts = append(opts, pipeline.WithEventBus(bus))

	var db *database.Database
	if cfg.DBPath != "" && !cfg.Preview {
		db, err = openDatabase(cfg, sessionID)
		if err != nil {
			log.Fatalf("failed to open measurement log: %v", err)
		}
		bus.Subscribe(database.NewMeasurementLog(db))
	}

	fusion, err := pipeline.NewFusion(cfg.Fusion, opts...)
	if err != nil {
		log.Fatalf("failed to create fusion pipeline: %v", err)
	}

	src, err := openSource(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open source: %v", err)
	}

	runner := pipeline.NewRunner(src, fusion, sessionID)

	// Start the servers and send errors (if any) to the error channel.
	if cfg.HTTPAddr != "" {
		handleHTTPServer(ctx, cfg.HTTPAddr, mjpeg, readoutHub, healthSvc, runner, &wg, errc)
	}
	var grpcSrv *health.Server
	if cfg.GRPCAddr != "" {
		grpcSrv = health.NewServer(healthSvc, 10*time.Second)
		if err := grpcSrv.Start(cfg.GRPCAddr); err != nil {
			log.Fatalf("failed to start gRPC health server: %v", err)
		}
	}

	// Run the frame loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if cfg.Preview {
			errc <- runPreview(ctx, src, fusion, mjpeg, *prevOutF)
			return
		}
		if err := runner.Run(ctx); err != nil {
			errc <- err
			return
		}
		errc <- fmt.Errorf("source exhausted")
	}()

	// Wait for signal or end of input.
	log.Printf("exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()
	src.Close()
	mjpeg.Stop()
	bus.Close()
	if grpcSrv != nil {
		grpcSrv.Stop()
	}

	wg.Wait()

	if rec != nil {
		raw, processed := rec.Counts()
		log.Printf("recorded %d raw and %d processed frames to %s", raw, processed, rec.Dir())
		if err := rec.Close(); err != nil {
			log.Warnf("failed to close recorder: %v", err)
		}
	}
	if db != nil {
		if err := db.EndSession(sessionID, time.Now()); err != nil {
			log.Warnf("failed to close session: %v", err)
		}
		db.Close()
	}
	log.Println("exited")
}

// openDatabase opens the measurement log and records the session start
func openDatabase(cfg *config.Config, sessionID string) (*database.Database, error) {
	db, err := database.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	err = db.StartSession(&database.SessionRecord{
		ID:        sessionID,
		Source:    cfg.Source,
		Config:    cfg.Fusion,
		StartedAt: time.Now(),
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
