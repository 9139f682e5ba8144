package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pumpbench/pumpd/clock"
	"github.com/pumpbench/pumpd/console"
	"github.com/pumpbench/pumpd/grbl"
	"github.com/pumpbench/pumpd/input"
	"github.com/pumpbench/pumpd/pump"
	"github.com/pumpbench/pumpd/safety"
	"github.com/pumpbench/pumpd/scale"
	"github.com/pumpbench/pumpd/ui"
	"github.com/pumpbench/pumpd/units"
)

func main() {
	motionPort := flag.String("motion", "/dev/ttyUSB0", "Motion controller serial port.")
	motionBaud := flag.Int("motion-baud", grbl.DefaultBaud, "Motion controller baud rate.")
	bridgeURL := flag.String("bridge", "", "Websocket bridge URL instead of a local motion port.")
	scalePort := flag.String("scale", "", "Scale serial port; empty disables weight dispensing.")
	scaleBaud := flag.Int("scale-baud", scale.DefaultBaud, "Scale baud rate.")
	addr := flag.String("addr", ":9091", "Address to bind the HTTP API to; empty disables it.")
	staticDir := flag.String("static", "", "Directory of static UI files to serve.")
	lcdDev := flag.String("lcd", "", "i2c-dev path for the LCD, e.g. /dev/i2c-1.")
	lcdAddr := flag.Int("lcd-addr", ui.DefaultLCDAddr, "I2C address of the LCD backpack.")
	ledDev := flag.String("leds", "", "spidev path for the LED strips, e.g. /dev/spidev0.0.")
	mlPerMM := flag.Float64("ml-per-mm", 0.05, "Calibration, millilitres per millimetre, all axes.")
	maxFeed := flag.Float64("max-feed", 300, "Per-axis feedrate limit, mm/min.")
	tick := flag.Duration("tick", 5*time.Millisecond, "Cooperative loop interval.")
	noConsole := flag.Bool("no-console", false, "Disable the stdin operator console.")
	debug := flag.Bool("debug", false, "Verbose development logging.")
	flag.Parse()

	logger := mustLogger(*debug)
	defer logger.Sync()

	var motion io.ReadWriter
	if *bridgeURL != "" {
		b, err := grbl.DialBridge(*bridgeURL)
		if err != nil {
			logger.Fatal("dial bridge", zap.String("url", *bridgeURL), zap.Error(err))
		}
		motion = b
	} else {
		p, err := grbl.OpenPort(*motionPort, *motionBaud)
		if err != nil {
			logger.Fatal("open motion port", zap.String("port", *motionPort), zap.Error(err))
		}
		motion = p
	}
	link := grbl.NewLink(motion, logger.Named("grbl"))

	// version and settings dump lands in the link's line log
	link.Enqueue("$I")
	link.Enqueue("$$")

	var weights pump.WeightSource
	var tuner console.Tuner
	var scaleLink *scale.Link
	if *scalePort != "" {
		p, err := scale.Open(*scalePort, *scaleBaud)
		if err != nil {
			logger.Fatal("open scale port", zap.String("port", *scalePort), zap.Error(err))
		}
		scaleLink = scale.NewLink(p, scale.DefaultConfig(), clock.NewWall(), logger.Named("scale"))
		weights = scaleLink
		tuner = scaleLink
	}

	var cals [pump.NumAxes]units.Calibration
	for i := range cals {
		cals[i] = units.Calibration{MLPerMM: *mlPerMM, MaxFeed: *maxFeed}
	}
	coord := pump.NewCoordinator(link, weights, cals, logger.Named("pump"))

	bus := input.NewBus(nil, nil, nil, nil, nil)
	panel := ui.NewPanel(coord, bus, logger.Named("panel"))
	monitor := safety.NewMonitor(coord, nil, logger.Named("safety"))

	var disp ui.Display
	if *lcdDev != "" {
		lcd, err := openLCD(*lcdDev, uint8(*lcdAddr))
		if err != nil {
			logger.Fatal("open lcd", zap.String("dev", *lcdDev), zap.Error(err))
		}
		disp = lcd
	} else if *debug {
		disp = ui.LogDisplay{Logger: logger.Named("lcd")}
	}

	var strip ui.Strip
	if *ledDev != "" {
		s, err := openStrip(*ledDev)
		if err != nil {
			logger.Fatal("open leds", zap.String("dev", *ledDev), zap.Error(err))
		}
		strip = s
	}

	renderer := ui.NewRenderer(coord.Snapshot, panel.Selection, disp, strip, logger.Named("ui"))

	loop := clock.NewLoop(clock.NewWall(), *tick)
	loop.Register(bus)
	loop.Register(link)
	loop.Register(monitor)
	loop.Register(coord)
	loop.Register(renderer)
	loop.Register(panel)
	if !*noConsole {
		loop.Register(console.New(coord, tuner, os.Stdin, os.Stdout, logger.Named("console")))
	}

	if *addr != "" {
		a := newAPI(coord, *staticDir, logger.Named("api"))
		loop.Register(a)
		go func() {
			err := http.ListenAndServe(*addr, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				w.Header().Set("Access-Control-Allow-Origin", "*")
				w.Header().Set("Access-Control-Allow-Methods", "*")
				logger.Debug("http", zap.String("method", req.Method), zap.String("path", req.URL.Path))
				a.ServeHTTP(w, req)
			}))
			logger.Fatal("http server", zap.Error(err))
		}()
		logger.Info("api listening", zap.String("addr", *addr))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("pump controller up",
		zap.String("motion", *motionPort),
		zap.Bool("scale", scaleLink != nil),
		zap.Duration("tick", *tick))
	loop.Run(ctx)
	logger.Info("shutting down")
}

func mustLogger(debug bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
