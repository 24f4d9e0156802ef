package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"golang.org/x/sync/errgroup"

	yml "gopkg.in/yaml.v2"

	"github.com/ultrafast-lab/scanctl/hardware/sim"
	"github.com/ultrafast-lab/scanctl/util"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "labsim.yml"
	k              = koanf.New(".")
)

type config struct {
	// Addr is the HTTP address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// LineAddr is the TCP address for the CRC framed line protocol, empty to disable
	LineAddr string `yaml:"LineAddr" koanf:"LineAddr"`

	// Frequency is the oscillation of the signal branch, cycles per raw unit
	Frequency float64 `yaml:"Frequency" koanf:"Frequency"`

	// Width is the number of points in every sample
	Width int `yaml:"Width" koanf:"Width"`

	Latency time.Duration `yaml:"Latency" koanf:"Latency"`
	Limits  util.Limiter  `yaml:"Limits" koanf:"Limits"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr:      ":8001",
		LineAddr:  ":8002",
		Frequency: 0.25,
		Width:     1}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `labsim emulates the stage, shutter and boxcar servers scanctl talks to, so a
scan can be exercised without the bench.

Usage:
	labsim <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `labsim is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

One emulator answers every command: "" (online), moveabs/<pos>, getBoxcarData,
on/<ch>, off/<ch> and setWorkingMode/<mode>, over HTTP at Addr and as CRC framed
lines at LineAddr.  Samples are 1 with the shutter on channel 0 closed and
1 + 0.5(1 + cos(2 pi Frequency pos)) with it open.

Failure injection is available over HTTP:
	POST /sim/fail/<n>   fail the next n requests with 503
	POST /sim/desync     answer the next request with desync: true`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("labsim version %v\n", Version)
}

func run() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	emu := sim.New()
	emu.Wave = sim.Cosine(c.Frequency, c.Width)
	emu.Latency = c.Latency
	emu.Limits = c.Limits

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Post("/sim/fail/{n}", func(w http.ResponseWriter, r *http.Request) {
		var n int
		if _, err := fmt.Sscan(chi.URLParam(r, "n"), &n); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		emu.FailNext(n)
	})
	r.Post("/sim/desync", func(w http.ResponseWriter, r *http.Request) {
		emu.Desync()
	})
	r.Mount("/", emu.Handler())
	srv := &http.Server{Addr: c.Addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Println("now listening for requests at ", c.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	var ln net.Listener
	if c.LineAddr != "" {
		ln, err = net.Listen("tcp", c.LineAddr)
		if err != nil {
			log.Fatal(err)
		}
		g.Go(func() error {
			log.Println("now listening for lines at ", c.LineAddr)
			if err := emu.ServeLines(ln); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if ln != nil {
			ln.Close()
		}
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
