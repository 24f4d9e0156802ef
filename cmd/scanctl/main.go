package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/knadh/koanf"

	yml "gopkg.in/yaml.v2"

	"github.com/ultrafast-lab/scanctl/config"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "scanctl.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	if err := config.Load(k, ConfigFileName); err != nil {
		log.Fatal(err)
	}
	// the write-through document of the last session wins over the file
	c, err := config.Unmarshal(k)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	if c.LastConfig != "" {
		if _, err := os.Stat(c.LastConfig); err == nil {
			if err := config.Load(k, ConfigFileName, c.LastConfig); err != nil {
				log.Fatal(err)
			}
		}
	}
}

func loadconf() config.Config {
	c, err := config.Unmarshal(k)
	if err != nil {
		log.Fatal(err)
	}
	if err := config.Validate(c); err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `scanctl runs multi-axis pump-probe and spectroscopy scans against remote
stage, shutter and boxcar servers and exposes the lab over HTTP and a websocket.

Usage:
	scanctl <command>

Commands:
	run
	check
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `scanctl is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used, which define no devices,
axes or techniques.  Keys are the field names and are case-sensitive.
The command mkconf generates the configuration file with the current values.

Devices are remote servers spoken to with GET <Addr>/<command> (Protocol: http) or
with CRC framed lines over TCP or a serial port (Protocol: line).

Axes move one device each, or none for a Manual axis without hardware.  Mode is one of
Manual, Range or External file.  Unit is one of fs, ps, ns, mm, radian, degree, minute,
second, nm, cm-1 or raw; time delays are converted to optical path with the speed of
light, scaled by Multiples and Direction and offset by ZeroPoint.

Techniques compose axes in the order listed, the first being the slowest loop.
Kind is averaging, absorption (Delta OD, requires Background) or spectral (FFT over the
last axis, which must be evenly spaced).

Edits made over HTTP, and the last position of every axis, are written through to
LastConfig (last_config.yml).  That file is loaded over the configuration file at
startup; delete it to start from the configuration file alone.

check asks every device whether it is online.`
	fmt.Println(str)
}

func mkconf() {
	c, err := config.Unmarshal(k)
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
	c, err := config.Unmarshal(k)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("scanctl version %v\n", Version)
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
	case "check":
		if err := check(loadconf()); err != nil {
			log.Fatal(err)
		}
		return
	case "run":
		err := run(loadconf())
		if err != nil && !errors.Is(err, errInterrupted) {
			log.Fatal(err)
		}
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
