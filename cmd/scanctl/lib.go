package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/theckman/yacspin"
	"golang.org/x/sync/errgroup"

	"github.com/ultrafast-lab/scanctl/axis"
	"github.com/ultrafast-lab/scanctl/bridge"
	"github.com/ultrafast-lab/scanctl/config"
	"github.com/ultrafast-lab/scanctl/labhttp"
	"github.com/ultrafast-lab/scanctl/msglog"
	"github.com/ultrafast-lab/scanctl/session"
)

var errInterrupted = errors.New("interrupted")

// run builds the lab from c and serves it until interrupted
func run(c config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	b := bridge.New(1024)
	hub := bridge.NewHub(c.PreviewRate, 4)
	msgs := msglog.New(c.MessageLines, b)

	hw := config.BuildDevices(c)
	defer hw.Close()
	axes, err := config.BuildAxes(c, hw, msgs.Printf)
	if err != nil {
		return err
	}

	var positions map[string]float64
	if snap, err := config.ReadSnapshot(c.LastConfig); err == nil {
		for _, s := range config.Restore(snap, axes) {
			log.Println("restored position", s)
		}
		positions = snap.Positions
	}
	persist := config.NewPersister(c.LastConfig, c, positions)
	for _, a := range axes {
		a.OnEdit(persist.Axis)
	}

	lab, err := config.BuildLab(c, config.Env{
		Hardware: hw,
		Axes:     axes,
		Log:      msgs,
		Bridge:   b,
		Done: func(name string, st session.State, used []*axis.Controller) {
			persist.Positions(used...)
		},
	})
	if err != nil {
		return err
	}

	srv := labhttp.New(ctx, lab, axes, msgs, hub)
	srv.Moved = func(a *axis.Controller) { persist.Positions(a) }
	httpSrv := &http.Server{Addr: c.Addr, Handler: srv.Router()}

	err = config.Watch(ConfigFileName, func(nc config.Config, err error) {
		if err != nil {
			msgs.Printf("config reload: %v", err)
			return
		}
		if err := config.ApplyAxes(nc, axes); err != nil {
			msgs.Printf("config reload: %v", err)
			return
		}
		msgs.Printf("axis settings reloaded from %s", ConfigFileName)
	})
	if err != nil {
		log.Printf("not watching %s: %v", ConfigFileName, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := hub.Run(gctx, b)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		log.Println("now listening for requests at ", c.Addr)
		err := httpSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down")
		lab.CancelAll()
		b.Close()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	err = g.Wait()
	if err == nil && ctx.Err() != nil {
		return errInterrupted
	}
	return err
}

// check asks every device whether it is online, with a spinner
func check(c config.Config) error {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return err
	}
	hw := config.BuildDevices(c)
	defer hw.Close()

	names := make([]string, 0, len(hw.Devices))
	for k := range hw.Devices {
		names = append(names, k)
	}
	sort.Strings(names)

	if err := spinner.Start(); err != nil {
		return err
	}
	var failed []string
	for _, name := range names {
		spinner.Message(name)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		resp, err := hw.Devices[name].Online(ctx)
		cancel()
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		spinner.Pause()
		fmt.Printf("%s %s\n", name, resp)
		spinner.Unpause()
	}
	if len(failed) > 0 {
		spinner.StopFailMessage(fmt.Sprintf("%d of %d devices offline", len(failed), len(names)))
		spinner.StopFail()
		for _, f := range failed {
			fmt.Println(f)
		}
		return fmt.Errorf("%d devices offline", len(failed))
	}
	spinner.StopMessage(fmt.Sprintf("%d devices online", len(names)))
	return spinner.Stop()
}
