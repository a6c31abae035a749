package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"

	"github.com/caioluis/courier/internal/app"
	"github.com/caioluis/courier/internal/bus"
	"github.com/caioluis/courier/internal/lock"
	"github.com/caioluis/courier/internal/messenger"
	"github.com/caioluis/courier/internal/profile"
	"github.com/caioluis/courier/internal/status"
	"github.com/caioluis/courier/internal/tui"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var (
		msgr    *messenger.Messenger
		events  *bus.Bus
		machine *status.Machine
	)
	engine := fx.New(
		app.Module(app.Params{ProfileName: profileName}),
		fx.Populate(&msgr, &events, &machine),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := engine.Start(startCtx); err != nil {
		var held *lock.LockHeldError
		if errors.As(err, &held) {
			fmt.Fprintf(os.Stderr, "error: %v\nanother instance is using this profile\n", held)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}

	shell := tui.NewApp(msgr, events, machine, profileName, profile.Dir(profileName))
	runErr := shell.Run()
	shell.Stop()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if err := engine.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		os.Exit(1)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
