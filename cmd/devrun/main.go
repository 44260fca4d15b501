package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AltoxaM/devrun/config"
	"github.com/AltoxaM/devrun/orchestrator"
	"github.com/AltoxaM/devrun/printer"
	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var CLI struct {
	Task string `arg:"" optional:"" help:"Task to run. Defaults to \"default\", which runs the watcher, server and styles together."`

	Config    string           `short:"c" type:"path" help:"Configuration file. Defaults to the first of devrun.toml, devrun.yaml or devrun.yml in the working directory, if any."`
	Verbose   bool             `short:"v" help:"Log requests, broadcasts and other debug detail."`
	List      bool             `short:"l" help:"Display the task list and exit. If devrun is invoked with both --list and a task ID, that task and its dependencies are displayed."`
	Timestamp bool             `short:"t" negatable:"" default:"true" help:"Prefix log lines with the time."`
	Version   kong.VersionFlag `help:"Display the version and exit."`
}

func main() {
	kong.Parse(&CLI,
		kong.Name("devrun"),
		kong.Description("devrun compiles a project's stylesheets, serves it, and reloads browsers when its sources change."),
		kong.Vars{"version": versionText()},
		kong.UsageOnError(),
	)

	cfg, err := loadConfig(CLI.Config)
	if err != nil {
		fmt.Println("Error loading configuration:")
		fmt.Println(err)
		os.Exit(1)
	}
	if CLI.Verbose {
		cfg.LogLevel = "debug"
	}

	profile := termenv.NewOutput(os.Stdout).Profile
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		profile = termenv.Ascii
	}
	lipgloss.SetColorProfile(profile)

	// The gutter is sized before the orchestrator registers anything, so
	// it is sized for the configured tasks and the built-ins.
	width := gutterWidth(cfg)
	p := printer.New(width, os.Stdout, printer.Options{Profile: profile, Timestamps: CLI.Timestamp})

	o, err := orchestrator.New(cfg, p)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	if CLI.List {
		reg := o.Registry()
		if CLI.Task != "" {
			if _, err := reg.Plan(CLI.Task); err != nil {
				fmt.Println(err)
				os.Exit(1)
			}
			reg = reg.Subtree(CLI.Task)
		}
		fmt.Print(tasklistText(reg))
		os.Exit(0)
	}

	id := CLI.Task
	if id == "" {
		id = orchestrator.TaskDefault
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	os.Exit(exitCode(o.Run(ctx, id)))
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return config.Config{}, err
	}
	return config.Discover(wd)
}

// exitCode reports the run's outcome. An interrupted run exits cleanly: it
// is how every long run ends.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		fmt.Println("Canceled")
		return 0
	default:
		fmt.Printf("Error: %s\n", err)
		return 1
	}
}

func gutterWidth(cfg config.Config) int {
	width := len("@interleaved")
	for _, id := range []string{orchestrator.TaskStyles, orchestrator.TaskServer, orchestrator.TaskWatch, orchestrator.TaskDefault} {
		width = max(width, len(id))
	}
	for _, t := range cfg.Tasks {
		width = max(width, len(t.ID))
	}
	return width
}
