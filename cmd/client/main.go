package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/whisperline/whisperline/internal/config"
)

type programRunner interface {
	Run() (tea.Model, error)
}

type programFactory func(tea.Model, ...tea.ProgramOption) programRunner

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, newProgram programFactory) error {
	cfg := config.LoadFromEnv()

	fs := flag.NewFlagSet("whisperline", flag.ContinueOnError)
	fs.SetOutput(stderr)
	serverAddr := fs.String("server", cfg.ServerURL, "matchmaking server address")
	ipcAddr := fs.String("ipc", defaultCallIPCAddr(cfg), "call daemon ipc address")
	gender := fs.String("gender", cfg.PreferredGender, "preferred partner gender filter")
	college := fs.String("college", cfg.PreferredCollege, "preferred partner college filter")
	spawn := fs.Bool("spawn", true, "start the call daemon if it is not running")
	daemonPath := fs.String("callerd", "", "path to the callerd binary")
	debug := fs.Bool("debug", false, "write daemon output to a log file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m := newRootModel(clientOptions{
		serverURL:  *serverAddr,
		ipcAddr:    *ipcAddr,
		gender:     *gender,
		college:    *college,
		spawn:      *spawn,
		daemonPath: *daemonPath,
		debug:      *debug,
	})

	if newProgram == nil {
		newProgram = func(model tea.Model, options ...tea.ProgramOption) programRunner {
			return tea.NewProgram(model, options...)
		}
	}

	p := newProgram(m, tea.WithAltScreen(), tea.WithInput(stdin), tea.WithOutput(stdout))
	_, err := p.Run()
	return err
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, nil); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
