package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/geoexec/bootstrap"
	"github.com/jonwraymond/geoexec/pipeline"
	"github.com/jonwraymond/geoexec/toolset"
)

const (
	historyFile = ".geoexec_history"
	shellPrompt = "geo> "
	shellHelp   = `Each line is a task run against the loaded collection.
  :load <file>  load a FeatureCollection
  :unload       forget the loaded collection
  :code         show the code of the last task
  :quit         leave the shell`
)

// Analyzer is the pipeline operation the shell drives.
type Analyzer interface {
	Analyze(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session; each line is a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.pipeline(true)
			if err != nil {
				return err
			}

			ln := liner.NewLiner()
			defer ln.Close()
			ln.SetCtrlCAborts(true)

			home, _ := os.UserHomeDir()
			histPath := filepath.Join(home, historyFile)
			if f, err := os.Open(histPath); err == nil {
				_, _ = ln.ReadHistory(f)
				_ = f.Close()
			}
			defer func() {
				if f, err := os.Create(histPath); err == nil {
					_, _ = ln.WriteHistory(f)
					_ = f.Close()
				}
			}()

			s := &session{app: a, analyzer: p, out: cmd.OutOrStdout()}
			fmt.Fprintln(s.out, "geoexec shell. Type :help for commands.")
			for {
				line, err := ln.Prompt(shellPrompt)
				if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
					fmt.Fprintln(s.out)
					return nil
				}
				if err != nil {
					return err
				}
				if strings.TrimSpace(line) != "" {
					ln.AppendHistory(line)
				}
				if s.handle(cmd.Context(), line) {
					return nil
				}
			}
		},
	}
}

// session is the state of one shell.
type session struct {
	app      *app
	analyzer Analyzer
	out      io.Writer
	geojson  []byte
	lastCode string
}

// handle processes one line and reports whether the shell should exit.
func (s *session) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, ":") {
		return s.command(line)
	}

	res, err := s.analyzer.Analyze(ctx, pipeline.Request{Task: line, GeoJSON: s.geojson})
	if res.Code != "" {
		s.lastCode = res.Code
	}
	report := toolset.NewReport(res, err)
	if perr := s.app.print(s.out, report, reportText(report)); perr != nil {
		fmt.Fprintln(s.out, perr)
	}
	return false
}

func (s *session) command(line string) bool {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case ":quit", ":q", ":exit":
		return true
	case ":help":
		fmt.Fprintln(s.out, shellHelp)
	case ":code":
		if s.lastCode == "" {
			fmt.Fprintln(s.out, "no code yet")
			return false
		}
		fmt.Fprintln(s.out, s.lastCode)
	case ":unload":
		s.geojson = nil
		fmt.Fprintln(s.out, "collection unloaded")
	case ":load":
		if len(fields) != 2 {
			fmt.Fprintln(s.out, "usage: :load <file>")
			return false
		}
		raw, err := os.ReadFile(fields[1])
		if err != nil {
			fmt.Fprintln(s.out, err)
			return false
		}
		pre, err := bootstrap.Bootstrap(raw)
		if err != nil {
			fmt.Fprintln(s.out, err)
			return false
		}
		s.geojson = raw
		fmt.Fprintf(s.out, "loaded %d features, columns: %s\n", pre.Frame.Len(), strings.Join(pre.Frame.Columns, ", "))
	default:
		fmt.Fprintf(s.out, "unknown command %s. Type :help.\n", fields[0])
	}
	return false
}
