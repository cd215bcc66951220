package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/geoexec/extract"
	"github.com/jonwraymond/geoexec/pipeline"
	"github.com/jonwraymond/geoexec/toolset"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var geojsonPath string
	cmd := &cobra.Command{
		Use:   "analyze <task>",
		Short: "Ask the model for code that performs a task and run it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			geojson, err := readSource(cmd, geojsonPath)
			if err != nil {
				return err
			}
			p, err := a.pipeline(true)
			if err != nil {
				return err
			}
			res, err := p.Analyze(cmd.Context(), pipeline.Request{
				Task:    strings.Join(args, " "),
				GeoJSON: geojson,
			})
			report := toolset.NewReport(res, err)
			if perr := a.print(cmd.OutOrStdout(), report, reportText(report)); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&geojsonPath, "geojson", "", "FeatureCollection file, - for stdin")
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	var codePath, geojsonPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run Python code against a FeatureCollection without a model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if codePath == "" {
				return fmt.Errorf("--code is required")
			}
			if codePath == "-" && geojsonPath == "-" {
				return fmt.Errorf("--code and --geojson cannot both read stdin")
			}
			code, err := readSource(cmd, codePath)
			if err != nil {
				return err
			}
			geojson, err := readSource(cmd, geojsonPath)
			if err != nil {
				return err
			}
			p, err := a.pipeline(false)
			if err != nil {
				return err
			}
			res, err := p.Run(cmd.Context(), string(code), geojson)
			report := toolset.NewReport(res, err)
			if perr := a.print(cmd.OutOrStdout(), report, reportText(report)); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&codePath, "code", "", "Python file, - for stdin")
	cmd.Flags().StringVar(&geojsonPath, "geojson", "", "FeatureCollection file, - for stdin")
	return cmd
}

func newExtractCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Extract fenced Python code from a model response on stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			out := extract.Extract(string(text))
			report := toolset.ExtractReport{
				Found:      out.Found(),
				PythonCode: out.Code,
				Fragments:  len(out.Fragments),
				Truncated:  out.Truncated,
			}
			if err := a.print(cmd.OutOrStdout(), report, func(w io.Writer) {
				fmt.Fprintln(w, out.Code)
			}); err != nil {
				return err
			}
			return out.Err()
		},
	}
}

func reportText(r toolset.Report) func(io.Writer) {
	return func(w io.Writer) {
		if r.PythonCode != "" {
			fmt.Fprintf(w, "# code\n%s\n\n", r.PythonCode)
		}
		if r.Stdout != "" {
			fmt.Fprintf(w, "# stdout\n%s\n", strings.TrimRight(r.Stdout, "\n"))
		}
		if r.Error != nil {
			fmt.Fprintf(w, "# %s\n%s\n", r.Error.Kind, r.Error.Message)
			return
		}
		if r.CRS != "" {
			fmt.Fprintf(w, "# result (%s, %s)\n%s\n", r.ResultType, r.CRS, r.GISResult)
			return
		}
		fmt.Fprintf(w, "# result (%s)\n%s\n", r.ResultType, r.GISResult)
	}
}
