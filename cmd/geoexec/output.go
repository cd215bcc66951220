package main

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"sigs.k8s.io/yaml"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
	outputText = "text"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// print writes v in the selected format. text falls back to JSON when the
// caller has no plain rendering.
func (a *app) print(w io.Writer, v any, text func(io.Writer)) error {
	switch a.output {
	case outputYAML:
		b, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case outputText:
		if text != nil {
			text(w)
			return nil
		}
	case outputJSON:
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
