package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	goyaml "github.com/goccy/go-yaml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/agentstation/screenflow"
	"github.com/agentstation/screenflow/internal/config"
	"github.com/agentstation/screenflow/screening"
)

// writeStructured prints v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case config.OutputJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case config.OutputYAML:
		data, err := goyaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// writeResult prints the report in text mode and the final state otherwise.
// Raw resume bytes are left out of structured output.
func writeResult(w io.Writer, format string, final screenflow.State) error {
	if format == config.OutputText {
		report, _, err := screenflow.Lookup[string](final, screening.FieldReport)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, report)
		return err
	}
	snapshot := final.Snapshot()
	delete(snapshot, screening.FieldResumes)
	return writeStructured(w, format, snapshot)
}

// writeMetrics prints the gathered metric families in the Prometheus text format.
func writeMetrics(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
