package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"piiguard/internal/app"
	"piiguard/internal/detect"
	"piiguard/internal/sanitizer"
)

type predictor interface {
	Predict(ctx context.Context, text string) ([]detect.Entity, error)
}

// predictor returns a remote client when --server is set, otherwise an
// in-process pipeline. The returned func releases it.
func (o *rootOptions) predictor(ctx context.Context) (predictor, func(), error) {
	if o.server != "" {
		return newRemote(o.server, o.timeout), func() {}, nil
	}
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	rt, err := app.Build(ctx, cfg, o.log, nil)
	if err != nil {
		return nil, nil, err
	}
	return rt.Pipeline, func() { _ = rt.Close() }, nil
}

// readText joins args, or reads --file, or reads stdin. One trailing
// newline is dropped so offsets match what the user typed.
func readText(cmd *cobra.Command, args []string, file string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	var (
		data []byte
		err  error
	)
	if file != "" {
		data, err = os.ReadFile(file)
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	text := strings.TrimSuffix(string(data), "\n")
	return strings.TrimSuffix(text, "\r"), nil
}

func newPredictCommand(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "predict [text...]",
		Short: "List the PII entities found in text",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args, file)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			p, release, err := opts.predictor(ctx)
			if err != nil {
				return err
			}
			defer release()
			entities, err := p.Predict(ctx, text)
			if err != nil {
				return err
			}
			// Report code points, as the HTTP API does.
			entities, err = detect.NewOffsets(text).CharPositions(entities)
			if err != nil {
				return err
			}
			if opts.output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"pii": entities})
			}
			writeEntities(cmd.OutOrStdout(), entities)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read text from file instead of stdin")
	return cmd
}

func newRedactCommand(opts *rootOptions) *cobra.Command {
	var (
		file   string
		labels []string
	)
	cmd := &cobra.Command{
		Use:   "redact [text...]",
		Short: "Replace PII in text with [LABEL_N] placeholders",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args, file)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			p, release, err := opts.predictor(ctx)
			if err != nil {
				return err
			}
			defer release()
			entities, err := p.Predict(ctx, text)
			if err != nil {
				return err
			}

			maxReplacements := 0
			if cfg, err := opts.loadConfig(); err == nil {
				maxReplacements = cfg.Redact.MaxReplacements
				if len(labels) == 0 {
					labels = cfg.Redact.Labels
				}
			}
			redacted, items := sanitizer.New(sanitizer.WithLabels(labels...), sanitizer.WithMaxReplacements(maxReplacements)).Redact(text, entities)
			if opts.output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"text": redacted, "items": items})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, redacted)
			if len(items) > 0 {
				fmt.Fprintln(out)
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "PLACEHOLDER\tLABEL\tORIGINAL")
				for _, it := range items {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", it.Placeholder, it.Label, it.Original)
				}
				tw.Flush()
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read text from file instead of stdin")
	cmd.Flags().StringSliceVarP(&labels, "labels", "l", nil, "only redact these labels (default: all, or redact.labels)")
	return cmd
}

func newRestoreCommand() *cobra.Command {
	var itemsPath string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Stream stdin to stdout, replacing placeholders with their originals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(itemsPath)
			if err != nil {
				return fmt.Errorf("read items: %w", err)
			}
			items, err := decodeItems(data)
			if err != nil {
				return err
			}
			r := sanitizer.NewStreamingRestorer(io.NopCloser(cmd.InOrStdin()), items)
			defer r.Close()
			_, err = io.Copy(cmd.OutOrStdout(), r)
			return err
		},
	}
	cmd.Flags().StringVar(&itemsPath, "items", "", "JSON items from redact -o json (the object or its items array)")
	_ = cmd.MarkFlagRequired("items")
	return cmd
}

// decodeItems accepts either a redact response or a bare items array.
func decodeItems(data []byte) ([]sanitizer.Item, error) {
	var items []sanitizer.Item
	if err := json.Unmarshal(data, &items); err == nil {
		return items, nil
	}
	var resp struct {
		Items []sanitizer.Item `json:"items"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse items: %w", err)
	}
	return resp.Items, nil
}

func newPatternsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "List the built-in entity patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			patterns := detect.DefaultPatterns().Patterns()
			if opts.output == outputJSON {
				out := make([]map[string]string, 0, len(patterns))
				for _, p := range patterns {
					out = append(out, map[string]string{"label": p.Label, "expr": p.Expr})
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{"patterns": out})
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "LABEL\tEXPRESSION")
			for _, p := range patterns {
				fmt.Fprintf(tw, "%s\t%s\n", p.Label, p.Expr)
			}
			return tw.Flush()
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeEntities(w io.Writer, entities []detect.Entity) {
	if len(entities) == 0 {
		fmt.Fprintln(w, "No PII found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tTEXT\tSCORE\tPOSITIONS")
	for _, e := range entities {
		pos := make([]string, 0, len(e.Positions))
		for _, p := range e.Positions {
			pos = append(pos, fmt.Sprintf("%d-%d", p[0], p[1]))
		}
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%s\n", e.Label, e.Text, e.Score, strings.Join(pos, ","))
	}
	tw.Flush()
}
