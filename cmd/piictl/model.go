package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"piiguard/internal/classifier"
	"piiguard/internal/models"
)

type modelEnv struct {
	registry models.Registry
	root     string
	runtime  string
	library  string
}

func (o *rootOptions) modelEnv() (modelEnv, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return modelEnv{}, err
	}
	registry, err := models.LoadRegistry(cfg.Models.Registry)
	if err != nil {
		return modelEnv{}, err
	}
	return modelEnv{
		registry: registry,
		root:     cfg.Models.Root,
		runtime:  cfg.Domain.Runtime,
		library:  cfg.Domain.SharedLibrary,
	}, nil
}

func (e modelEnv) find(name string) (models.ModelSpec, error) {
	m, ok := e.registry.Find(name)
	if !ok {
		return models.ModelSpec{}, fmt.Errorf("model %q not found", name)
	}
	return m, nil
}

func newModelCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage token-classification models",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List registry models and their install status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				env, err := opts.modelEnv()
				if err != nil {
					return err
				}
				return modelList(cmd.OutOrStdout(), env, opts.output)
			},
		},
		&cobra.Command{
			Use:   "info <name>",
			Short: "Show registry details for one model",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				env, err := opts.modelEnv()
				if err != nil {
					return err
				}
				return modelInfo(cmd.OutOrStdout(), env, args[0], opts.output)
			},
		},
		newModelDownloadCommand(opts),
		&cobra.Command{
			Use:   "verify",
			Short: "Check installed models for missing files, checksum drift and loadability",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				env, err := opts.modelEnv()
				if err != nil {
					return err
				}
				return modelVerify(cmd.OutOrStdout(), env)
			},
		},
		newModelRemoveCommand(opts),
	)
	return cmd
}

func modelList(w io.Writer, env modelEnv, output string) error {
	if output == outputJSON {
		type row struct {
			models.ModelSpec
			Installed bool `json:"installed"`
			Published bool `json:"published"`
		}
		rows := make([]row, 0, len(env.registry.Models))
		for _, m := range env.registry.Models {
			rows = append(rows, row{ModelSpec: m, Installed: models.IsInstalled(env.root, m), Published: m.Published()})
		}
		return writeJSON(w, map[string]any{"models": rows})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tROLE\tVERSION\tSIZE\tSTATUS\tLABELS")
	installed, unpublished := 0, 0
	var totalSize int64
	for _, m := range env.registry.Models {
		status := "not installed"
		switch {
		case models.IsInstalled(env.root, m):
			status = "installed"
			installed++
			totalSize += m.SizeBytes
		case !m.Published():
			status = "unpublished"
			unpublished++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", m.Name, m.Role, m.Version, humanBytes(m.SizeBytes), status, strings.Join(m.EmittedLabels(), ", "))
	}
	tw.Flush()
	fmt.Fprintf(w, "\nInstalled: %d/%d models (%s)\n", installed, len(env.registry.Models), humanBytes(totalSize))
	if unpublished > 0 {
		fmt.Fprintf(w, "%d model(s) have no published release; set models.registry to a registry that lists their url and checksum\n", unpublished)
	}
	fmt.Fprintln(w, "Tip: use 'piictl model download <name>' to install a model")
	return nil
}

func modelInfo(w io.Writer, env modelEnv, name, output string) error {
	m, err := env.find(name)
	if err != nil {
		return err
	}
	installed := models.IsInstalled(env.root, m)
	location := models.ModelInstallPath(env.root, m.Name)
	if output == outputJSON {
		return writeJSON(w, map[string]any{"model": m, "installed": installed, "published": m.Published(), "location": location})
	}
	status := "Not installed"
	switch {
	case installed:
		status = "Installed"
	case !m.Published():
		status = "Unpublished (no release url or checksum)"
	}
	fmt.Fprintf(w, "Model: %s\n", m.Name)
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintf(w, "Status:         %s\n", status)
	fmt.Fprintf(w, "Role:           %s\n", m.Role)
	fmt.Fprintf(w, "Version:        %s\n", m.Version)
	fmt.Fprintf(w, "Size:           %s\n", humanBytes(m.SizeBytes))
	fmt.Fprintf(w, "Location:       %s\n", location)
	fmt.Fprintf(w, "Description:    %s\n", m.Description)
	fmt.Fprintf(w, "Model Labels:   %s\n", strings.Join(m.Labels, ", "))
	fmt.Fprintf(w, "Emitted Labels: %s\n", strings.Join(m.EmittedLabels(), ", "))
	fmt.Fprintf(w, "License:        %s\n", m.License)
	fmt.Fprintf(w, "URL:            %s\n", m.URL)
	fmt.Fprintf(w, "Checksum:       %s\n", m.Checksum)
	return nil
}

func newModelDownloadCommand(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "download [name]",
		Short: "Download, verify and install a model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.modelEnv()
			if err != nil {
				return err
			}
			var selected []models.ModelSpec
			switch {
			case all:
				for _, m := range env.registry.Models {
					if !m.Recommended {
						continue
					}
					if !m.Published() {
						fmt.Fprintf(cmd.OutOrStdout(), "Skipping %s: no published release\n", m.Name)
						continue
					}
					selected = append(selected, m)
				}
			case len(args) == 1:
				m, err := env.find(args[0])
				if err != nil {
					return err
				}
				if !m.Published() {
					return fmt.Errorf("model %q has no published release; set models.registry to a registry that lists its url and checksum", m.Name)
				}
				selected = append(selected, m)
			default:
				return errors.New("usage: piictl model download <name> or piictl model download --all")
			}
			return modelDownload(cmd, env, selected)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "download all recommended models")
	return cmd
}

func modelDownload(cmd *cobra.Command, env modelEnv, selected []models.ModelSpec) error {
	w := cmd.OutOrStdout()
	dl := models.NewDownloader()
	for _, m := range selected {
		fmt.Fprintf(w, "\nDownloading %s v%s\n", m.Name, m.Version)
		fmt.Fprintf(w, "Source: %s\n\n", m.URL)
		lastUpdate := time.Time{}
		err := dl.DownloadAndInstall(cmd.Context(), m, env.root, func(p models.Progress) {
			if time.Since(lastUpdate) < 120*time.Millisecond && p.Total > 0 {
				return
			}
			lastUpdate = time.Now()
			pct := float64(0)
			if p.Total > 0 {
				pct = float64(p.Downloaded) * 100 / float64(p.Total)
			}
			fmt.Fprintf(w, "\rDownloading... %6.2f%% | %s / %s | %.2f MB/s | ETA %s", pct, humanBytes(p.Downloaded), humanBytes(p.Total), p.SpeedMBps, p.ETA.Truncate(time.Second))
		})
		fmt.Fprintln(w)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "Verifying checksum... ✓")
		fmt.Fprintln(w, "Extracting... ✓")
		if err := validateModelLoads(env, models.ModelInstallPath(env.root, m.Name)); err != nil {
			return fmt.Errorf("validate model: %w", err)
		}
		fmt.Fprintln(w, "Validating model... ✓")
		fmt.Fprintf(w, "\n✓ Model %s installed successfully\n", m.Name)
		if m.Role == models.RoleDomain {
			fmt.Fprintf(w, "Enable it with PIIGUARD_DOMAIN_MODEL_DIR=%s\n", models.ModelInstallPath(env.root, m.Name))
		}
	}
	return nil
}

// validateModelLoads opens the model with the configured ONNX runtime.
func validateModelLoads(env modelEnv, dir string) error {
	if _, err := classifier.LoadVocabulary(dir); err != nil {
		return err
	}
	o, err := classifier.NewONNX(dir, env.runtime, env.library)
	if err != nil {
		return err
	}
	return o.Close()
}

func modelVerify(w io.Writer, env modelEnv) error {
	fmt.Fprintln(w, "Verifying installed models...")
	installed, failures := 0, 0
	for _, m := range env.registry.Models {
		if !models.IsInstalled(env.root, m) {
			continue
		}
		installed++
		fmt.Fprintf(w, "\n%s\n", m.Name)
		if err := models.Verify(env.root, m); err != nil {
			fmt.Fprintf(w, "  ├─ Checksum... ✗ (%v)\n", err)
			failures++
		} else {
			fmt.Fprintln(w, "  ├─ Checksum... ✓")
		}
		dir := models.ModelInstallPath(env.root, m.Name)
		if err := models.ValidateModelDir(dir); err != nil {
			fmt.Fprintf(w, "  ├─ Files...    ✗ (%v)\n", err)
			failures++
			continue
		}
		fmt.Fprintln(w, "  ├─ Files...    ✓")
		if err := validateModelLoads(env, dir); err != nil {
			fmt.Fprintf(w, "  └─ Loadable... ✗ (%v)\n", err)
			failures++
			continue
		}
		fmt.Fprintln(w, "  └─ Loadable... ✓")
	}
	if installed == 0 {
		fmt.Fprintln(w, "\nNo installed models found")
		return nil
	}
	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	fmt.Fprintln(w, "\nAll models verified")
	return nil
}

func newModelRemoveCommand(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete an installed model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.modelEnv()
			if err != nil {
				return err
			}
			m, err := env.find(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			loc := models.ModelInstallPath(env.root, m.Name)
			if _, err := os.Stat(loc); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					fmt.Fprintf(w, "Model %s is not installed\n", m.Name)
					return nil
				}
				return err
			}
			if !yes {
				fmt.Fprintf(w, "Remove model '%s' (%s)?\nThis will delete %s\n\nContinue? (y/N): ", m.Name, humanBytes(m.SizeBytes), loc)
				resp, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				resp = strings.TrimSpace(strings.ToLower(resp))
				if resp != "y" && resp != "yes" {
					fmt.Fprintln(w, "Cancelled")
					return nil
				}
			}
			if err := os.RemoveAll(loc); err != nil {
				return err
			}
			fmt.Fprintf(w, "Model %s removed\n", m.Name)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func humanBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	const mb = 1024 * 1024
	if n >= mb {
		return fmt.Sprintf("%d MB", n/mb)
	}
	return fmt.Sprintf("%d KB", n/1024)
}
