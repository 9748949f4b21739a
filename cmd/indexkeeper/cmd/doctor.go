package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexkeeper/internal/commitpoint"
	"github.com/Aman-CERP/indexkeeper/internal/crashmarker"
	"github.com/Aman-CERP/indexkeeper/internal/engine"
	"github.com/Aman-CERP/indexkeeper/internal/profiling"
)

// diagnosis is the machine-readable doctor report.
type diagnosis struct {
	DataDir            string           `json:"data_dir"`
	CrashMarkerPresent bool             `json:"crash_marker_present"`
	HeapInUse          string           `json:"heap_in_use"`
	Indexes            []indexDiagnosis `json:"indexes"`
	Healthy            bool             `json:"healthy"`
}

type indexDiagnosis struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Generation   uint64   `json:"generation"`
	CommitPoints int      `json:"commit_points"`
	Problems     []string `json:"problems,omitempty"`
}

func newDoctorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate the on-disk state of every index",
		Long: `Inspect the data directory without opening any index: format version
tags, write locks, unclean-write markers, generation pointers and commit
point counts. Problems found here are what the recovery coordinator
would have to repair on the next startup.`,
		Example: `  # Check the default data directory
  indexkeeper doctor

  # JSON output for scripting
  indexkeeper doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runDoctor(cmd, cfg.Storage.DataDir, cfg.Storage.MaxCommitPoints, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runDoctor(cmd *cobra.Command, dataDir string, maxPoints int, jsonOutput bool) error {
	report := diagnosis{
		DataDir:   dataDir,
		HeapInUse: profiling.FormatBytes(profiling.ReadHeapUsage().Alloc),
		Healthy:   true,
	}

	present, err := crashmarker.New(dataDir).Present()
	if err != nil {
		return err
	}
	report.CrashMarkerPresent = present
	if present {
		report.Healthy = false
	}

	e := engine.New(dataDir, false)
	points := commitpoint.NewManager(dataDir, maxPoints)
	defs, broken := e.ListDefinitions()
	for dir, berr := range broken {
		report.Healthy = false
		report.Indexes = append(report.Indexes, indexDiagnosis{
			Name:     dir,
			Problems: []string{fmt.Sprintf("unreadable definition: %v", berr)},
		})
	}

	for _, def := range defs {
		d := indexDiagnosis{Name: def.Name, Kind: def.Kind.String()}
		dir := e.IndexPath(def.Name)

		if err := engine.CheckFormatVersion(dir, def.Name, def.Kind); err != nil {
			d.Problems = append(d.Problems, err.Error())
		}
		if gen, err := engine.ReadGeneration(dir); err != nil {
			d.Problems = append(d.Problems, fmt.Sprintf("generation pointer: %v", err))
		} else {
			d.Generation = gen
		}
		if stale, err := engine.DetectStaleWriteLock(dir); err != nil {
			d.Problems = append(d.Problems, fmt.Sprintf("write lock: %v", err))
		} else if stale {
			d.Problems = append(d.Problems, "stale write lock")
		}
		if unclean, err := engine.HasUncleanWriteMarker(dir); err != nil {
			d.Problems = append(d.Problems, fmt.Sprintf("write marker: %v", err))
		} else if unclean {
			d.Problems = append(d.Problems, "interrupted write, last batch never committed")
		}
		if gens, err := points.List(def.Name); err != nil {
			d.Problems = append(d.Problems, fmt.Sprintf("commit points: %v", err))
		} else {
			d.CommitPoints = len(gens)
		}

		if len(d.Problems) > 0 {
			report.Healthy = false
		}
		report.Indexes = append(report.Indexes, d)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "data directory: %s\n", report.DataDir)
	fmt.Fprintf(out, "heap in use: %s\n", report.HeapInUse)
	if report.CrashMarkerPresent {
		fmt.Fprintln(out, "crash marker: PRESENT (previous shutdown was unclean)")
	} else {
		fmt.Fprintln(out, "crash marker: absent")
	}
	for _, d := range report.Indexes {
		status := "ok"
		if len(d.Problems) > 0 {
			status = "PROBLEMS"
		}
		fmt.Fprintf(out, "index %s (%s): generation %d, %d commit points, %s\n",
			d.Name, d.Kind, d.Generation, d.CommitPoints, status)
		for _, p := range d.Problems {
			fmt.Fprintf(out, "  - %s\n", p)
		}
	}
	if report.Healthy {
		fmt.Fprintln(out, "all checks passed")
		return nil
	}
	return fmt.Errorf("problems found; the next startup will attempt recovery")
}
