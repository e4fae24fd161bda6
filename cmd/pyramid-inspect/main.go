package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/INLOpen/pyramid/config"
	"github.com/INLOpen/pyramid/core"
	"github.com/INLOpen/pyramid/internal/observability"
	"github.com/INLOpen/pyramid/store"
)

// levelReport describes one pyramid level file.
type levelReport struct {
	Level    core.Level
	Path     string
	Bytes    int64
	Samples  int64
	Channels int
	Duration float64 // seconds covered at the configured base rate
	// Expected is ceil(base / 2^level) where base is the level-0 sample count.
	Expected int64

	Sampled  int
	Mean     float64
	StdDev   float64
	Min      float64
	Max      float64
	Clipped  float64 // fraction of sampled values outside the normalization bounds
	Err      error
}

// inspect opens every available level up to maxLevel and summarizes up to
// sampleRows evenly spaced rows of each.
func inspect(ctx context.Context, st *store.Store, p config.PyramidConfig, sampleRows int) ([]levelReport, error) {
	available, err := st.Available(ctx, core.Level(p.MaxLevel))
	if err != nil {
		return nil, err
	}

	var reports []levelReport
	var base int64 = -1
	it := available.Iterator()
	for it.HasNext() {
		level := core.Level(it.Next())
		rep := levelReport{Level: level, Path: st.Path(level), Channels: st.Channels()}
		ds, err := st.Open(ctx, level)
		if err != nil {
			rep.Err = err
			reports = append(reports, rep)
			continue
		}
		rep.Bytes = ds.Bytes()
		rep.Samples = ds.Samples()
		rep.Duration = core.NewIndexMapper(p.BaseSampleRate).IndexToTime(level, ds.Samples())
		if level == 0 {
			base = ds.Samples()
		}
		if base >= 0 {
			f := int64(1) << uint(level)
			rep.Expected = (base + f - 1) / f
		}
		summarize(&rep, ds, sampleRows, p.ValueMin, p.ValueMax)
		ds.Release()
		reports = append(reports, rep)
	}
	return reports, nil
}

func summarize(rep *levelReport, ds *store.DataSet, sampleRows int, lo, hi float64) {
	if ds.Samples() == 0 || sampleRows <= 0 {
		return
	}
	stride := ds.Samples() / int64(sampleRows)
	if stride < 1 {
		stride = 1
	}
	row := make([]float32, ds.Channels())
	values := make([]float64, 0, sampleRows*ds.Channels())
	clipped := 0
	for i := int64(0); i < ds.Samples() && rep.Sampled < sampleRows; i += stride {
		ds.Row(i, row)
		for _, v := range row {
			x := float64(v)
			if x < lo || x > hi {
				clipped++
			}
			values = append(values, x)
		}
		rep.Sampled++
	}
	rep.Mean, rep.StdDev = stat.MeanStdDev(values, nil)
	rep.Min = floats.Min(values)
	rep.Max = floats.Max(values)
	rep.Clipped = float64(clipped) / float64(len(values))
}

func writeReport(out io.Writer, reports []levelReport) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tSAMPLES\tEXPECTED\tDURATION (s)\tSIZE (MB)\tMEAN\tSTDDEV\tMIN\tMAX\tCLIPPED")
	fmt.Fprintln(w, "-----\t-------\t--------\t------------\t---------\t----\t------\t---\t---\t-------")
	for _, r := range reports {
		if r.Err != nil {
			fmt.Fprintf(w, "%d\tERROR: %v\t\t\t\t\t\t\t\t\n", r.Level, r.Err)
			continue
		}
		expected := "-"
		if r.Expected > 0 {
			expected = fmt.Sprint(r.Expected)
			if r.Expected != r.Samples {
				expected += " (!)"
			}
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%.3f\t%.2f\t%.4g\t%.4g\t%.4g\t%.4g\t%.2f%%\n",
			r.Level,
			r.Samples,
			expected,
			r.Duration,
			float64(r.Bytes)/(1024*1024),
			r.Mean,
			r.StdDev,
			r.Min,
			r.Max,
			r.Clipped*100,
		)
	}
	return w.Flush()
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pyramid-inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config.yaml", "Path to the configuration file")
	dir := fs.String("dir", "", "Pyramid directory; overrides pyramid.dir from the configuration")
	sampleRows := fs.Int("sample-rows", 4096, "Rows sampled per level for statistics")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if *dir != "" {
		cfg.Pyramid.Dir = *dir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	cfg.Logging.Output = "stderr"
	logger, logCloser, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	sampleType, _ := core.ParseSampleType(cfg.Pyramid.SampleType)
	st, err := store.New(store.Options{
		Dir:           cfg.Pyramid.Dir,
		FilePattern:   cfg.Pyramid.FilePattern,
		Channels:      cfg.Pyramid.Channels,
		SampleType:    sampleType,
		MaxOpenLevels: 1,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("Failed to create resolution store", "error", err)
		return 1
	}
	defer st.Close()

	reports, err := inspect(context.Background(), st, cfg.Pyramid, *sampleRows)
	if err != nil {
		logger.Error("Failed to inspect pyramid", "dir", cfg.Pyramid.Dir, "error", err)
		return 1
	}
	if len(reports) == 0 {
		fmt.Fprintln(stdout, "No pyramid levels found.")
		return 0
	}
	if err := writeReport(stdout, reports); err != nil {
		logger.Error("Failed to write report", "error", err)
		return 1
	}
	return 0
}
