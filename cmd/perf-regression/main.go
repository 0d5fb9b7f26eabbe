// Command perf-regression compares two `go test -bench` outputs and fails
// when a tracked benchmark metric regressed past the threshold.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

const defaultThreshold = 0.30

// defaultTracked covers the hot paths of the API-key gate and token checks.
var defaultTracked = map[string][]string{
	"BenchmarkAuthorizeAPIKey":   {"ns/op", "allocs/op"},
	"BenchmarkVerifyAccessToken": {"ns/op", "allocs/op"},
	"BenchmarkMetricsInc":        {"ns/op"},
}

type sampleSet map[string]map[string][]float64

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("perf-regression", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		baselinePath  = fs.String("baseline", "", "path to baseline benchmark output")
		candidatePath = fs.String("candidate", "", "path to candidate benchmark output")
		threshold     = fs.Float64("threshold", defaultThreshold, "maximum allowed regression ratio (0.30 = +30%)")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *baselinePath == "" || *candidatePath == "" {
		fmt.Fprintln(stderr, "-baseline and -candidate are required")
		return 2
	}
	if *threshold < 0 {
		fmt.Fprintln(stderr, "-threshold must be >= 0")
		return 2
	}

	baseline, err := parseBenchmarkFile(*baselinePath, defaultTracked)
	if err != nil {
		fmt.Fprintf(stderr, "parse baseline: %v\n", err)
		return 1
	}
	candidate, err := parseBenchmarkFile(*candidatePath, defaultTracked)
	if err != nil {
		fmt.Fprintf(stderr, "parse candidate: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "perf regression check:")
	fmt.Fprintln(stdout, "benchmark metric baseline candidate delta")
	failures := compare(stdout, defaultTracked, baseline, candidate, *threshold)
	if len(failures) > 0 {
		fmt.Fprintln(stderr, "performance regression threshold exceeded:")
		for _, failure := range failures {
			fmt.Fprintf(stderr, "  - %s\n", failure)
		}
		return 1
	}
	return 0
}

// compare prints one line per tracked metric and returns the failures.
func compare(out io.Writer, tracked map[string][]string, baseline, candidate sampleSet, threshold float64) []string {
	names := make([]string, 0, len(tracked))
	for name := range tracked {
		names = append(names, name)
	}
	sort.Strings(names)

	var failures []string
	for _, benchmark := range names {
		for _, metric := range tracked[benchmark] {
			baseSamples := baseline[benchmark][metric]
			candidateSamples := candidate[benchmark][metric]
			if len(baseSamples) == 0 || len(candidateSamples) == 0 {
				failures = append(failures, fmt.Sprintf("missing samples for %s %s", benchmark, metric))
				continue
			}

			baseMedian := median(baseSamples)
			candidateMedian := median(candidateSamples)
			if baseMedian <= 0 {
				// zero allocs stays acceptable only while it stays zero
				if candidateMedian > 0 {
					failures = append(failures, fmt.Sprintf("%s %s rose from 0 to %.3f", benchmark, metric, candidateMedian))
				}
				continue
			}

			delta := (candidateMedian - baseMedian) / baseMedian
			fmt.Fprintf(out, "%s %s %.3f %.3f %+0.2f%%\n", benchmark, metric, baseMedian, candidateMedian, delta*100)
			if delta > threshold {
				failures = append(failures, fmt.Sprintf("%s %s regressed by %+0.2f%% (limit %+0.2f%%)", benchmark, metric, delta*100, threshold*100))
			}
		}
	}
	return failures
}

func parseBenchmarkFile(path string, tracked map[string][]string) (sampleSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return parseBenchmarks(file, tracked)
}

func parseBenchmarks(r io.Reader, tracked map[string][]string) (sampleSet, error) {
	samples := sampleSet{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Benchmark") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		name := normalizeBenchmarkName(fields[0])
		if _, ok := tracked[name]; !ok {
			continue
		}

		if _, ok := samples[name]; !ok {
			samples[name] = map[string][]float64{}
		}

		for i := 2; i+1 < len(fields); i += 2 {
			value, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			unit := fields[i+1]
			samples[name][unit] = append(samples[name][unit], value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// normalizeBenchmarkName strips the -GOMAXPROCS suffix.
func normalizeBenchmarkName(raw string) string {
	if idx := strings.LastIndexByte(raw, '-'); idx > 0 {
		if _, err := strconv.Atoi(raw[idx+1:]); err == nil {
			return raw[:idx]
		}
	}
	return raw
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	copied := make([]float64, len(values))
	copy(copied, values)
	sort.Float64s(copied)

	mid := len(copied) / 2
	if len(copied)%2 == 1 {
		return copied[mid]
	}
	return (copied[mid-1] + copied[mid]) / 2
}
