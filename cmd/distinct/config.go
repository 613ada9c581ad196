package main

import (
	"flag"
	"io"
	"os"
	"strconv"
	"strings"
)

// Config holds the command line configuration. Flag defaults come from the
// environment.
type Config struct {
	// Estimators to run, by name.
	Algorithms []string

	// Target error rate and expected number of distinct values, for the
	// estimators that take them.
	Error     float64
	NDistinct int

	Dump     bool
	Compress bool
	Sizes    bool
	Exact    bool
	Merge    bool

	// Files to read, stdin when empty.
	Inputs []string
}

const defaultAlgorithms = "probabilistic,pcsa,loglog,superloglog,hyperloglog,adaptive,bitmap"

// Load parses args, falling back to DISTINCT_* environment variables for
// the defaults.
func Load(args []string, output io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("distinct", flag.ContinueOnError)
	fs.SetOutput(output)

	algorithms := fs.String("algorithms", getEnv("DISTINCT_ALGORITHMS", defaultAlgorithms),
		"Comma separated estimators to run")
	cfg := &Config{}
	fs.Float64Var(&cfg.Error, "error", getEnvFloat("DISTINCT_ERROR", 0.025), "Target error rate")
	fs.IntVar(&cfg.NDistinct, "ndistinct", getEnvInt("DISTINCT_NDISTINCT", 1000000),
		"Expected number of distinct values (adaptive, bitmap)")
	fs.BoolVar(&cfg.Dump, "dump", false, "Print the encoded state of every estimator")
	fs.BoolVar(&cfg.Compress, "compress", getEnvBool("DISTINCT_COMPRESS", false), "LZ4 compress dumped states")
	fs.BoolVar(&cfg.Sizes, "sizes", false, "Print the in-memory size of every estimator")
	fs.BoolVar(&cfg.Exact, "exact", false, "Also count distinct lines exactly")
	fs.BoolVar(&cfg.Merge, "merge", false, "Inputs hold dumped states to merge instead of elements")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	for _, name := range strings.Split(*algorithms, ",") {
		if name = strings.TrimSpace(name); name != "" {
			cfg.Algorithms = append(cfg.Algorithms, name)
		}
	}
	cfg.Inputs = fs.Args()
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
