// Command distinct estimates the number of distinct lines in its input with
// each of the probabilistic counters.
//
//	distinct [flags] [file ...]
//
// Lines are read from the named files, or stdin. With -dump the state of
// every estimator is printed in text form; with -merge the inputs hold such
// dumps, which are merged per estimator.
package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/DmitriyVTitov/size"

	"github.com/clarkduvall/distinct"
	"github.com/clarkduvall/distinct/codec"
)

// maxLine bounds a single input line, dumps included.
const maxLine = 64 << 20

func main() {
	log.SetFlags(0)
	log.SetPrefix("distinct: ")

	cfg, err := Load(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	if err := run(cfg, os.Stdin, os.Stdout); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(cfg *Config, stdin io.Reader, out io.Writer) error {
	// A dump line carries only the kind and the state, so merge can read it back.
	if cfg.Dump && cfg.Sizes {
		return fmt.Errorf("-dump can't be combined with -sizes")
	}
	if cfg.Merge {
		return merge(cfg, stdin, out)
	}

	estimators := make([]*estimator, 0, len(cfg.Algorithms))
	for _, name := range cfg.Algorithms {
		est, err := newEstimator(name, cfg.Error, cfg.NDistinct)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		estimators = append(estimators, est)
	}

	var exact map[string]struct{}
	if cfg.Exact {
		exact = make(map[string]struct{})
	}
	lines := 0
	err := eachLine(cfg.Inputs, stdin, func(line []byte) error {
		lines++
		for _, est := range estimators {
			if err := est.add(line); err != nil {
				return fmt.Errorf("%s: %w", est.kind, err)
			}
		}
		if exact != nil {
			exact[string(line)] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("read %d lines", lines)

	for _, est := range estimators {
		if err := report(cfg, out, est.kind, est.counter); err != nil {
			return err
		}
	}
	if exact != nil {
		fmt.Fprintf(out, "%-14s %d\n", "exact", len(exact))
	}
	return nil
}

// merge decodes the dumped states in the inputs and merges them by kind.
func merge(cfg *Config, stdin io.Reader, out io.Writer) error {
	var order []codec.Kind
	merged := make(map[codec.Kind]distinct.Counter)

	err := eachLine(cfg.Inputs, stdin, func(line []byte) error {
		s := strings.TrimSpace(string(line))
		if s == "" {
			return nil
		}
		// A dump line is "<name> <state>".
		if _, state, ok := strings.Cut(s, " "); ok {
			s = state
		}
		c, err := codec.DecodeText(s)
		if err != nil {
			return err
		}
		kind, err := codec.KindOf(c)
		if err != nil {
			return err
		}
		prev, ok := merged[kind]
		if !ok {
			order = append(order, kind)
			merged[kind] = c
			return nil
		}
		if merged[kind], err = codec.Merged(prev, c); err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, kind := range order {
		if err := report(cfg, out, kind, merged[kind]); err != nil {
			return err
		}
	}
	return nil
}

func report(cfg *Config, out io.Writer, kind codec.Kind, c distinct.Counter) error {
	line := fmt.Sprintf("%-14s %d", kind, c.Estimate())
	if cfg.Sizes {
		line += fmt.Sprintf(" %d", size.Of(c))
	}
	if cfg.Dump {
		method := codec.MethodNone
		if cfg.Compress {
			method = codec.MethodLZ4
		}
		s, err := codec.EncodeText(c, method)
		if err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		line = fmt.Sprintf("%s %s", kind, s)
	}
	_, err := fmt.Fprintln(out, line)
	return err
}

func eachLine(inputs []string, stdin io.Reader, f func(line []byte) error) error {
	if len(inputs) == 0 {
		return scan(stdin, f)
	}
	for _, path := range inputs {
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		err = scan(file, f)
		file.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func scan(r io.Reader, f func(line []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		if err := f(scanner.Bytes()); err != nil {
			return err
		}
	}
	return scanner.Err()
}
