package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	covenant "github.com/Cyronius/covenant"
	"github.com/Cyronius/covenant/analysis"
	"github.com/Cyronius/covenant/codegen"
	"github.com/Cyronius/covenant/optimizer"
)

// ErrCheckFailed aborts a build after type errors were printed.
var ErrCheckFailed = errors.New("type checking failed")

func buildCommand() *cli.Command {
	return &cli.Command{
		Name:      "build",
		Usage:     "Compile a Covenant source file to WebAssembly",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "output path (overrides build.out in .covenant.yaml; defaults to <file>.wasm)",
			},
			&cli.StringFlag{
				Name:  "opt",
				Usage: "optimization level (O0-O3)",
				Value: "O0",
			},
		},
		Action: runBuild,
	}
}

func runBuild(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd.Bool("verbose"))
	defer func() { _ = logger.Sync() }()

	path := cmd.Args().First()
	if path == "" {
		return errors.New("build requires a source file")
	}

	source, program, err := loadProgram(path)
	if err != nil {
		return err
	}

	check := analysis.Check(program)
	if !check.Ok() {
		printCheckErrors(path, source, check.Errors)

		return ErrCheckFailed
	}

	logger.Debug("checked program",
		zap.Int("snippets", len(program.Snippets)),
		zap.Int("symbols", check.Symbols.Len()))

	// The optimizer pipeline is scaffolding; run it for its warnings.
	// Flags override .covenant.yaml, which overrides the defaults.
	fileCfg, cfgErr := covenant.LoadConfig(filepath.Dir(path))

	optName := cmd.String("opt")
	if cfgErr == nil && fileCfg.Build.OptLevel != "" && !cmd.IsSet("opt") {
		optName = fileCfg.Build.OptLevel
	}

	optLevel, ok := optimizer.ParseOptLevel(optName)
	if !ok {
		return fmt.Errorf("unknown optimization level %q", optName)
	}

	settings := &optimizer.OptSettings{Level: optLevel, EmitWarnings: true}

	for _, snippet := range program.Snippets {
		if body := snippet.Body(); body != nil {
			result := optimizer.Optimize(body.Steps, settings)
			for _, warning := range result.Warnings {
				fmt.Fprintf(os.Stderr, "%s: %s: %s\n", snippet.ID, warning.Pass, warning.Message)
			}
		}
	}

	wasmBytes, err := codegen.Compile(program, check)
	if err != nil {
		return fmt.Errorf("code generation failed: %w", err)
	}

	out := cmd.String("out")
	if out == "" && cfgErr == nil {
		out = fileCfg.Build.Out
	}

	if out == "" {
		out = strings.TrimSuffix(path, filepath.Ext(path)) + ".wasm"
	}

	err = os.WriteFile(out, wasmBytes, 0o644)
	if err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}

	logger.Debug("module written", zap.String("out", out), zap.Int("bytes", len(wasmBytes)))
	fmt.Printf("wrote %s (%d bytes)\n", out, len(wasmBytes))

	return nil
}

// loadProgram reads and parses a source file. Parse diagnostics are
// printed but only fatal when nothing parsed.
func loadProgram(path string) (string, *covenant.Program, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", nil, fmt.Errorf("reading %s: %w", path, err)
	}

	source := string(data)

	program, err := covenant.Parse(source)
	if err != nil {
		var list covenant.ParseErrorList
		if !errors.As(err, &list) {
			return source, nil, err
		}

		for _, parseErr := range list {
			line := covenant.LineOf(source, parseErr.SrcSpan.Start)
			fmt.Fprintf(os.Stderr, "%s:%d: %s\n", path, line, parseErr.Error())
		}

		if program == nil || (len(program.Snippets) == 0 && len(program.Declarations) == 0) {
			return source, nil, fmt.Errorf("%s: no snippets parsed", path)
		}
	}

	return source, program, nil
}

func printCheckErrors(path, source string, errs []*analysis.CheckError) {
	for _, checkErr := range errs {
		line := covenant.LineOf(source, checkErr.SrcSpan.Start)
		fmt.Fprintf(os.Stderr, "%s:%d: %s\n", path, line, checkErr.Error())
	}
}
