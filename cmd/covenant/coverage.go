package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"

	covenant "github.com/Cyronius/covenant"
	"github.com/Cyronius/covenant/requirements"
)

func coverageCommand() *cli.Command {
	return &cli.Command{
		Name:      "coverage",
		Usage:     "Validate requirement coverage and print a report",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "report format: text, json, or markdown",
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "treat every uncovered requirement as an error",
			},
			&cli.BoolFlag{
				Name:  "uncovered-only",
				Usage: "limit the report to uncovered requirements",
			},
		},
		Action: runCoverage,
	}
}

func runCoverage(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("coverage requires a source file")
	}

	_, program, err := loadProgram(path)
	if err != nil {
		return err
	}

	// Flags override .covenant.yaml, which overrides the defaults.
	config := requirements.DefaultConfig()
	formatName := cmd.String("format")

	fileCfg, cfgErr := covenant.LoadConfig(filepath.Dir(path))
	if cfgErr == nil {
		config = requirements.ConfigFromCoverage(fileCfg.Coverage)

		if formatName == "" {
			formatName = fileCfg.Coverage.Format
		}
	}

	if cmd.Bool("strict") {
		config = requirements.StrictConfig()
	}

	format, err := requirements.ParseReportFormat(formatName)
	if err != nil {
		return err
	}

	report := requirements.ValidateProgram(program, &config)
	if cmd.Bool("uncovered-only") {
		report = requirements.FilterUncovered(report)
	}

	fmt.Print(requirements.FormatReport(report, format))

	for _, reqErr := range report.Errors {
		if reqErr.SeverityWithConfig(config) == requirements.SeverityError {
			return cli.Exit("", 1)
		}
	}

	return nil
}
