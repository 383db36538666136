package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/Cyronius/covenant/analysis"
)

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Parse and type-check a Covenant source file",
		ArgsUsage: "<file>",
		Action:    runCheck,
	}
}

func runCheck(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("check requires a source file")
	}

	source, program, err := loadProgram(path)
	if err != nil {
		return err
	}

	result := analysis.Check(program)
	if !result.Ok() {
		printCheckErrors(path, source, result.Errors)

		return cli.Exit("", 1)
	}

	fmt.Printf("%s: %d snippets, %d symbols, no errors\n",
		path, len(program.Snippets), result.Symbols.Len())

	return nil
}
