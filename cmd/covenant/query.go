package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/Cyronius/covenant/analysis"
	"github.com/Cyronius/covenant/runtime"
)

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "Run a query against the symbol graph of a source file",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "query",
				Aliases:  []string{"q"},
				Usage:    "query request as JSON",
				Required: true,
			},
		},
		Action: runQuery,
	}
}

func runQuery(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd.Bool("verbose"))
	defer func() { _ = logger.Sync() }()

	path := cmd.Args().First()
	if path == "" {
		return errors.New("query requires a source file")
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

	var request runtime.QueryRequest

	err = json.Unmarshal([]byte(cmd.String("query")), &request)
	if err != nil {
		return fmt.Errorf("parsing query request: %w", err)
	}

	store := runtime.BuildStore(program, check, path, source)
	engine := runtime.NewQueryEngine()

	logger.Debug("executing query",
		zap.String("from_type", request.FromType),
		zap.Uint64("store_version", store.Version()))

	result, err := engine.Execute(store, &request)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	return encoder.Encode(result)
}
