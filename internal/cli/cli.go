package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"
	"github.com/vk/monogrid/internal/app"
	"github.com/vk/monogrid/internal/executor"
	"github.com/vk/monogrid/internal/taskgraph"
)

// Process exit codes.
const (
	ExitOK    = 0
	ExitFail  = 1
	ExitUsage = 2
	ExitCrash = 3
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// exitError maps err to the exit code its cause calls for.
func exitError(err error) error {
	var exitErr *ExitError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &exitErr):
		return err
	case errors.Is(err, taskgraph.ErrConfig):
		return &ExitError{Code: ExitUsage, Message: err.Error()}
	case errors.Is(err, executor.ErrEngine):
		return &ExitError{Code: ExitCrash, Message: err.Error()}
	default:
		return &ExitError{Code: ExitFail, Message: err.Error()}
	}
}

func onUsageError(_ context.Context, _ *cli.Command, err error, _ bool) error {
	return &ExitError{Code: ExitUsage, Message: err.Error()}
}

// NewCommand returns the top-level CLI command. Output goes to outW and
// environment variables are read through getenv.
func NewCommand(outW io.Writer, getenv func(string) string) *cli.Command {
	r := &runner{outW: outW, getenv: getenv}
	return &cli.Command{
		Name:      "monogrid",
		Usage:     "Incremental, cached task runner for monorepos",
		Writer:    outW,
		ErrWriter: outW,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
				Value:   app.DefaultConfigFile,
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"C"},
				Usage:   "Repository root",
			},
			&cli.StringFlag{
				Name:  "out-dir",
				Usage: "Directory for logs and the local cache",
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Aliases: []string{"j"},
				Usage:   "Number of tasks run at once",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Logging level: debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log output format: text or json",
			},
			&cli.StringFlag{
				Name:  "cache-backend",
				Usage: "Cache backend: fs, memory, s3 or redis",
			},
		},
		Commands: []*cli.Command{
			r.runCommand(),
			r.graphCommand(),
			r.ownerCommand(),
		},
		OnUsageError: onUsageError,
		// Exit codes are the caller's business.
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
	}
}

// Run parses args (without the program name) and runs the selected
// command. Every returned error is an *ExitError.
func Run(ctx context.Context, outW io.Writer, args []string, getenv func(string) string) error {
	cmd := NewCommand(outW, getenv)
	return exitError(cmd.Run(ctx, append([]string{cmd.Name}, args...)))
}

type runner struct {
	outW   io.Writer
	getenv func(string) string
}

// newApp loads the layered config, applies flags and creates the app.
func (r *runner) newApp(cmd *cli.Command, override func(*app.Config)) (*app.App, error) {
	cfg, err := app.LoadConfig(cmd.String("config"), r.getenv)
	if err != nil {
		return nil, &ExitError{Code: ExitUsage, Message: err.Error()}
	}

	if cmd.IsSet("root") {
		cfg.Root = cmd.String("root")
	}
	if cmd.IsSet("out-dir") {
		cfg.OutDir = cmd.String("out-dir")
	}
	if cmd.IsSet("concurrency") {
		cfg.Concurrency = cmd.Int("concurrency")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.Log.Format = cmd.String("log-format")
	}
	if cmd.IsSet("cache-backend") {
		cfg.Cache.Backend = cmd.String("cache-backend")
	}
	if override != nil {
		override(cfg)
	}

	valid, err := app.NewConfig(*cfg)
	if err != nil {
		return nil, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	return app.NewApp(r.outW, valid), nil
}

func (r *runner) runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run tasks and their dependencies",
		ArgsUsage: "[task | kind | unit]...",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "healthcheck-port",
				Usage: "Port for the /health and /metrics server. 0 is disabled.",
			},
			&cli.BoolFlag{
				Name:  "fail-on-cache-write-error",
				Usage: "Treat a failed cache write as an engine crash",
			},
			&cli.BoolFlag{
				Name:  "store-failures",
				Usage: "Cache failed results as well as successful ones",
			},
			&cli.BoolFlag{
				Name:  "publish-logs",
				Usage: "Publish the logs of successful tasks to the cache",
			},
		},
		OnUsageError: onUsageError,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := r.newApp(cmd, func(cfg *app.Config) {
				if cmd.IsSet("healthcheck-port") {
					cfg.HealthcheckPort = cmd.Int("healthcheck-port")
				}
				if cmd.IsSet("fail-on-cache-write-error") {
					cfg.Cache.FailOnWriteError = cmd.Bool("fail-on-cache-write-error")
				}
				if cmd.IsSet("store-failures") {
					cfg.Cache.StoreFailures = cmd.Bool("store-failures")
				}
				if cmd.IsSet("publish-logs") {
					cfg.PublishLogs = cmd.Bool("publish-logs")
				}
			})
			if err != nil {
				return err
			}

			res, err := a.Run(ctx, cmd.Args().Slice())
			if res != nil {
				printSummary(r.outW, res)
			}
			if err != nil {
				return err
			}
			if code := res.Verdict.ExitCode(); code != ExitOK {
				return &ExitError{Code: code, Message: fmt.Sprintf("run %s finished with %s", res.RunID, res.Verdict)}
			}
			return nil
		},
	}
}

func (r *runner) graphCommand() *cli.Command {
	return &cli.Command{
		Name:         "graph",
		Usage:        "Print the task graph",
		ArgsUsage:    "[task | kind | unit]...",
		OnUsageError: onUsageError,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := r.newApp(cmd, nil)
			if err != nil {
				return err
			}
			g, err := a.Graph(ctx, cmd.Args().Slice())
			if err != nil {
				return err
			}
			printGraph(r.outW, g)
			return nil
		},
	}
}

func (r *runner) ownerCommand() *cli.Command {
	return &cli.Command{
		Name:         "owner",
		Usage:        "Print the tasks whose outputs contain a path",
		ArgsUsage:    "<path>",
		OnUsageError: onUsageError,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return &ExitError{Code: ExitUsage, Message: "owner takes exactly one path"}
			}
			a, err := r.newApp(cmd, nil)
			if err != nil {
				return err
			}
			owners, err := a.Owner(ctx, cmd.Args().First())
			if err != nil {
				return err
			}
			if len(owners) == 0 {
				return &ExitError{Code: ExitFail, Message: fmt.Sprintf("no task owns %s", cmd.Args().First())}
			}
			for _, o := range owners {
				fmt.Fprintln(r.outW, o)
			}
			return nil
		},
	}
}
