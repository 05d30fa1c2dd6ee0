package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Chamoswor/virtualshell/agent"
	"github.com/Chamoswor/virtualshell/cache"
	"github.com/Chamoswor/virtualshell/config"
	"github.com/Chamoswor/virtualshell/proxy"
	"github.com/Chamoswor/virtualshell/shell"
)

func main() {
	app := &cli.App{
		Name:  "vshell",
		Usage: "drive a long-lived interactive shell as an RPC target",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a YAML config file.",
			},
			&cli.StringFlag{
				Name:  "shell",
				Usage: "Shell executable to drive.",
				Value: "pwsh",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Default per-command timeout.",
				Value: 30 * time.Second,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level. One of [debug,info,warn,error].",
				Value: "info",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "exec",
				Usage:     "execute the given commands in order and print their output",
				ArgsUsage: "COMMAND [COMMAND...]",
				Action:    runExec,
			},
			{
				Name:  "batch",
				Usage: "execute commands from stdin, one per line, as a single batch",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "stop-on-error",
						Usage: "Stop the batch after the first failed command.",
					},
				},
				Action: runBatch,
			},
			{
				Name:      "script",
				Usage:     "execute a script file with arguments",
				ArgsUsage: "SCRIPT [ARG...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dot-source",
						Usage: "Dot-source the script to keep its scope in the session.",
					},
				},
				Action: runScript,
			},
			{
				Name:  "serve",
				Usage: "serve shells to remote clients over HTTP+WebSocket",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen-addr",
						Usage: "The address for the HTTP server to listen on.",
						Value: "127.0.0.1:8264",
					},
				},
				Action: runServe,
			},
			{
				Name:      "info",
				Usage:     "print the shell version and a command schema",
				ArgsUsage: "[COMMAND]",
				Action:    runInfo,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildLogger(c *cli.Context, fileLevel string) (*zap.Logger, error) {
	raw := c.String("log-level")
	if !c.IsSet("log-level") && fileLevel != "" {
		raw = fileLevel
	}
	var level zapcore.Level
	if err := level.Set(raw); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(level)
	return logCfg.Build()
}

func buildShell(c *cli.Context) (*shell.Shell, error) {
	path := c.String("config")
	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			path = config.Discover(wd)
		}
	}

	var cfg shell.Config
	var fileLevel string
	if path != "" {
		f, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = f.ShellConfig()
		fileLevel = f.LogLevel
	}

	logger, err := buildLogger(c, fileLevel)
	if err != nil {
		return nil, err
	}
	if cfg.ShellPath == "" {
		cfg.ShellPath = c.String("shell")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = c.Duration("timeout")
	}

	sh := shell.New(cfg, shell.WithLogger(logger))
	if err := sh.Start(); err != nil {
		return nil, err
	}
	return sh, nil
}

func printResult(r shell.ExecutionResult) error {
	os.Stdout.Write(r.Stdout)
	os.Stderr.Write(r.Stderr)
	if !r.Success {
		return fmt.Errorf("command failed with exit indicator %d", r.ExitCode)
	}
	return nil
}

func runExec(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("no commands given")
	}
	sh, err := buildShell(c)
	if err != nil {
		return err
	}
	defer sh.Close()

	for _, cmd := range c.Args().Slice() {
		if err := printResult(sh.Execute(cmd, 0)); err != nil {
			return err
		}
	}
	return nil
}

func runBatch(c *cli.Context) error {
	var commands []string
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			commands = append(commands, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading commands: %w", err)
	}

	sh, err := buildShell(c)
	if err != nil {
		return err
	}
	defer sh.Close()

	results := <-sh.ExecuteBatchAsync(commands, nil, c.Bool("stop-on-error"), c.Duration("timeout"))
	var failed int
	for _, r := range results {
		os.Stdout.Write(r.Stdout)
		os.Stderr.Write(r.Stderr)
		if !r.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d commands failed", failed, len(results))
	}
	return nil
}

func runScript(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("no script given")
	}
	sh, err := buildShell(c)
	if err != nil {
		return err
	}
	defer sh.Close()

	args := c.Args().Slice()
	return printResult(sh.ExecuteScript(args[0], args[1:], 0, c.Bool("dot-source")))
}

func runServe(c *cli.Context) error {
	logger, err := buildLogger(c, "")
	if err != nil {
		return err
	}
	server, err := agent.NewServer(c.String("listen-addr"), agent.WithServerLogger(logger))
	if err != nil {
		return err
	}
	return server.Run()
}

func runInfo(c *cli.Context) error {
	sh, err := buildShell(c)
	if err != nil {
		return err
	}
	defer sh.Close()

	version, err := sh.Version(c.Duration("timeout"))
	if err != nil {
		return fmt.Errorf("querying shell version: %w", err)
	}
	fmt.Printf("shell version: %s\n", version)

	if c.NArg() > 0 {
		p := proxy.New(sh, cache.New(128), c.Duration("timeout"))
		schema, err := p.Schema(c.Args().First())
		if err != nil {
			return fmt.Errorf("querying schema: %w", err)
		}
		fmt.Println(schema)
	}
	return nil
}
