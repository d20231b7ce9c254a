package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/rindex/internal/config"
	"github.com/standardbeagle/rindex/internal/debug"
	"github.com/standardbeagle/rindex/internal/display"
	"github.com/standardbeagle/rindex/internal/indexer"
	"github.com/standardbeagle/rindex/internal/location"
	"github.com/standardbeagle/rindex/internal/parser"
	"github.com/standardbeagle/rindex/internal/project"
	"github.com/standardbeagle/rindex/internal/server"
	"github.com/standardbeagle/rindex/internal/types"
	"github.com/standardbeagle/rindex/internal/version"
)

func main() {
	if debug.IsDebugEnabled() {
		debug.SetDebugOutput(os.Stderr)
	}

	app := &cli.App{
		Name:                   "rindex",
		Usage:                  "Persistent cross-reference index and query engine for C/C++",
		Version:                version.Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-type",
				Aliases: []string{"t"},
				Usage:   "Storage backend (filedb or leveldb)",
			},
			&cli.StringFlag{
				Name:  "root",
				Usage: "Project root (overrides database discovery)",
			},
			&cli.BoolFlag{
				Name:    "paths-relative-to-root",
				Aliases: []string{"n"},
				Usage:   "Print paths relative to the project root",
			},
			&cli.BoolFlag{
				Name:    "no-context",
				Aliases: []string{"N"},
				Usage:   "Don't print context from files when printing locations",
			},
			&cli.BoolFlag{
				Name:    "separate-paths-by-space",
				Aliases: []string{"S"},
				Usage:   "Separate multiple locations by space instead of newline",
			},
			&cli.BoolFlag{
				Name:    "sort-output",
				Aliases: []string{"o"},
				Usage:   "Sort output alphabetically",
			},

			// Modes, mutually exclusive.
			&cli.StringFlag{
				Name:    "follow-symbol",
				Aliases: []string{"f"},
				Usage:   "Follow this symbol (e.g. /tmp/main.cpp:32:1)",
			},
			&cli.StringFlag{
				Name:    "find-references",
				Aliases: []string{"r"},
				Usage:   "Print references of symbol at arg",
			},
			&cli.StringFlag{
				Name:    "all-references",
				Aliases: []string{"a"},
				Usage:   "Print all references/declarations/definitions that match arg",
			},
			&cli.StringFlag{
				Name:    "find-symbols",
				Aliases: []string{"s"},
				Usage:   "Print out symbols matching arg",
			},
			&cli.StringFlag{
				Name:    "list-symbols",
				Aliases: []string{"l"},
				Usage:   "Print out symbol names matching arg",
			},
			&cli.StringFlag{
				Name:    "files",
				Aliases: []string{"P"},
				Usage:   "Print out files matching arg",
			},
			&cli.StringFlag{
				Name:    "find-super",
				Aliases: []string{"u"},
				Usage:   "Print out superclass of arg",
			},
			&cli.StringFlag{
				Name:    "find-subs",
				Aliases: []string{"b"},
				Usage:   "Print out subclasses of arg",
			},
		},
		Action: runQuery,
		Commands: []*cli.Command{
			{
				Name:  "index",
				Usage: "Parse translation units and build the index",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "compile-commands",
						Aliases: []string{"c"},
						Usage:   "Path to compile_commands.json",
					},
					&cli.StringFlag{
						Name:  "root",
						Usage: "Project root directory",
					},
				},
				Action: runIndex,
			},
			{
				Name:  "server",
				Usage: "Serve the query channel and watch for changes",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "stdio",
						Usage: "Serve requests on stdin/stdout instead of the unix socket",
					},
					&cli.StringFlag{
						Name:  "root",
						Usage: "Project root directory",
					},
				},
				Action: runServer,
			},
			{
				Name:      "suspend",
				Usage:     "Toggle suspension of a file, or list suspended files",
				ArgsUsage: "[file|clear]",
				Action:    runSuspend,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "rindex: %v\n", err)
		os.Exit(1)
	}
}

// modeFromFlags maps the mutually exclusive mode flags to a request.
func modeFromFlags(c *cli.Context) (server.Mode, string, error) {
	mode := server.ModeNone
	arg := ""
	set := func(m server.Mode, a string) error {
		if mode != server.ModeNone {
			return fmt.Errorf("mode is already set")
		}
		mode, arg = m, a
		return nil
	}

	checks := []struct {
		flag string
		mode server.Mode
	}{
		{"follow-symbol", server.ModeFollow},
		{"find-references", server.ModeReferences},
		{"all-references", server.ModeAllReferences},
		{"find-symbols", server.ModeFindSymbols},
		{"list-symbols", server.ModeListSymbols},
		{"files", server.ModeFiles},
		{"find-super", server.ModeFindSuper},
		{"find-subs", server.ModeFindSubs},
	}
	for _, check := range checks {
		if c.IsSet(check.flag) {
			if err := set(check.mode, c.String(check.flag)); err != nil {
				return server.ModeNone, "", err
			}
		}
	}
	if mode == server.ModeNone {
		return server.ModeNone, "", fmt.Errorf("no mode selected")
	}
	return mode, arg, nil
}

func displayFlags(c *cli.Context) display.Flags {
	var flags display.Flags
	if c.Bool("paths-relative-to-root") {
		flags |= display.FlagPathsRelativeToRoot
	}
	if c.Bool("no-context") {
		flags |= display.FlagNoContext
	}
	if c.Bool("separate-paths-by-space") {
		flags |= display.FlagSeparateBySpace
	}
	if c.Bool("sort-output") {
		flags |= display.FlagSortOutput
	}
	return flags
}

// openProject discovers and opens the project for query or indexing.
func openProject(c *cli.Context, watch bool) (*project.Project, string, error) {
	env := config.EnvironmentFromOS()
	if dbType := c.String("db-type"); dbType != "" {
		env.DBType = dbType
	}

	root := c.String("root")
	if root == "" {
		if dbDir := project.FindProjectDir(env.WorkingDir); dbDir != "" {
			root = filepath.Dir(dbDir)
		} else {
			root = env.WorkingDir
		}
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(absRoot)
	if err != nil {
		return nil, "", err
	}
	cfg.Project.Root = absRoot
	cfg.Index.WatchMode = watch

	proj, err := project.Open(cfg, env, newParser)
	if err != nil {
		return nil, "", err
	}
	return proj, absRoot, nil
}

func newParser(table *location.Table) indexer.Parser {
	return parser.New(table)
}

func runQuery(c *cli.Context) error {
	mode, arg, err := modeFromFlags(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	proj, root, err := openProject(c, false)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	eng := proj.Query()
	out := display.NewOutput(proj.Table(), root, displayFlags(c))
	lines := server.Execute(eng, out, server.Request{Mode: mode, Arg: arg, Flags: out.Flags()})
	if joined := out.Join(lines); joined != "" {
		fmt.Println(joined)
	} else if arg != "" {
		// A name that matched nothing may be a near miss.
		if suggestions := eng.Suggest(arg); len(suggestions) > 0 {
			fmt.Fprintf(os.Stderr, "no matches; did you mean %s?\n", strings.Join(suggestions, ", "))
		}
	}
	// No results is still exit 0; only usage errors fail.
	return nil
}

func runIndex(c *cli.Context) error {
	proj, root, err := openProjectForIndexing(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer proj.Close()

	compileCommands := c.String("compile-commands")
	if compileCommands == "" {
		compileCommands = filepath.Join(root, "compile_commands.json")
	}

	var scheduled int
	if _, err := os.Stat(compileCommands); err == nil {
		entries, err := loadCompileCommands(compileCommands)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		for _, entry := range entries {
			if proj.Index(entry.file, entry.args, types.IndexReindex) {
				scheduled++
			}
		}
		if err := proj.WriteMeta(compileCommands); err != nil {
			return cli.Exit(err.Error(), 1)
		}
	} else {
		for _, path := range c.Args().Slice() {
			if proj.Index(path, nil, types.IndexReindex) {
				scheduled++
			}
		}
		if err := proj.WriteMeta(""); err != nil {
			return cli.Exit(err.Error(), 1)
		}
	}

	if scheduled == 0 {
		return cli.Exit("nothing to index: no compile_commands.json and no source arguments", 1)
	}

	fmt.Printf("indexing %d translation units...\n", scheduled)
	for proj.IsIndexing() {
		time.Sleep(50 * time.Millisecond)
	}
	proj.Syncer().Flush()
	fmt.Println("done")
	return nil
}

func openProjectForIndexing(c *cli.Context) (*project.Project, string, error) {
	env := config.EnvironmentFromOS()

	root := c.String("root")
	if root == "" {
		root = env.WorkingDir
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(absRoot)
	if err != nil {
		return nil, "", err
	}
	cfg.Project.Root = absRoot
	cfg.Index.WatchMode = false

	proj, err := project.Open(cfg, env, newParser)
	if err != nil {
		return nil, "", err
	}
	return proj, absRoot, nil
}

func runServer(c *cli.Context) error {
	proj, root, err := openProject(c, true)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer proj.Close()

	srv := server.New(proj, root)
	if c.Bool("stdio") {
		srv.Serve(os.Stdin, os.Stdout)
		return nil
	}

	if err := srv.Start(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Printf("serving queries on %s\n", server.SocketPathForRoot(root))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	srv.Stop()
	return nil
}

func runSuspend(c *cli.Context) error {
	proj, _, err := openProject(c, false)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer proj.Close()

	arg := c.Args().First()
	switch arg {
	case "":
		for _, path := range proj.SuspendedFiles() {
			fmt.Println(path)
		}
	case "clear":
		proj.ClearSuspended()
		fmt.Println("cleared all suspended files")
	default:
		suspended, ok := proj.ToggleSuspend(arg)
		if !ok {
			return cli.Exit(fmt.Sprintf("unknown file %s", arg), 1)
		}
		state := "unsuspended"
		if suspended {
			state = "suspended"
		}
		fmt.Printf("%s is %s\n", arg, state)
	}
	return nil
}

// compileEntry is one compile_commands.json record.
type compileEntry struct {
	file string
	args []string
}

// loadCompileCommands reads a clang compilation database. Both the
// "arguments" array and the legacy "command" string form are accepted.
func loadCompileCommands(path string) ([]compileEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Directory string   `json:"directory"`
		File      string   `json:"file"`
		Command   string   `json:"command"`
		Arguments []string `json:"arguments"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed compilation database %s: %w", path, err)
	}

	out := make([]compileEntry, 0, len(raw))
	for _, entry := range raw {
		file := entry.File
		if !filepath.IsAbs(file) {
			file = filepath.Join(entry.Directory, file)
		}
		args := entry.Arguments
		if len(args) == 0 && entry.Command != "" {
			args = strings.Fields(entry.Command)
		}
		out = append(out, compileEntry{file: file, args: args})
	}
	return out, nil
}
