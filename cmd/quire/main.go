// quire inspects and edits quire archives and tiered stacks.
//
// Usage:
//
//	quire [flags] put <archive> <path> [file]
//	quire [flags] get <archive> <path>
//	quire [flags] ls <archive>
//	quire [flags] rm <archive> <path>...
//	quire [flags] compact <archive>
//	quire [flags] pack <archive> <dir>
//	quire [flags] unpack <archive> <dir>
//	quire [flags] stat <archive>
//	quire [flags] recover <archive>
//	quire [flags] grep <archive> <pattern>
//
// With --stack, <archive> is the base path of a stack (base.hot, base.warm,
// base.cold) instead of a single archive file.
package main

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/pflag"

	"github.com/jpl-au/quire"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "quire: %v\n", err)
		os.Exit(1)
	}
}

// store is the surface shared by Archive and Stack.
type store interface {
	AddFile(path string, content []byte) error
	GetFile(path string) ([]byte, error)
	GetFileSize(path string) (int64, error)
	GetEntrySize(path string) (int64, error)
	Entries() []string
	DeleteFiles(paths ...string) (int, error)
	CreateFromFolder(dir string) (int, error)
	ExtractToFolder(dir string) (int, error)
	Search(pattern string, opts quire.SearchOptions) iter.Seq2[quire.Match, error]
	Close() error
}

var (
	_ store = (*quire.Archive)(nil)
	_ store = (*quire.Stack)(nil)
)

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var (
		stackMode  bool
		dict       string
		configPath string
		level      string
		bloat      float64
		verbose    bool
		jsonOut    bool
		ignoreCase bool
	)

	flags := pflag.NewFlagSet("quire", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.BoolVar(&stackMode, "stack", false, "treat <archive> as the base path of a hot/warm/cold stack")
	flags.StringVar(&dict, "dict", "", "zstd dictionary file")
	flags.StringVar(&configPath, "config", "", "JSON configuration file (comments allowed)")
	flags.StringVar(&level, "level", "", "compression level: fastest, default, better, best")
	flags.Float64Var(&bloat, "bloat", 1.5, "compaction bloat factor (0 forces compaction)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log progress to stderr")
	flags.BoolVar(&jsonOut, "json", false, "print ls, stat and grep output as JSON")
	flags.BoolVarP(&ignoreCase, "ignore-case", "i", false, "case-insensitive grep")
	flags.BoolP("help", "h", false, "show help")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(stdout, flags)
			return nil
		}
		return err
	}
	if help, _ := flags.GetBool("help"); help {
		printUsage(stdout, flags)
		return nil
	}

	rest := flags.Args()
	if len(rest) < 2 {
		printUsage(stderr, flags)
		return errors.New("a command and an archive are required")
	}
	command, target, operands := rest[0], rest[1], rest[2:]

	fc, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if flags.Changed("dict") {
		fc.Dictionary = dict
	}
	if flags.Changed("level") {
		fc.Level = level
	}
	if flags.Changed("bloat") || fc.Bloat == 0 {
		fc.Bloat = bloat
	}
	cfg, err := fc.stackConfig()
	if err != nil {
		return err
	}

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	cfg.Logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: logLevel}))

	var st store
	if stackMode {
		st, err = quire.LoadStack(target, cfg)
	} else {
		st, err = quire.Load(target, cfg.Config)
	}
	if err != nil {
		return err
	}
	defer st.Close()

	c := &cli{st: st, stdin: stdin, stdout: stdout, json: jsonOut}
	switch command {
	case "put":
		return c.put(operands)
	case "get":
		return c.get(operands)
	case "ls", "list":
		return c.list()
	case "rm":
		return c.remove(operands)
	case "compact":
		return c.compact(fc.Bloat)
	case "pack":
		return c.pack(operands)
	case "unpack":
		return c.unpack(operands)
	case "stat":
		return c.stat()
	case "recover":
		return c.recover()
	case "grep":
		return c.grep(operands, !ignoreCase)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

type cli struct {
	st     store
	stdin  io.Reader
	stdout io.Writer
	json   bool
}

func (c *cli) put(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: put <archive> <path> [file]")
	}
	var content []byte
	var err error
	if len(args) == 1 || args[1] == "-" {
		content, err = io.ReadAll(c.stdin)
	} else {
		content, err = os.ReadFile(args[1])
	}
	if err != nil {
		return err
	}
	return c.st.AddFile(args[0], content)
}

func (c *cli) get(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <archive> <path>")
	}
	content, err := c.st.GetFile(args[0])
	if err != nil {
		return err
	}
	_, err = c.stdout.Write(content)
	return err
}

type listing struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Stored int64  `json:"stored"`
}

func (c *cli) list() error {
	var rows []listing
	for _, p := range c.st.Entries() {
		size, err := c.st.GetFileSize(p)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		stored, err := c.st.GetEntrySize(p)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		rows = append(rows, listing{Path: p, Size: size, Stored: stored})
	}
	if c.json {
		return c.printJSON(rows)
	}
	for _, r := range rows {
		fmt.Fprintf(c.stdout, "%10d %10d  %s\n", r.Size, r.Stored, r.Path)
	}
	return nil
}

func (c *cli) remove(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: rm <archive> <path>...")
	}
	n, err := c.st.DeleteFiles(args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return quire.ErrNotFound
	}
	return nil
}

func (c *cli) compact(bloat float64) error {
	switch st := c.st.(type) {
	case *quire.Archive:
		_, err := st.Compact(bloat)
		return err
	case *quire.Stack:
		return st.Compact(bloat)
	}
	return fmt.Errorf("compact: unsupported store %T", c.st)
}

func (c *cli) pack(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: pack <archive> <dir>")
	}
	n, err := c.st.CreateFromFolder(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "packed %d files\n", n)
	return nil
}

func (c *cli) unpack(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: unpack <archive> <dir>")
	}
	n, err := c.st.ExtractToFolder(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "unpacked %d files\n", n)
	return nil
}

type archiveStat struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	LiveSize    int64  `json:"live_size"`
	ContentEnd  int64  `json:"content_end"`
	Entries     int    `json:"entries"`
	Fingerprint string `json:"fingerprint"`
}

func statArchive(a *quire.Archive) (archiveStat, error) {
	fp, err := a.Fingerprint()
	if err != nil {
		return archiveStat{}, err
	}
	return archiveStat{
		Path:        a.Path(),
		Size:        a.Size(),
		LiveSize:    a.LiveSize(),
		ContentEnd:  a.ContentEnd(),
		Entries:     a.Len(),
		Fingerprint: fp,
	}, nil
}

func (c *cli) stat() error {
	switch st := c.st.(type) {
	case *quire.Archive:
		s, err := statArchive(st)
		if err != nil {
			return err
		}
		if c.json {
			return c.printJSON(s)
		}
		fmt.Fprintf(c.stdout, "%s: %d entries, %d/%d bytes live, content end %d\nblake2b-256 %s\n",
			s.Path, s.Entries, s.LiveSize, s.Size, s.ContentEnd, s.Fingerprint)
		return nil
	case *quire.Stack:
		stats, err := st.Stats()
		if err != nil {
			return err
		}
		if c.json {
			return c.printJSON(stats)
		}
		for _, s := range stats {
			fmt.Fprintf(c.stdout, "%-5s %6d entries (%d owned) %10d/%d bytes live  %s\n",
				s.Name, s.Entries, s.Owned, s.LiveSize, s.Size, s.Path)
		}
		return nil
	}
	return fmt.Errorf("stat: unsupported store %T", c.st)
}

func (c *cli) recover() error {
	a, ok := c.st.(*quire.Archive)
	if !ok {
		return errors.New("recover works on single archives; pass a tier file without --stack")
	}
	return a.RewriteFooter()
}

type grepMatch struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
}

func (c *cli) grep(args []string, caseSensitive bool) error {
	if len(args) != 1 {
		return errors.New("usage: grep <archive> <pattern>")
	}
	var matches []grepMatch
	for m, err := range c.st.Search(args[0], quire.SearchOptions{CaseSensitive: caseSensitive}) {
		if err != nil {
			return err
		}
		matches = append(matches, grepMatch{Path: m.Path, Offset: m.Offset})
	}
	if c.json {
		return c.printJSON(matches)
	}
	for _, m := range matches {
		fmt.Fprintf(c.stdout, "%s:%d\n", m.Path, m.Offset)
	}
	return nil
}

func (c *cli) printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')
	_, err = c.stdout.Write(out)
	return err
}

func printUsage(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprint(w, `quire - inspect and edit compressed append-only archives

USAGE
    quire [flags] put <archive> <path> [file]    add or replace an entry (stdin if no file)
    quire [flags] get <archive> <path>           write an entry to stdout
    quire [flags] ls <archive>                   list entries with sizes
    quire [flags] rm <archive> <path>...         delete entries
    quire [flags] compact <archive>              reclaim superseded space
    quire [flags] pack <archive> <dir>           replace contents with a directory
    quire [flags] unpack <archive> <dir>         extract every entry
    quire [flags] stat <archive>                 show sizes and fingerprint
    quire [flags] recover <archive>              rebuild the footer by scanning records
    quire [flags] grep <archive> <pattern>       list entries whose content matches

FLAGS
`)
	flags.SetOutput(w)
	flags.PrintDefaults()
}
