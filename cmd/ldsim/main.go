// Command ldsim reproduces the output of ldd and of a dynamic linker run
// with LD_TRACE_PRELINKING, entirely in user space.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sjnewbury/ldsim/internal/config"
	"github.com/sjnewbury/ldsim/internal/emit"
	"github.com/sjnewbury/ldsim/internal/graph"
	"github.com/sjnewbury/ldsim/internal/linkmap"
	"github.com/sjnewbury/ldsim/internal/log"
	"github.com/sjnewbury/ldsim/internal/lookup"
	"github.com/sjnewbury/ldsim/internal/model"
	"github.com/sjnewbury/ldsim/internal/reloc"
	"github.com/sjnewbury/ldsim/internal/tlslayout"
	"github.com/sjnewbury/ldsim/internal/trace"
	"github.com/sjnewbury/ldsim/internal/ui/debugstyle"
	"github.com/sjnewbury/ldsim/internal/vfs"
	verpkg "github.com/sjnewbury/ldsim/internal/version"
)

var (
	flagLibraryPath string
	flagRoot        string
	flagTargetPaths bool
	flagLDPreload   string
	flagConfigFile  string
	flagVerbose     bool
	flagQuiet       bool
)

var rootCmd = &cobra.Command{
	Use:                   "ldsim [binary|library...]",
	Short:                 "Simulate a dynamic loader's dependency resolution and symbol lookup",
	Long:                  "ldsim reproduces ldd-style and RTLD_TRACE_PRELINKING-style output by walking an ELF object's dependency graph, assigning simulated load addresses and TLS offsets, and resolving symbols the way a real dynamic loader would.",
	Args:                  cobra.MinimumNArgs(1),
	DisableFlagsInUseLine: true,
	RunE:                  runAll,
}

func init() {
	rootCmd.Flags().StringVar(&flagLibraryPath, "library-path", "", "colon/semicolon separated search path, prepended to the default sequence")
	rootCmd.Flags().StringVar(&flagRoot, "root", "", "sysroot prefix (overrides PRELINK_SYSROOT)")
	rootCmd.Flags().BoolVar(&flagTargetPaths, "target-paths", false, "treat paths as already sysroot-relative when printing")
	rootCmd.Flags().StringVar(&flagLDPreload, "ld-preload", "", "colon separated libraries synthetically prepended to NEEDED")
	rootCmd.Flags().StringVar(&flagConfigFile, "config", "", "optional YAML defaults file")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress warnings")

	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration context",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := buildContext()
		fmt.Printf("sysroot: %q\n", cfg.Sysroot)
		fmt.Printf("library_paths: %v\n", cfg.LibraryPaths)
		fmt.Printf("ld_preload: %v\n", cfg.LDPreload)
		fmt.Printf("target_paths: %v\n", cfg.TargetPaths)
		fmt.Printf("dynamic_weak: %v\n", cfg.DynamicWeak)
		fmt.Printf("trace_prelinking: enabled=%v filter=%q\n", cfg.TraceEnabled, cfg.TracePrelinking)
		return nil
	},
}

func buildContext() config.Context {
	cfg := config.FromEnv()
	if flagConfigFile != "" {
		if fd, err := config.LoadDefaultsFile(flagConfigFile); err == nil {
			cfg.ApplyFileDefaults(fd)
		}
	}
	if flagRoot != "" {
		cfg.Sysroot = flagRoot
	}
	if flagLibraryPath != "" {
		cfg.LibraryPaths = append(config.SplitLibraryPath(flagLibraryPath), cfg.LibraryPaths...)
	}
	if flagLDPreload != "" {
		cfg.LDPreload = append(config.SplitLDPreload(flagLDPreload), cfg.LDPreload...)
	}
	cfg.TargetPaths = flagTargetPaths
	cfg.Verbose = flagVerbose
	cfg.Quiet = flagQuiet
	return cfg
}

func runAll(cmd *cobra.Command, args []string) error {
	log.Init(flagVerbose)
	cfg := buildContext()
	fsys := vfs.New(cfg.Sysroot)

	runID := uuid.New()

	missingTotal := 0
	multi := len(args) > 1

	for _, path := range args {
		if multi {
			fmt.Printf("%s:\n", path)
		}
		missing, err := processFile(&cfg, fsys, path, runID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ldsim: %s: %v\n", path, err)
			return err
		}
		missingTotal += missing
	}

	if missingTotal > 0 {
		os.Exit(127)
	}
	return nil
}

func processFile(cfg *config.Context, fsys *vfs.FS, path string, runID uuid.UUID) (int, error) {
	builder := &graph.Builder{Cfg: cfg, FS: fsys, Log: log.L}
	objs, missing, err := builder.Build(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		for _, o := range objs.Objects {
			if o.ELF != nil {
				o.ELF.Close()
			}
		}
	}()

	if err := linkmap.Populate(objs); err != nil {
		return missing, err
	}

	for _, o := range objs.Objects {
		if o.Placeholder {
			continue
		}
		if err := verpkg.Build(o); err != nil {
			return missing, err
		}
	}
	for _, o := range objs.Objects {
		if o.Placeholder {
			continue
		}
		if err := verpkg.Validate(o, objs, cfg.TraceEnabled); err != nil {
			return missing, err
		}
	}

	if err := tlslayout.Assign(objs, objs.Root().Machine); err != nil {
		if !cfg.Quiet {
			fmt.Fprintf(os.Stderr, "ldsim: %v\n", err)
		}
	}

	em := &emit.Emitter{W: os.Stdout, FS: fsys, TargetPaths: cfg.TargetPaths}

	if !cfg.TraceEnabled {
		em.Mode = emit.ModeLDD
		em.EmitLDD(objs)
		return missing, nil
	}

	em.Mode = emit.ModeTracePrelinking
	engine := &lookup.Engine{
		Machine:     objs.Root().Machine,
		Unique:      model.NewUniqueSymbolTable(),
		Objs:        objs,
		DynamicWeak: cfg.DynamicWeak,
	}
	walker := &reloc.Walker{Objs: objs, Engine: engine, TracePrelinkFilter: cfg.TracePrelinking, RunID: runID}
	if cfg.Verbose {
		walker.Sink = func(e trace.Event) {
			text := fmt.Sprintf("%s %s", e.PrimaryTag(), e.Name)
			if e.Tags.Has(trace.Conflict) {
				fmt.Fprintln(os.Stderr, debugstyle.Conflict(text))
			} else {
				fmt.Fprintln(os.Stderr, debugstyle.Binding(text))
			}
		}
	}
	lines, _ := walker.Walk()
	em.EmitTracePrelinking(objs, lines)

	if cfg.Verbose && !debugstyle.Disabled() {
		fmt.Fprintln(os.Stderr, debugstyle.Resolved(fmt.Sprintf("resolved %d objects", len(objs.Objects))))
	}

	return missing, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
