// Command pgohost is a minimal host process exercising the pgo core end
// to end: it registers one candidate function, hand-writes the dispatch
// stub the macro/code-generation collaborator would otherwise generate
// (see pgo/abi and §9's "Source-generation collaborator" note), and
// drives it through -calls dispatches, checking every result against the
// native fallback. Which states the group reaches during the run depends
// on how quickly the background builds finish relative to the calls.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ha1tch/pgo/pgo"
	"github.com/ha1tch/pgo/pgo/admin"
	pgoconfig "github.com/ha1tch/pgo/pgo/config"
	pgolog "github.com/ha1tch/pgo/pgo/log"
)

// square is the native fallback: the statically compiled version of the
// candidate function. Its source below, assigned to squareSrc, is what
// gets shipped to the external compiler; the two must stay in sync by
// hand since there is no real macro layer in this demo.
func square(n uint32) uint32 { return n * n }

// squareSrc is shipped to the external compiler verbatim. The exported
// symbol name must match FuncDescriptor.Name exactly (here "Square");
// Go's plugin loader only admits capitalized, package-level identifiers
// into a plugin's symbol table, which is this framework's closest analog
// to the "no name mangling" C-ABI export the spec describes.
const squareSrc = `
func Square(n uint32) uint32 {
	return n * n
}
`

// squareCell is the package-level Cell a generated dispatch stub would
// own for this candidate function.
var squareCell pgo.Cell

// dispatchSquare is the hand-written equivalent of a generated dispatch
// shim: it always goes through pgo.Dispatch so the framework can swap in
// an instrumented or optimized implementation transparently.
func dispatchSquare(group pgo.Group, n uint32) uint32 {
	return pgo.Dispatch(&squareCell, group, func() uint32 {
		return square(n)
	}, func(lib *pgo.Library) uint32 {
		sym, err := lib.Lookup("Square")
		if err != nil {
			// §7: a missing promised symbol is a framework invariant
			// violation, not a recoverable runtime condition.
			panic(fmt.Sprintf("pgohost: symbol %q missing from %s: %v", "Square", lib.Path(), err))
		}
		fn, ok := sym.(func(uint32) uint32)
		if !ok {
			panic(fmt.Sprintf("pgohost: symbol %q has unexpected type %T", "Square", sym))
		}
		return fn(n)
	})
}

func main() {
	workDir := flag.String("workdir", "./pgo_work", "PGO working directory")
	configFile := flag.String("config", "", "optional JSON config file (overrides -workdir/-audit/-audit-dsn if set)")
	auditBackend := flag.String("audit", "memory", "audit backend: memory, sqlite, postgres, sqlserver")
	auditDSN := flag.String("audit-dsn", "", "audit backend connection string (ignored for memory)")
	watchConfig := flag.Bool("watch-config", false, "live-reload -config on change")
	calls := flag.Int("calls", 6000, "number of calls to drive through dispatch")
	adminAddr := flag.String("admin-addr", "", "if set, serve /status and /healthz on this address")
	flag.Parse()

	cfg := pgoconfig.Default()
	cfg.WorkingDir = *workDir
	cfg.AuditBackend = *auditBackend
	cfg.AuditDSN = *auditDSN

	if *configFile != "" {
		loaded, err := pgoconfig.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pgohost: load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := pgolog.New(pgolog.Config{
		DefaultLevel: pgolog.LevelInfo,
		Output:       os.Stderr,
		Format:       pgolog.FormatText,
	})

	if err := pgo.Init(cfg, []pgo.Registration{
		{
			Descriptor: &pgo.FuncDescriptor{Name: "Square", Src: squareSrc},
			Cell:       &squareCell,
		},
	}, logger); err != nil {
		fmt.Fprintf(os.Stderr, "pgohost: init: %v\n", err)
		os.Exit(1)
	}

	if (*watchConfig || cfg.WatchConfig) && *configFile != "" {
		if err := pgo.DefaultRegistry().WatchConfigFile(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "pgohost: watch config: %v\n", err)
		}
	}

	var adminSrv *admin.Server
	if *adminAddr != "" {
		adminSrv = admin.New(pgo.DefaultRegistry(), logger)
		go func() {
			if err := adminSrv.ListenAndServe(*adminAddr); err != nil {
				fmt.Fprintf(os.Stderr, "pgohost: admin server: %v\n", err)
			}
		}()
	}

	group := pgo.GlobalGroup{}
	for i := 0; i < *calls; i++ {
		n := uint32(i % 97)
		if got, want := dispatchSquare(group, n), square(n); got != want {
			fmt.Fprintf(os.Stderr, "pgohost: dispatch(%d) = %d, want %d\n", n, got, want)
			os.Exit(1)
		}
		if i%1000 == 0 {
			time.Sleep(time.Millisecond) // let the background worker make progress
		}
	}

	fmt.Printf("pgohost: %d calls completed under %s\n", *calls, cfg.WorkingDir)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if adminSrv != nil {
		if err := adminSrv.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "pgohost: admin shutdown: %v\n", err)
		}
	}
	if err := pgo.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pgohost: shutdown: %v\n", err)
		os.Exit(1)
	}
}
