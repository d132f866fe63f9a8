// Command gxnode is the CLI/daemonization entry point (spec.md §6,
// SPEC_FULL.md §3), grounded on
// original_source/server/libs/libgx/application.cpp's Application
// class: flag parsing, directory layout resolution, signal handlers,
// optional daemonization, and the main-loop / graceful-drain sequence.
package main

import (
	"flag"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/opengxv/solo/internal/config"
	"github.com/opengxv/solo/internal/fiber"
	"github.com/opengxv/solo/internal/gxlog"
	"github.com/opengxv/solo/internal/network"
	"github.com/opengxv/solo/internal/page"
	"github.com/opengxv/solo/internal/reactor"
	"github.com/opengxv/solo/internal/timer"
)

// dirs is the home-relative directory layout (spec.md §6).
type dirs struct {
	home, etc, script, scriptVar, varDir, image, log string
}

func resolveDirs(home string) dirs {
	return dirs{
		home:      home,
		etc:       filepath.Join(home, "etc"),
		script:    filepath.Join(home, "script"),
		scriptVar: filepath.Join(home, "script", "var"),
		varDir:    filepath.Join(home, "var"),
		image:     filepath.Join(home, "image"),
		log:       filepath.Join(home, "log"),
	}
}

// parseName recovers (name, id) from a binary basename of the shape
// "name-id" or plain "name" (Application::init_name).
func parseName(arg0 string) (name string, id uint32) {
	base := filepath.Base(arg0)
	idx := strings.LastIndexByte(base, '-')
	if idx < 0 {
		return base, 0
	}
	n, err := strconv.ParseUint(base[idx+1:], 10, 32)
	if err != nil {
		return base, 0
	}
	return base[:idx], uint32(n)
}

// daemonEnvVar marks a re-executed child as already detached, so it
// does not fork again (Go cannot safely fork() a multi-threaded
// runtime in place; daemonization instead re-execs itself as a
// detached child, the idiomatic Go substitute for
// Application::daemon()'s fork+setsid).
const daemonEnvVar = "GXNODE_DAEMONIZED"

func daemonize() error {
	if os.Getenv(daemonEnvVar) == "1" {
		return nil
	}
	exePath, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exePath, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonEnvVar+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devnull.Close()
	cmd.Stdin, cmd.Stdout, cmd.Stderr = devnull, devnull, devnull
	if err := cmd.Start(); err != nil {
		return err
	}
	os.Exit(0)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	home := flag.String("home", "", "root of configuration and scripts (default: $GX_HOME or \"..\")")
	nodeID := flag.Int("node", -1, "this process's id within its node type")
	daemon := flag.Bool("daemon", false, "detach (re-exec in a new session, close stdio) before the main loop starts")
	flag.Parse()

	if *home == "" {
		*home = os.Getenv("GX_HOME")
	}
	if *home == "" {
		*home = ".."
	}
	if !filepath.IsAbs(*home) {
		if wd, err := os.Getwd(); err == nil {
			*home = filepath.Join(wd, *home)
		}
	}
	d := resolveDirs(*home)
	for _, p := range []string{d.etc, d.script, d.scriptVar, d.varDir, d.image, d.log} {
		_ = os.MkdirAll(p, 0o755)
	}

	name, parsedID := parseName(os.Args[0])
	id := parsedID
	if *nodeID >= 0 {
		id = uint32(*nodeID)
	}

	log := gxlog.NewTextLogger(os.Stderr, gxlog.LevelInfo)
	gxlog.SetGlobal(log)
	installSignalHandlers()

	if *daemon {
		if err := daemonize(); err != nil {
			log.Log(gxlog.Entry{Level: gxlog.LevelError, Component: "main", Message: "daemonize failed", Err: err})
			return 1
		}
	}

	cfgFile, err := config.Load(filepath.Join(d.etc, "network.yaml"))
	if err != nil {
		log.Log(gxlog.Entry{Level: gxlog.LevelError, Component: "main", Message: "load config failed", Err: err})
		return 1
	}

	timers := timer.New(monotonicMS)
	pages := page.New(page.DefaultSize)
	fibers := fiber.New(fiber.DefaultCapacity, fiber.DefaultGrowBy, timers, nil)

	rx, err := reactor.New(timers, reactor.WithLogger(log))
	if err != nil {
		log.Log(gxlog.Entry{Level: gxlog.LevelError, Component: "main", Message: "reactor init failed", Err: err})
		return 1
	}

	net := network.New(cfgFile.NetworkConfig(), rx, timers, fibers, pages, log)
	config.Populate(net, cfgFile)

	nodeType, ok := findNodeType(net, name)
	if !ok {
		log.Log(gxlog.Entry{Level: gxlog.LevelError, Component: "main", Message: "unknown node name", Fields: map[string]any{"name": name}})
		return 1
	}

	registerServlets(net)

	if err := net.Startup(nodeType, id); err != nil {
		log.Log(gxlog.Entry{Level: gxlog.LevelError, Component: "main", Message: "network startup failed", Err: err})
		return 1
	}

	mainLoop(rx, timers, fibers, net, log)
	return 0
}

// findNodeType maps a node's configured name back to its node_type
// index (Application::init's "type < 0" fallback: match _name against
// each configured node's name).
func findNodeType(net *network.Network, name string) (uint32, bool) {
	for i, nd := range net.Nodes() {
		if nd != nil && nd.Name == name {
			return uint32(i), true
		}
	}
	return 0, false
}

// registerServlets is the embedder hook point: a concrete node binary
// calls net.SetHandler(servletType, handler) here. The core ships none
// — concrete servlet implementations are out of scope per spec.md §1.
func registerServlets(net *network.Network) {}

// ShutdownHook is the embedder-supplied callback run once from inside
// the shutdown coroutine during graceful drain (spec.md §5 "Global
// termination", grounded on application.cpp's shutdown_routine / the
// the_app->shutdown hook). nil means no embedder shutdown work is
// needed; the coroutine still runs (and finishes immediately) so the
// drain sequence is identical either way.
var ShutdownHook func()

var terminating atomic.Bool

func installSignalHandlers() {
	fatal := make(chan os.Signal, 2)
	signal.Notify(fatal, syscall.SIGSEGV, syscall.SIGABRT)
	term := make(chan os.Signal, 2)
	signal.Notify(term, syscall.SIGTERM, syscall.SIGHUP)
	signal.Ignore(syscall.SIGPIPE)

	go func() {
		for range fatal {
			gxlog.Error("signal", "fatal signal received", nil)
			os.Exit(2)
		}
	}()
	go func() {
		for range term {
			gxlog.Info("signal", "termination requested")
			terminating.Store(true)
		}
	}()
}

// mainLoop implements Application::run()'s sequence: pump
// reactor/timer events until a termination signal arrives, then drain
// (close the local listener and accepted peers, wait for outstanding
// calls to finish or time out, clear timers, spawn the shutdown
// coroutine and run it to completion) before returning. The shutdown-coroutine step is
// load-bearing, not cosmetic: it is where an embedder's own
// persistence/cleanup work (ShutdownHook) runs with the same
// coroutine-yield machinery every other servlet body uses, rather than
// inline on the main fiber.
func mainLoop(rx *reactor.Reactor, timers *timer.Manager, fibers *fiber.Manager, net *network.Network, log gxlog.Logger) {
	for !terminating.Load() {
		tick(rx, timers)
	}

	net.ShutdownServlets()
	for net.CallCount() > 0 {
		tick(rx, timers)
	}
	timers.Clear()

	runShutdownCoroutine(rx, timers, fibers, log)

	log.Log(gxlog.Entry{Level: gxlog.LevelInfo, Component: "main", Message: "shutdown complete"})
}

// runShutdownCoroutine spawns a coroutine that invokes ShutdownHook (if
// set) and pumps the reactor/timer loop until that coroutine is DEAD,
// matching application.cpp's "spawn a shutdown coroutine ... exit when
// that coroutine is DEAD" (spec.md §5, SPEC_FULL.md §3).
func runShutdownCoroutine(rx *reactor.Reactor, timers *timer.Manager, fibers *fiber.Manager, log gxlog.Logger) {
	co, err := fibers.Spawn(func(co *fiber.Coroutine, _ any) {
		if ShutdownHook != nil {
			ShutdownHook()
		}
	}, nil)
	if err != nil {
		log.Log(gxlog.Entry{Level: gxlog.LevelError, Component: "main", Message: "shutdown coroutine spawn failed", Err: err})
		return
	}
	co.Resume()
	for co.State() != fiber.Dead {
		tick(rx, timers)
	}
}

func tick(rx *reactor.Reactor, timers *timer.Manager) {
	next := timers.Loop()
	timeoutMS := 1000
	if next != timer.FarFuture {
		if d := next - timers.Now(); d >= 0 && d < int64(timeoutMS) {
			timeoutMS = int(d)
		}
	}
	if err := rx.Loop(timeoutMS); err != nil {
		gxlog.Error("main", "reactor loop error", err)
	}
}

var processStart = time.Now()

// monotonicMS reads Go's monotonic clock as milliseconds since process
// start.
func monotonicMS() int64 { return time.Since(processStart).Milliseconds() }
