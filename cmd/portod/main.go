package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/portod/pkg/config"
	"github.com/cuemby/portod/pkg/engine"
	"github.com/cuemby/portod/pkg/log"
	"github.com/cuemby/portod/pkg/rpc"
	"github.com/cuemby/portod/pkg/session"
	"github.com/cuemby/portod/pkg/supervisor"
)

// Version information, set via ldflags during build.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var cfg = config.Default()

var rootCmd = &cobra.Command{
	Use:     "portod",
	Short:   "portod - single-host Linux container management daemon",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEngine(cfg)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("portod version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().BoolVar(&cfg.StdLog, "stdlog", false, "log to stdout in console format instead of JSON on stderr")
	rootCmd.PersistentFlags().BoolVar(&cfg.Verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&cfg.NoRespawn, "norespawn", false, "exit instead of respawning the engine on crash")
	rootCmd.PersistentFlags().BoolVar(&cfg.Discard, "discard", false, "discard persisted state on next start")
	rootCmd.PersistentFlags().StringVar(&cfg.SocketPath, "socket", cfg.SocketPath, "listening socket path")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(coreCmd)
}

func initLogging() {
	level := log.InfoLevel
	if cfg.Debug {
		level = log.DebugLevel
	} else if cfg.Verbose {
		level = log.DebugLevel
	}
	output := os.Stderr
	if cfg.StdLog {
		output = os.Stdout
	}
	log.Init(log.Config{Level: level, JSONOutput: !cfg.StdLog, Output: output})
}

// daemonCmd is the default command: it runs as the engine process
// itself (the child the supervisor execs), building the engine
// context and driving it from the select loop over the listening
// socket and signal channel until a terminating signal arrives.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "run the portod engine in the foreground (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEngine(cfg)
	},
}

// startCmd launches the supervisor, which execs "daemon" as its
// managed child and restarts it on crash unless --norespawn.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start the daemon under the supervisor",
	RunE: func(cmd *cobra.Command, args []string) error {
		sup := supervisor.New(cfg, []string{"daemon", "--stdlog=" + boolFlag(cfg.StdLog)})
		go func() {
			for r := range sup.Reaped {
				log.Info(fmt.Sprintf("reaped pid %d status %d", r.Pid, r.Status))
			}
		}()
		return sup.Run()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "stop the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, comm, err := readPidFile(cfg.PidFile)
		if err != nil {
			return err
		}
		if err := verifyComm(pid, comm); err != nil {
			return err
		}
		return syscall.Kill(pid, syscall.SIGTERM)
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "stop then start the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := stopCmd.RunE(cmd, args); err != nil {
			log.Warn(fmt.Sprintf("stop before restart failed: %v", err))
		}
		return startCmd.RunE(cmd, args)
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "signal the daemon to re-exec preserving its listen socket",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, comm, err := readPidFile(cfg.PidFile)
		if err != nil {
			return err
		}
		if err := verifyComm(pid, comm); err != nil {
			return err
		}
		return syscall.Kill(pid, syscall.SIGHUP)
	},
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "alias for reload, kept for operator muscle memory",
	RunE:  reloadCmd.RunE,
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "print container names and volumes of a freshly built engine context, one per line",
	RunE: func(cmd *cobra.Command, args []string) error {
		return dumpState(cfg)
	},
}

var coreCmd = &cobra.Command{
	Use:   "core",
	Short: "signal the daemon to dump diagnostics (SIGUSR2)",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, comm, err := readPidFile(cfg.PidFile)
		if err != nil {
			return err
		}
		if err := verifyComm(pid, comm); err != nil {
			return err
		}
		return syscall.Kill(pid, syscall.SIGUSR2)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "report whether the daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, comm, err := readPidFile(cfg.PidFile)
		if err != nil {
			fmt.Println("stopped")
			return nil
		}
		if err := verifyComm(pid, comm); err != nil {
			fmt.Println("stale pidfile")
			return nil
		}
		fmt.Printf("running pid %d\n", pid)
		return nil
	},
}

func boolFlag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// readPidFile parses the "<pid>\n<comm>" format §6 specifies.
func readPidFile(path string) (int, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, "", err
	}
	var pid int
	var comm string
	if _, err := fmt.Sscanf(string(data), "%d\n%s", &pid, &comm); err != nil {
		return 0, "", fmt.Errorf("malformed pidfile: %w", err)
	}
	return pid, comm, nil
}

// verifyComm checks /proc/<pid>/comm against the pidfile's recorded
// value so a stale pidfile pointing at a reused pid is rejected,
// grounded on §6's pidfile verification rule.
func verifyComm(pid int, comm string) error {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return fmt.Errorf("pid %d not running: %w", pid, err)
	}
	actual := string(data)
	if len(actual) > 0 && actual[len(actual)-1] == '\n' {
		actual = actual[:len(actual)-1]
	}
	if actual != comm {
		return fmt.Errorf("pid %d is no longer portod (comm %q)", pid, actual)
	}
	return nil
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n%s\n", os.Getpid(), "portod")), 0644)
}

// runEngine builds the engine context, binds the listening socket,
// and drives it until SIGINT/SIGTERM/SIGHUP, implementing §6's AF_UNIX
// stream socket at cfg.SocketMode (0666 by default). The socket's group
// is left as created; cfg.SocketGroup is not applied.
func runEngine(cfg config.Config) error {
	initLogging()

	if cfg.Discard {
		os.Remove(cfg.SocketPath)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	if err := os.Remove(cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.SocketPath, err)
	}
	defer listener.Close()
	os.Chmod(cfg.SocketPath, os.FileMode(cfg.SocketMode))

	if err := writePidFile(cfg.PidFile); err != nil {
		log.Warn(fmt.Sprintf("write pidfile: %v", err))
	}
	defer os.Remove(cfg.PidFile)

	go eng.Events.Run()
	defer eng.Events.Close()

	eng.Metrics.Start()
	defer eng.Metrics.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)

	accepted := make(chan net.Conn)
	go acceptLoop(listener, accepted)

	log.Info(fmt.Sprintf("portod engine listening on %s", cfg.SocketPath))

	for {
		select {
		case sig := <-stop:
			switch sig {
			case syscall.SIGHUP:
				log.Info("reload requested, exiting for supervisor respawn")
				return nil
			case syscall.SIGUSR1:
				log.Info("reopening logs")
				initLogging()
			case syscall.SIGUSR2:
				log.Info("dumping diagnostics")
				dumpState(cfg)
			default:
				log.Info("shutting down")
				return nil
			}
		case conn := <-accepted:
			handleConn(eng, conn)
		}
	}
}

// acceptLoop feeds accepted connections to the main select loop.
func acceptLoop(listener net.Listener, out chan<- net.Conn) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		out <- conn
	}
}

func handleConn(eng *engine.Context, conn net.Conn) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return
	}
	sess, err := session.Accept(unixConn, eng.Containers)
	if err != nil {
		log.Warn(fmt.Sprintf("reject client: %v", err))
		conn.Close()
		return
	}
	go serveSession(eng, sess)
}

func serveSession(eng *engine.Context, sess *session.Session) {
	defer sess.Close()
	for {
		msg, err := sess.ReadMessage()
		if err != nil {
			return
		}
		req := decodeRequest(msg)
		resp := eng.Dispatch.Dispatch(sess.Container, req)
		if err := sess.WriteMessage(encodeResponse(resp)); err != nil {
			return
		}
	}
}

// decodeRequest/encodeResponse are a minimal textual placeholder for
// the protobuf wire schema §6 specifies; each frame is a newline-
// separated "method\nkey=value" block, kept intentionally simple since
// generating the .proto bindings is outside this module's scope.
func decodeRequest(msg []byte) rpc.Request {
	lines := strings.Split(strings.TrimRight(string(msg), "\n"), "\n")
	req := rpc.Request{Params: map[string]string{}}
	if len(lines) > 0 {
		req.Method = lines[0]
	}
	for _, line := range lines[1:] {
		if k, v, ok := strings.Cut(line, "="); ok {
			req.Params[k] = v
		}
	}
	return req
}

func encodeResponse(resp rpc.Response) []byte {
	out := "ok\n"
	if resp.Error != nil {
		out = fmt.Sprintf("error\nkind=%s\nmessage=%s\n", resp.Error.Kind, resp.Error.Message)
	}
	for k, v := range resp.Result {
		out += k + "=" + v + "\n"
	}
	return []byte(out)
}

func dumpState(cfg config.Config) error {
	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}
	for _, name := range eng.Containers.List() {
		fmt.Println(name)
	}
	for _, v := range eng.Volumes.List() {
		fmt.Printf("volume %s backend=%s path=%s\n", v.Id, v.Backend, v.Path)
	}
	return nil
}
