// Command controld runs the control protocol core: it accepts client
// connections on a unix socket, dispatches their commands against an
// in-process service graph engine, and fans service/environment events
// back out. A small HTTP surface exposes liveness and Prometheus
// metrics, kept deliberately separate from the control socket itself.
package main

import (
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/controld/internal/config"
	"github.com/danmuck/controld/internal/control/conn"
	"github.com/danmuck/controld/internal/control/event"
	"github.com/danmuck/controld/internal/control/model"
	"github.com/danmuck/controld/internal/control/readiness"
	"github.com/danmuck/controld/internal/control/subscribe"
	"github.com/danmuck/controld/internal/logging"
	"github.com/danmuck/controld/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to a controld.toml configuration file")
	flag.Parse()

	logging.Configure(logging.ProfileRuntime)

	cfg := config.DefaultSupervisorConfig()
	if *configPath != "" {
		loaded, err := config.LoadSupervisorConfig(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load configuration")
		}
		cfg = loaded
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	metrics.Register()
	if cfg.MetricsAddr != "" {
		go serveAdmin(cfg.MetricsAddr)
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("controld exited")
	}
}

func serveAdmin(addr string) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(cors.Default())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("addr", addr).Msg("admin http surface listening")
	if err := router.Run(addr); err != nil {
		log.Error().Err(err).Msg("admin http surface stopped")
	}
}

// run owns the supervisor's single-threaded control loop: one epoll
// instance multiplexes the listening socket and every accepted
// connection, so no connection's state is ever touched from more than
// one goroutine at a time, matching §5's no-internal-locks model.
func run(cfg config.SupervisorConfig) error {
	_ = os.Remove(cfg.SocketPath)
	ln, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Info().Str("socket", cfg.SocketPath).Msg("control socket listening")

	poller, err := readiness.NewEpoll()
	if err != nil {
		return err
	}
	defer poller.Close()

	listenFd, err := fdOf(ln.(*net.UnixListener))
	if err != nil {
		return err
	}
	if err := poller.Add(listenFd, true, false); err != nil {
		return err
	}

	engine := model.NewMemoryEngine() // stands in for the real dependency-solving engine
	subs := subscribe.NewRegistry[*conn.Conn]()
	emitter := event.NewEmitter(cfg.DualEmit)
	engine.RegisterObserver(emitter)

	limits := conn.Limits{
		WriteHighWaterBytes: cfg.WriteHighWaterBytes,
		WriteLowWaterBytes:  cfg.WriteLowWaterBytes,
		WriteHardCapBytes:   cfg.WriteHardCapBytes,
	}

	conns := make(map[int]*conn.Conn)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sigc:
			log.Info().Msg("shutting down")
			return nil
		default:
		}

		events, err := poller.Wait(1000)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if ev.Fd == listenFd {
				acceptOne(ln, poller, conns, limits, engine, subs, emitter)
				continue
			}
			c, ok := conns[ev.Fd]
			if !ok {
				continue
			}
			if ev.HangUp {
				closeConn(c, ev.Fd, conns, poller, "peer-hangup")
				continue
			}
			if ev.Readable {
				_ = c.OnReadable()
			}
			if ev.Writable {
				_ = c.OnWritable()
			}
			if !c.WantRead() && !c.WantWrite() {
				if _, stillOpen := conns[ev.Fd]; stillOpen {
					closeConn(c, ev.Fd, conns, poller, "fatal")
				}
				continue
			}
			_ = poller.Modify(ev.Fd, c.WantRead(), c.WantWrite())
		}
	}
}

func acceptOne(ln net.Listener, poller *readiness.Epoll, conns map[int]*conn.Conn, limits conn.Limits,
	engine model.Engine, subs *subscribe.Registry[*conn.Conn], emitter *event.Emitter) {
	raw, err := ln.Accept()
	if err != nil {
		if !errors.Is(err, net.ErrClosed) {
			log.Error().Err(err).Msg("accept failed")
		}
		return
	}
	uc, ok := raw.(*net.UnixConn)
	if !ok {
		_ = raw.Close()
		return
	}
	fd, err := fdOf(uc)
	if err != nil {
		_ = raw.Close()
		return
	}
	c := conn.New(raw, fd, limits, engine, subs, emitter)
	conns[fd] = c
	metrics.ConnectionOpened()
	_ = poller.Add(fd, true, false)
}

func closeConn(c *conn.Conn, fd int, conns map[int]*conn.Conn, poller *readiness.Epoll, reason string) {
	c.Close(reason)
	_ = poller.Remove(fd)
	delete(conns, fd)
}

// fdOf returns the syscall descriptor underlying a unix socket, for
// registration with the epoll poller. The descriptor is not duplicated:
// sc's Control callback reads the original fd, which the runtime's own
// netpoller also keeps using.
func fdOf(sc syscallConner) (int, error) {
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	ctrlErr := raw.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}

type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}
