// Package node assembles one SLARM node from its configuration and runs it.
package node

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/slarm-iot/slarm/internal/config"
	"github.com/slarm-iot/slarm/internal/db"
	"github.com/slarm-iot/slarm/internal/grpcapi"
	"github.com/slarm-iot/slarm/internal/httpapi"
	"github.com/slarm-iot/slarm/internal/slarm/actuator"
	"github.com/slarm-iot/slarm/internal/slarm/auditlog"
	"github.com/slarm-iot/slarm/internal/slarm/console"
	"github.com/slarm-iot/slarm/internal/slarm/link"
	"github.com/slarm-iot/slarm/internal/slarm/pubsub"
	"github.com/slarm-iot/slarm/internal/slarm/sensor"
	"github.com/slarm-iot/slarm/internal/slarm/service"
	"github.com/slarm-iot/slarm/internal/slarm/state"
	"github.com/slarm-iot/slarm/internal/slarm/store"
	"github.com/slarm-iot/slarm/internal/slarm/store/sqlite"
)

const shutdownTimeout = 5 * time.Second

type Options struct {
	Config config.Config
	Logger *log.Logger

	// Stdin feeds the console when Config.Console is set, and the keypad on
	// a door node when Keys is nil. Stdout gets console output and the
	// status panel of admin and display nodes. Both may be nil.
	Stdin  io.Reader
	Stdout io.Writer

	// Broker replaces the one built from Config.Broker; the caller keeps
	// ownership. Nodes in one process can share a pubsub.Memory this way.
	Broker pubsub.Broker

	// Door sensor overrides. Nil Echo and Field select the simulators.
	Echo  sensor.EchoSource
	Field sensor.FieldSource
	Keys  sensor.KeySource
}

type task struct {
	name string
	run  func(ctx context.Context) error
}

// Node is one running role.
type Node struct {
	cfg    config.Config
	logger *log.Logger
	id     string
	opts   Options

	reg    *prometheus.Registry
	sqlDB  *sql.DB
	writer *db.Worker

	state    *state.Aggregator
	archiver *service.AuditArchiver
	samples  store.SampleStore
	status   *service.StatusService
	console  *console.Console
	lock     actuator.Lock
	access   *service.AccessService
	receiver *service.Receiver
	recorder *service.SampleRecorder
	pruner   *service.SamplePruner

	hop1     *link.Manager
	linkAddr net.Addr

	httpSrv *httpapi.Server
	grpcSrv *grpcapi.Server
	grpcLn  net.Listener

	tasks []task
	// detached tasks block on terminal reads that cannot be interrupted,
	// so Run does not wait for them.
	detached []task
	closers  []func()
}

// New builds every component for opts.Config.Role and binds the listening
// sockets. Nothing runs until Run is called.
func New(ctx context.Context, opts Options) (_ *Node, err error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	n := &Node{
		cfg:    cfg,
		logger: logger,
		id:     uuid.NewString(),
		opts:   opts,
		reg:    prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			n.close()
		}
	}()

	n.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	n.sqlDB, err = db.Open(ctx, db.Config{Path: cfg.DBPath, Name: cfg.Node})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	n.onClose(func() { _ = n.sqlDB.Close() })
	n.writer = db.NewWorker(n.sqlDB)
	n.onClose(n.writer.Close)

	if err := db.SeedNodes(ctx, n.sqlDB, cfg.KnownPeers); err != nil {
		return nil, fmt.Errorf("seed nodes: %w", err)
	}

	n.archiver = service.NewAuditArchiver(cfg.Node, sqlite.NewAuditStore(n.sqlDB, n.writer), logger)
	n.state = state.NewAggregator(state.Options{
		Audit:   auditlog.New(cfg.AuditCapacity),
		OnAudit: n.archiver.Record,
		Logger:  logger,
	})

	switch cfg.Role {
	case config.RoleDoor:
		err = n.buildDoor()
	case config.RoleBase:
		err = n.buildBase()
	case config.RoleAdmin:
		err = n.buildAdmin()
	case config.RoleDisplay:
		err = n.buildDisplay()
	}
	if err != nil {
		return nil, err
	}

	if cfg.Actuator && n.lock == nil {
		n.lock = actuator.NewServo(actuator.LogPWM{Logger: logger}, logger, nil)
	}
	n.console = console.New(n.state, n.lock, n.state.Audit())
	if cfg.Console && opts.Stdin != nil {
		out := opts.Stdout
		if out == nil {
			out = io.Discard
		}
		n.detach("console", func(ctx context.Context) error {
			return n.console.Serve(ctx, opts.Stdin, out)
		})
	}

	n.status = service.NewStatusService(service.StatusConfig{
		Node:    cfg.Node,
		Role:    cfg.Role,
		State:   n.state,
		Peer:    n.peer,
		Archive: n.archiver,
		Samples: n.samples,
	})

	if err := n.buildSurfaces(); err != nil {
		return nil, err
	}

	logger.Printf("node %s role=%s instance=%s", cfg.Node, cfg.Role, n.id)
	return n, nil
}

func (n *Node) buildSurfaces() error {
	if n.cfg.HTTPAddr != "" {
		n.httpSrv = httpapi.NewServer(httpapi.Dependencies{
			Logger:        n.logger,
			Addr:          n.cfg.HTTPAddr,
			Status:        n.status,
			Console:       n.console,
			Receiver:      n.receiver,
			AccessService: n.access,
			Gatherer:      n.reg,
		})
	}
	if n.cfg.GRPCAddr != "" {
		ln, err := net.Listen("tcp", n.cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", n.cfg.GRPCAddr, err)
		}
		n.grpcLn = ln
		n.onClose(func() { _ = ln.Close() })
		n.grpcSrv = grpcapi.NewServer(grpcapi.Dependencies{
			Logger:  n.logger,
			Status:  n.status,
			Console: n.console,
		})
	}
	return nil
}

// Run starts every task and blocks until ctx ends or a task fails, then
// releases everything New acquired.
func (n *Node) Run(ctx context.Context) error {
	defer n.close()

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range n.tasks {
		g.Go(func() error {
			if err := t.run(ctx); err != nil {
				return fmt.Errorf("%s: %w", t.name, err)
			}
			return nil
		})
	}
	for _, t := range n.detached {
		go func() {
			if err := t.run(ctx); err != nil && ctx.Err() == nil {
				n.logger.Printf("%s: %v", t.name, err)
			}
		}()
	}

	if n.recorder != nil {
		n.recorder.Start(ctx)
	}
	if n.pruner != nil {
		n.pruner.Start(ctx)
	}

	if n.httpSrv != nil {
		g.Go(func() error {
			n.logger.Printf("http listening on %s", n.cfg.HTTPAddr)
			if err := n.httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return n.httpSrv.Shutdown(sctx)
		})
	}
	if n.grpcSrv != nil {
		g.Go(func() error {
			n.logger.Printf("grpc listening on %s", n.grpcLn.Addr())
			if err := n.grpcSrv.Serve(n.grpcLn); err != nil {
				return fmt.Errorf("grpc: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			n.grpcSrv.Stop(sctx)
			return nil
		})
	}

	return g.Wait()
}

func (n *Node) Status() *service.StatusService { return n.status }

func (n *Node) ID() string { return n.id }

// LinkAddr is the bound hop-1 listen address of a base or display node.
func (n *Node) LinkAddr() net.Addr { return n.linkAddr }

func (n *Node) peer() string {
	if n.hop1 == nil {
		return ""
	}
	return n.hop1.Peer()
}

func (n *Node) spawn(name string, run func(ctx context.Context) error) {
	n.tasks = append(n.tasks, task{name: name, run: run})
}

func (n *Node) detach(name string, run func(ctx context.Context) error) {
	n.detached = append(n.detached, task{name: name, run: run})
}

func (n *Node) onClose(fn func()) {
	n.closers = append(n.closers, fn)
}

// close runs the closers in reverse order of registration.
func (n *Node) close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}
	n.closers = nil
}
