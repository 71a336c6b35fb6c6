package gagreecmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/gordian-engine/gagree/ag/agcodec/agcbor"
	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agdebug"
	"github.com/gordian-engine/gagree/ag/agengine"
	"github.com/gordian-engine/gagree/ag/agimport"
	"github.com/gordian-engine/gagree/ag/agmetrics"
	"github.com/gordian-engine/gagree/ag/agp2p/aglibp2p"
	"github.com/gordian-engine/gagree/ag/agregistry"
	"github.com/gordian-engine/gagree/ag/agsession"
	"github.com/gordian-engine/gagree/gcrypto"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an agreement node until interrupted",
		Args:  cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			cfg, err := loadNodeConfig(v)
			if err != nil {
				return err
			}

			return runNode(cmd.Context(), log, cfg)
		},
	}

	addNodeFlags(cmd.Flags())

	return cmd
}

func runNode(ctx context.Context, log *slog.Logger, cfg nodeConfig) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var signer gcrypto.Signer
	if cfg.KeyFile != "" {
		signer, err = loadSigner(cfg.KeyFile)
		if err != nil {
			return err
		}
		log.Info("Loaded validator key", "key_type", signer.PubKey().TypeName())
	} else {
		log.Info("No key file configured; observing only")
	}

	reg, err := agregistry.FromConfig(newCryptoRegistry(), cfg.Validators)
	if err != nil {
		return fmt.Errorf("failed to load validator sets: %w", err)
	}

	bootstrap, err := cfg.bootstrapPeers()
	if err != nil {
		return err
	}

	sel, err := cfg.proposerSelector()
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg.Store, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}
	defer func() {
		err = multierr.Append(err, st.Close())
	}()

	p2p, err := aglibp2p.New(ctx, log.With("sys", "p2p"), aglibp2p.Config{
		ListenAddrs:    cfg.Listen,
		Bootstrap:      bootstrap,
		ProtocolPrefix: cfg.ProtocolPrefix,
		Codec:          agcbor.NewCodec(),
	})
	if err != nil {
		return fmt.Errorf("failed to start network: %w", err)
	}
	defer func() {
		err = multierr.Append(err, p2p.Close())
	}()

	imp, err := agimport.New(ctx, log.With("sys", "import"), st.Candidates, reg)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engineOpts := []agengine.Opt{
		agengine.WithTimeoutStrategy(cfg.Timeouts.strategy()),
		agengine.WithProposerSelector(sel),
	}
	if cfg.VerifyWorkers > 0 {
		engineOpts = append(engineOpts, agengine.WithVerifyWorkers(cfg.VerifyWorkers))
	}

	m, err := agsession.NewManager(ctx, log.With("sys", "session"), agsession.Config{
		Registry: reg,
		Network:  p2p,
		Signer:   signer,

		RoundStateStore:   st.RoundStates,
		StatementStore:    st.Statements,
		FinalizationStore: st.Finalizations,

		Importer: imp,
		Metrics:  agmetrics.New(promReg),

		EngineOpts: engineOpts,
	})
	if err != nil {
		return err
	}
	defer m.Close()

	for _, sid := range cfg.Sessions {
		if _, err := m.Start(ctx, agconsensus.SessionID(sid), cfg.Resume); err != nil {
			return err
		}
	}

	if cfg.DebugSocket != "" {
		ln, err := listenUnix(cfg.DebugSocket)
		if err != nil {
			return err
		}

		srv := agdebug.NewHTTPServer(ctx, log.With("sys", "debug"), agdebug.HTTPServerConfig{
			Listener: ln,
			Manager:  m,
			Importer: imp,
			Gatherer: promReg,
		})
		defer func() {
			cancel()
			srv.Wait()
		}()

		log.Info("Debug API listening", "socket", cfg.DebugSocket)
	}

	if cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("failed to listen for metrics: %w", err)
		}
		wait := serveMetrics(ctx, log.With("sys", "metrics"), ln, promReg)
		defer func() {
			cancel()
			wait()
		}()

		log.Info("Metrics listening", "addr", ln.Addr())
	}

	log.Info("Node running", "p2p_id", p2p.AddrInfo().ID, "sessions", len(cfg.Sessions))

	<-ctx.Done()
	log.Info("Shutting down")
	return nil
}

// listenUnix listens on path, replacing a socket left behind by an earlier run.
func listenUnix(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale debug socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on debug socket: %w", err)
	}
	return ln, nil
}

// serveMetrics serves /metrics on ln until ctx ends.
// The returned function waits for the server to stop.
func serveMetrics(ctx context.Context, log *slog.Logger, ln net.Listener, g prometheus.Gatherer) func() {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods("GET")

	srv := &http.Server{
		Handler: r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Metrics server stopped", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	return func() { <-done }
}
