// Command routerd runs the wallet router as a standalone WebSocket server:
// dApps connect over wm_* JSON-RPC, the router authorizes and rate-limits
// their calls, and wallet clients dial out per configured chain (spec §1,
// §4.10). Grounded on the teacher's clearnode/main.go wiring sequence
// (load config, connect store, build the RPC node, serve, wait for signal).
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/walletmesh/router/pkg/log"
	"github.com/walletmesh/router/pkg/rpcx"
	"github.com/walletmesh/router/pkg/router"
	"github.com/walletmesh/router/pkg/sessionstore"
	"github.com/walletmesh/router/pkg/sessionstore/sqlstore"
	"github.com/walletmesh/router/pkg/walletproxy"
)

func main() {
	logger := log.New("routerd")

	store := buildStore(logger)
	cfg := router.DefaultConfig()
	cfg.SessionStore = store
	cfg.Logger = logger
	cfg.OnSessionCreated = func(sessionID, origin string) {
		logger.Info("session created", "sessionId", sessionID, "origin", origin)
	}
	cfg.OnSessionDeleted = func(sessionID string) {
		logger.Info("session revoked", "sessionId", sessionID)
	}

	r := router.New(cfg)
	registerWalletClients(r, logger)

	var transport *rpcx.WebsocketTransport
	transport = rpcx.NewWebsocketTransport(rpcx.WebsocketTransportConfig{
		Logger:       logger,
		OnConnect:    r.BindConnOrigin,
		OnDisconnect: r.UnbindConn,
	}, func(connID string, frame []byte) {
		resp, err := r.Engine().Dispatch(context.Background(), connID, frame)
		if err != nil {
			logger.Error("dispatch failed", "connID", connID, "error", err)
			return
		}
		if resp == nil {
			return // notification, no reply expected
		}
		body, err := json.Marshal(resp)
		if err != nil {
			logger.Error("marshal response failed", "connID", connID, "error", err)
			return
		}
		if err := transport.Send(connID, body); err != nil {
			logger.Debug("send failed", "connID", connID, "error", err)
		}
	})

	go pumpWalletEvents(r, transport, logger)
	go sweepExpired(r, logger)

	rpcMux := http.NewServeMux()
	rpcMux.Handle("/ws", transport)
	rpcServer := &http.Server{Addr: ":8090", Handler: rpcMux}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: ":9464", Handler: metricsMux}

	go func() {
		logger.Info("metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failure", "error", err)
		}
	}()

	go func() {
		logger.Info("rpc server listening", "addr", rpcServer.Addr, "path", "/ws")
		if err := rpcServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("rpc server failure", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down metrics server", "error", err)
	}
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := rpcServer.Shutdown(ctx2); err != nil {
		logger.Error("failed to shut down rpc server", "error", err)
	}
	logger.Info("shutdown complete")
}

// buildStore wires a server-persisted session store when ROUTERD_DB_DRIVER
// is set, otherwise falls back to the in-memory store (adequate for a
// single-process deployment).
func buildStore(logger log.Logger) sessionstore.Store {
	driver := os.Getenv("ROUTERD_DB_DRIVER")
	if driver == "" {
		return sessionstore.NewMemoryStore()
	}
	db, err := sqlstore.Connect(sqlstore.Config{
		Driver:   driver,
		Name:     os.Getenv("ROUTERD_DB_NAME"),
		Host:     os.Getenv("ROUTERD_DB_HOST"),
		Port:     os.Getenv("ROUTERD_DB_PORT"),
		Username: os.Getenv("ROUTERD_DB_USER"),
		Password: os.Getenv("ROUTERD_DB_PASSWORD"),
	})
	if err != nil {
		logger.Fatal("failed to connect session store", "error", err)
	}
	return sqlstore.New(db)
}

// registerWalletClients dials out to each configured chain's wallet
// endpoint. ROUTERD_WALLET_<CHAINID>=<url> registers one chain; chain ids
// use underscores in place of colons since they live in env var names
// (ROUTERD_WALLET_EIP155_1 -> eip155:1).
func registerWalletClients(r *router.Router, logger log.Logger) {
	for _, kv := range os.Environ() {
		chainID, url, ok := parseWalletEnv(kv)
		if !ok {
			continue
		}
		dialer := rpcx.NewWalletDialer(rpcx.WalletDialerConfig{Logger: logger})
		if err := dialer.Connect(context.Background(), url); err != nil {
			logger.Error("failed to dial wallet client", "chainId", chainID, "url", url, "error", err)
			continue
		}
		client := walletproxy.NewDialerClient(dialer, nil)
		r.Wallets().Register(chainID, client)
		logger.Info("wallet client registered", "chainId", chainID, "url", url)
	}
}

const walletEnvPrefix = "ROUTERD_WALLET_"

// parseWalletEnv turns a ROUTERD_WALLET_<CHAIN>=<url> environment entry
// into a CAIP-2 chain id and dial URL. Chain ids can't contain '=' or rely
// on ':' inside an env var name, so the name spells the chain id with
// underscores (ROUTERD_WALLET_EIP155_1 -> eip155:1).
func parseWalletEnv(kv string) (chainID, url string, ok bool) {
	key, value, found := strings.Cut(kv, "=")
	if !found || value == "" || !strings.HasPrefix(key, walletEnvPrefix) {
		return "", "", false
	}
	name := strings.TrimPrefix(key, walletEnvPrefix)
	namespace, reference, found := strings.Cut(name, "_")
	if !found {
		return "", "", false
	}
	return strings.ToLower(namespace) + ":" + strings.ToLower(reference), value, true
}

func pumpWalletEvents(r *router.Router, transport *rpcx.WebsocketTransport, logger log.Logger) {
	for ev := range r.WalletEvents() {
		notif, err := rpcx.NewNotification("wm_event", ev)
		if err != nil {
			logger.Error("failed to build event notification", "error", err)
			continue
		}
		body, err := json.Marshal(notif)
		if err != nil {
			logger.Error("failed to marshal event notification", "error", err)
			continue
		}
		for _, connID := range r.ConnsForChain(ev.ChainID) {
			if err := transport.Send(connID, body); err != nil {
				logger.Debug("failed to forward wallet event", "connID", connID, "error", err)
			}
		}
	}
}

func sweepExpired(r *router.Router, logger log.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for now := range ticker.C {
		r.CleanExpired(now.UnixMilli())
	}
}
