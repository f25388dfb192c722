// Command dockpilotd is the dockpilot server process: it serves the static
// web UI, accepts WebSocket client connections, and runs the stack
// lifecycle engine, terminal fabric, and broadcast scheduler described in
// spec §§2-5.
package main

import (
	"context"
	"embed"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/aureuma/dockpilot/internal/compose"
	"github.com/aureuma/dockpilot/internal/config"
	"github.com/aureuma/dockpilot/internal/dockerapi"
	"github.com/aureuma/dockpilot/internal/federation"
	"github.com/aureuma/dockpilot/internal/httpserver"
	"github.com/aureuma/dockpilot/internal/scheduler"
	"github.com/aureuma/dockpilot/internal/server"
	"github.com/aureuma/dockpilot/internal/stacklist"
	"github.com/aureuma/dockpilot/internal/store"
	"github.com/aureuma/dockpilot/internal/terminal"
	"github.com/aureuma/dockpilot/internal/wsproto"
)

//go:embed all:web
var webAssets embed.FS

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger := log.New(os.Stdout, "dockpilotd ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "dockpilot.db"))
	if err != nil {
		logger.Fatalf("store: %v", err)
	}
	defer st.Close()

	if err := os.MkdirAll(cfg.StacksDir, 0o755); err != nil {
		logger.Fatalf("stacks dir: %v", err)
	}

	registry := terminal.NewRegistry(logger)
	engine := compose.NewEngine(cfg.StacksDir, registry, "")

	app := server.NewApp(st, registry, engine, cfg.StacksDir, cfg.EnableConsole, version, logger)
	app.LocalEndpoint = cfg.Hostname

	if docker, err := dockerapi.NewClient(); err != nil {
		logger.Printf("docker daemon unreachable, getDockerNetworkList will be unavailable: %v", err)
	} else {
		app.Docker = docker
		defer docker.Close()
	}

	router := app.BuildRouter()

	mux := chi.NewRouter()
	mux.Handle("/ws", websocketHandler(app, router, logger))

	assets, err := fs.Sub(webAssets, "web")
	if err != nil {
		logger.Fatalf("embedded assets: %v", err)
	}
	mux.Handle("/*", httpserver.New(assets))

	addr := cfg.Hostname + ":" + strconv.Itoa(cfg.Port)
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	stop := make(chan struct{})
	sched := scheduler.New(scheduler.Config{
		Logger: logger,
		PushStackList: func() {
			pushStackList(app, logger)
		},
		SweepSettings:  app.SettingsCache.Sweep,
		SweepTerminals: registry.CleanupTick,
	})
	go sched.Run(stop)
	go registry.Run(stop)

	watcher := stacklist.NewWatcher(cfg.StacksDir, func() {
		pushStackList(app, logger)
	}, logger)
	go watcher.Run(stop)

	go func() {
		logger.Printf("listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	waitForShutdownSignal()
	logger.Printf("shutting down")

	close(stop)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}

	registry.Shutdown(5 * time.Second)
}

// websocketHandler upgrades each connection, builds a Session, and serves
// the request router until the connection closes (spec §4.6, §5).
func websocketHandler(app *server.App, router *wsproto.Router, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Printf("websocket accept: %v", err)
			return
		}
		conn := wsproto.NewConn(ws)
		session := wsproto.NewSessionWithRemoteAddr(conn, remoteAddrFor(r, app))

		if err := router.Serve(r.Context(), session); err != nil {
			logger.Printf("session %s closed: %v", session.ID(), err)
		}

		mgr, _ := session.Federation.(*federation.Manager)
		app.Disconnect(session, mgr)
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}
}

// remoteAddrFor resolves the client IP that dockpilot's login/2FA rate
// limiters key on (spec §4.5). It trusts r.RemoteAddr by default; only
// when the trustProxy setting is "true" does it prefer the leftmost
// X-Forwarded-For hop, since that header is trivially spoofable by any
// direct client otherwise.
func remoteAddrFor(r *http.Request, app *server.App) string {
	trustProxy, _ := app.SettingsCache.Get(store.SettingTrustProxy)
	if trustProxy == "true" {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// pushStackList broadcasts the current stack list to every authenticated
// session (spec §4.8: every 10s, and on stacks-dir changes via the
// watcher).
func pushStackList(app *server.App, logger *log.Logger) {
	list, err := app.Engine.List()
	if err != nil {
		// A managed-set scan error still leaves a usable partial (daemon-set)
		// list; push what's there instead of skipping the broadcast entirely.
		logger.Printf("scheduler: stack list: %v", err)
	}
	ctx := context.Background()
	for _, s := range app.AuthenticatedSessions() {
		_ = s.Conn().WriteEvent(ctx, "stackList", list)
	}
}

func waitForShutdownSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
