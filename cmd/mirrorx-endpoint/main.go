// Command mirrorx-endpoint runs the MirrorX endpoint core as a standalone
// process: it registers with a portal, accepts password-authenticated
// visits, and serves file transfer and (once a platform Capturer/Injector is
// wired in by an embedding build) screen-share and remote-input sessions.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/mirrorx/endpoint/internal/config"
	"github.com/mirrorx/endpoint/internal/logging"
	"github.com/mirrorx/endpoint/pkg/api"
)

var (
	version = "dev"
	commit  = "none"
)

// rotatingLog is the process-wide rotating log file, if one is configured;
// main's signal loop reopens it on SIGHUP so log rotation tools can move the file
// out from under the running process.
var rotatingLog *logging.RotatingWriter

func main() {
	cfgFile := pflag.StringP("config", "c", "", "config file path (default: platform config dir)/mirrorx.yaml")
	domain := pflag.StringP("domain", "d", "", "domain to run under (default: primary_domain)")
	listenAddr := pflag.String("listen", ":0", "address to accept incoming visit connections on")
	showVersion := pflag.Bool("version", false, "print version information and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("mirrorx-endpoint %s (%s)\n", version, commit)
		return
	}

	store, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	initLogging(store)
	log := logging.L("main")

	domainName := *domain
	if domainName == "" {
		domainName, err = store.ReadPrimaryDomain()
		if err != nil {
			log.Error("no domain configured; register one first", "error", err)
			os.Exit(1)
		}
	}

	dom, err := store.ReadDomain(domainName)
	if err != nil {
		log.Error("read domain config", "domain", domainName, "error", err)
		os.Exit(1)
	}

	client := api.NewClient(api.Config{
		PortalAddress:  dom.URI,
		LocalDeviceID:  parseDeviceID(dom.DeviceID),
		LocalPassword:  dom.Password,
		ListenAddr:     *listenAddr,
		CodecWorkers:   store.WorkerPoolSize(),
		CodecQueueSize: store.WorkerQueueSize(),
		OnVisitRequest: func(activeDeviceID uint64, visitDesktop bool) bool {
			log.Info("incoming visit request", "from", activeDeviceID, "visitDesktop", visitDesktop)
			return true
		},
		OnIncomingSession: func(s *api.Session) {
			log.Info("session established", "remote", s.RemoteDeviceID, "role", s.Role)
		},
		OnSessionClosed: func(s *api.Session) {
			log.Info("session closed", "remote", s.RemoteDeviceID, "role", s.Role)
		},
	})

	if dom.DeviceID == "" {
		id, err := client.Register(context.Background(), dom.FingerPrint)
		if err != nil {
			log.Error("register with portal", "error", err)
			os.Exit(1)
		}
		dom.DeviceID = fmt.Sprintf("%d", id)
		if err := store.WriteDomain(domainName, dom); err != nil {
			log.Warn("persist assigned device id", "error", err)
		}
		log.Info("registered with portal", "deviceID", id)
	}

	if err := client.Start(); err != nil {
		log.Error("start client", "error", err)
		os.Exit(1)
	}
	log.Info("mirrorx-endpoint running", "domain", domainName, "listen", *listenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			if rotatingLog != nil {
				if err := rotatingLog.Reopen(); err != nil {
					log.Warn("reopen log file", "error", err)
				} else {
					log.Info("log file reopened on SIGHUP")
				}
			}
			continue
		}
		break
	}

	log.Info("shutdown signal received")
	client.Stop()
}

// initLogging sets up structured logging from store, mirroring the
// rotating-file-plus-stdout tee that every other embedding of this core
// uses: a missing or unopenable log file falls back to stdout-only rather
// than failing startup.
func initLogging(store *config.FileStore) {
	var output io.Writer = os.Stdout

	if store.LogFile() != "" {
		rw, err := logging.NewRotatingWriter(store.LogFile(), store.LogMaxSizeMB(), store.LogMaxBackups())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", store.LogFile(), err)
		} else {
			rotatingLog = rw
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(store.LogFormat(), store.LogLevel(), output)
}

func parseDeviceID(s string) uint64 {
	if s == "" {
		return 0
	}
	var id uint64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0
	}
	return id
}
