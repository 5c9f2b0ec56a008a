package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/zhukovaskychina/servicebus-persistence/logger"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/app"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/health"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/pageblob"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/snapshot"
	"github.com/zhukovaskychina/servicebus-persistence/server"
	"github.com/zhukovaskychina/servicebus-persistence/server/conf"
)

const help = `
******************************************************************************************

 ____  ___________ _    _____ _____ _____ ____  _   _ ____    ____  _   _ ____
/ ___|| ____|  _ \ \ | | |_ _/ ____|| ____| __ )| | | / ___|  | __ )| | | / ___|
\___ \|  _| | |_) \ \| | | || |     |  _| |  _ \| | | \___ \  |  _ \| | | \___ \
 ___) | |___|  _ < |\  | | || |____ | |___| |_) | |_| |___) | | |_) | |_| |___) |
|____/|_____|_| \_\_| \_|___\_____| |_____|____/ \___/|____/  |____/ \___/|____/

  message-persistence tier: pages, clusters and the index-by-minute
******************************************************************************************
*help:
*1. --help
*2. --configPath   .ini config file with the [persistence] section
******************************************************************************************
`

func main() {
	fmt.Println("Starting servicebus-persistence...")

	var configPath string
	var showHelp bool
	flag.StringVar(&configPath, "configPath", "", "path to an .ini config file")
	flag.BoolVar(&showHelp, "help", false, "print usage and exit")
	flag.Parse()

	if showHelp {
		fmt.Println(help)
		return
	}

	args := &conf.CommandLineArgs{ConfigPath: configPath}
	settings := conf.NewSettingsModel().Load(args)

	if err := logger.InitLogger(logger.LogConfig{LogLevel: "info"}); err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	logger.Infof("env_info=%s flush_tick=%s page_idle_threshold=%s compression=%s",
		settings.EnvInfo, settings.FlushTickInterval, settings.PageIdleThreshold, settings.CompressionAlgorithm)

	if settings.MessagesConnectionString == "" {
		logger.Warnf("MESSAGES_CONNECTION_STRING is unset; falling back to an in-memory page-blob store for this process only")
	}

	healthState := health.NewState()
	storeFactory, snapshotStore := newLocalBlobBackend()

	appCtx, err := app.New(settings, storeFactory, snapshotStore, healthState)
	if err != nil {
		logger.Fatalf("failed to build app context: %v", err)
		os.Exit(1)
	}

	svc := server.NewService(appCtx)
	_ = svc // wired for the external RPC transport to drive; this binary does not itself listen

	logger.Info("servicebus-persistence ready")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutdown signal received, draining schedulers")
	appCtx.Shutdown(ctx)
}

// newLocalBlobBackend wires the in-memory BlobStore/CASStore fakes as
// the default object-store backend for a standalone run of this
// binary. The real client (spec §1: "a page-blob API providing
// 512-byte aligned read/write... external collaborator") is supplied
// by the deployment by constructing app.New with a BlobStoreFactory
// and snapshot.CASStore backed by it instead.
func newLocalBlobBackend() (app.BlobStoreFactory, snapshot.CASStore) {
	var mu sync.Mutex
	stores := make(map[string]*pageblob.FakeBlobStore)

	factory := func(ctx context.Context, container, blobName string) (pageblob.BlobStore, error) {
		key := container + "/" + blobName

		mu.Lock()
		defer mu.Unlock()
		if store, ok := stores[key]; ok {
			return store, nil
		}
		store := pageblob.NewFakeBlobStore()
		stores[key] = store
		return store, nil
	}

	return factory, snapshot.NewFakeCASStore()
}
