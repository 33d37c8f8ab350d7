package main

import (
	"context"
	"io"
	"log"
	"os"

	tipjar "github.com/surgesocial/tipjar/pkg"
	"github.com/surgesocial/tipjar/pkg/chain"
	"github.com/surgesocial/tipjar/pkg/conductor"
	"github.com/surgesocial/tipjar/pkg/receivers"
	"github.com/surgesocial/tipjar/pkg/services"
	"github.com/surgesocial/tipjar/pkg/store"
	"github.com/surgesocial/tipjar/pkg/webapi"
	"gopkg.in/natefinch/lumberjack.v2"
)

func Server(conf tipjar.Config) {
	if conf.Tipjar.LogFile != "" {
		// process log to stderr and a rotating file
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   conf.Tipjar.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			Compress:   true,
		}))
	}
	log.Printf("%s starting\n", conf.Tipjar.ServiceName)

	c := conductor.NewConductor(
		conductor.HookSignals(),
		conductor.Noisy(),
	)

	// Start the MessageBus Service
	bus := tipjar.NewMessageBus()
	c.Service("MessageBus", bus)

	// Set up all configured receivers
	receivers.SetUpReceivers(c, bus, conf)

	// Set up the Chain Reader (one client for the whole process)
	reader, err := chain.NewEthReader(context.Background(), conf.Chain)
	if err != nil {
		log.Fatalf("Chain reader: %v", err)
	}
	defer reader.Close()
	if conf.Chain.ChainID != 0 {
		id, err := reader.ChainID(context.Background())
		if err != nil {
			log.Printf("Chain reader: cannot confirm chain id: %v\n", err)
		} else if id.Int64() != conf.Chain.ChainID {
			log.Fatalf("Chain reader: node serves chain %v, configured chain is %d", id, conf.Chain.ChainID)
		}
	}

	// Setup a Store
	st, err := openStore(conf.Store)
	if err != nil {
		log.Fatalf("Store: %v", err)
	}
	defer st.Close()

	// Start the tip pipeline
	coord := services.StartServices(c, bus, conf, st, reader)

	api := tipjar.NewAPI(st, coord, conf)

	// Start the Tip API
	p, err := webapi.NewWebAPI(conf, api)
	if err != nil {
		log.Fatalf("WebAPI: %v", err)
	}
	c.Service("Tip API", p)

	bus.Send(tipjar.SYS_STARTUP, conf.Tipjar.ServiceName)
	<-c.Start()
}

func openStore(conf tipjar.StoreConfig) (tipjar.Store, error) {
	if conf.PostgresDSN != "" {
		return store.NewPostgresStore(conf.PostgresDSN)
	}
	return store.NewSQLiteStore(conf.DBFile)
}
