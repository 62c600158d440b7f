package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arzzra/rtc_engine/pkg/account"
	"github.com/arzzra/rtc_engine/pkg/address"
	"github.com/arzzra/rtc_engine/pkg/call"
	"github.com/arzzra/rtc_engine/pkg/core"
	sig "github.com/arzzra/rtc_engine/pkg/signal"
)

func main() {
	var (
		identity    = flag.String("identity", "sip:alice@example.com", "Адрес идентичности аккаунта")
		dataDir     = flag.String("data", "./data", "Каталог базы данных")
		metricsAddr = flag.String("metrics", "127.0.0.1:9091", "Адрес HTTP-эндпоинта метрик")
		debug       = flag.Bool("debug", false, "Подробное логирование")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	local, err := address.Parse(*identity)
	if err != nil {
		logger.Error("адрес идентичности не разобран", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := badger.Open(badger.DefaultOptions(*dataDir).WithLogger(nil))
	if err != nil {
		logger.Error("база данных не открылась", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	engine, err := core.New(core.Options{
		Local:  local,
		Config: core.DefaultConfig(),
		DB:     db,
		Logger: logger,
		Hooks: core.Hooks{
			OnIncomingCall: func(c *call.Call, kind core.IncomingKind) {
				logger.Info("входящий вызов",
					slog.String("call_id", c.CallID()),
					slog.String("kind", kind.String()))
			},
			OnMessage: func(tx sig.Transaction) {
				logger.Info("входящее сообщение",
					slog.String("from", tx.From().String()))
			},
		},
	})
	if err != nil {
		logger.Error("ядро не создано", slog.Any("error", err))
		os.Exit(1)
	}

	acc, err := account.New(account.Config{
		Identity: local,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("аккаунт не создан", slog.Any("error", err))
		os.Exit(1)
	}
	engine.AddAccount(acc)

	if err := engine.Start(); err != nil {
		logger.Error("ядро не запустилось", slog.Any("error", err))
		os.Exit(1)
	}

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		logger.Info("метрики доступны", slog.String("addr", *metricsAddr))
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			logger.Error("эндпоинт метрик остановлен", slog.Any("error", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("остановка по сигналу")
	engine.Shutdown()
}
