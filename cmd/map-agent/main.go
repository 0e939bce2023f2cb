// Package main map-agent 服务入口
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"map-agent/internal/apiserver/conversation"
	"map-agent/internal/apiserver/server"
	"map-agent/internal/config"
	"map-agent/internal/geoprocessing"
	"map-agent/internal/ingest"
	"map-agent/internal/llm"
	"map-agent/internal/mapstate"
	"map-agent/internal/notify"
	"map-agent/internal/orchestrator"
	"map-agent/internal/osm"
	"map-agent/internal/shared/infra"
	"map-agent/internal/tools"
	"map-agent/pkg/logging"
)

const metricsNamespace = "map_agent"

func main() {
	configDirFlag := flag.String("config", "", "配置文件目录（或 YAML 文件路径）")
	flag.Parse()
	if *configDirFlag != "" {
		config.SetConfigDir(*configDirFlag)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logCfg := cfg.Log
	logCfg.Component = "map-agent"
	logger := logging.New(logCfg)

	log.Printf("Starting map-agent... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	systemPrompt, err := cfg.SystemPrompt()
	if err != nil {
		log.Fatalf("Failed to load system prompt: %v", err)
	}

	algorithms, err := geoprocessing.Select(cfg.Geoprocessing.Algorithms)
	if err != nil {
		log.Fatalf("Invalid geoprocessing config: %v", err)
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	infrastructure, err := infra.Open(startCtx, cfg)
	startCancel()
	if err != nil {
		log.Fatalf("Failed to initialize infrastructure: %v", err)
	}
	defer func() {
		if err := infrastructure.Close(); err != nil {
			log.Printf("Infrastructure close error: %v", err)
		}
	}()

	store := infrastructure.Storage

	// 每个实例使用独立的注册表，/metrics 只导出本服务的指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	notifier := notify.New(infrastructure.EventBus, logger.Named("notify"))
	ingester := ingest.New(store, infrastructure.Objects, logger.Named("ingest"))

	bridge := geoprocessing.NewBridge(
		geoprocessing.NewClient(cfg.Geoprocessing.BaseURL, cfg.Geoprocessing.Timeout),
		store,
		infrastructure.Objects,
		ingester,
		cfg.MinIO.PresignTTL,
		logger.Named("geoprocessing"),
	)

	// OSM 工具仅在开启时出现在目录中
	var osmImporter tools.OSMImporter
	if cfg.OpenStreetMap.Enabled {
		osmImporter = osm.NewImporter(cfg.OpenStreetMap.OverpassURL, cfg.OpenStreetMap.Timeout, ingester, logger.Named("osm"))
	}

	// 工具目录顺序：地图操作 → PostGIS → OSM → 地理处理
	registry := tools.NewRegistry(
		tools.NewMapTools(store, notifier),
		tools.NewPostGISTool(store, tools.PgxQuerier{}, notifier),
		tools.NewOSMTools(osmImporter, notifier),
		geoprocessing.NewProvider(algorithms, bridge, notifier),
	)

	orch := orchestrator.New(orchestrator.Deps{
		Messages:  store,
		Lock:      infrastructure.Cache,
		Cancel:    infrastructure.Cache,
		Registry:  registry,
		Model:     llm.NewOpenAI(cfg.LLM),
		Notifier:  notifier,
		Describer: mapstate.NewDescriber(store),
		Metrics:   orchestrator.NewMetrics(metricsNamespace, reg),
		Logger:    logger.Named("orchestrator"),
	}, orchestrator.Options{
		MaxRounds:    cfg.Conversation.MaxRounds,
		LockTTL:      cfg.Conversation.LockTTL,
		CancelTTL:    cfg.Conversation.CancelTTL,
		ModelTimeout: cfg.LLM.Timeout,
		SystemPrompt: systemPrompt,
	})

	h := server.NewHandler(
		conversation.NewHandler(orch, store, ingester),
		infrastructure.EventBus,
		server.NewMetrics(metricsNamespace, reg),
		reg,
		cfg.Server.AllowedOrigins,
	)

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     h.Router(),
		ReadTimeout: 15 * time.Second,
		// 上传大文件与 WebSocket 长连接不设置写超时
		IdleTimeout: 60 * time.Second,
	}

	// 优雅关闭：先停止接收请求，再取消运行中的编排循环并等待锁释放
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if err := orch.Shutdown(ctx); err != nil {
			log.Printf("Orchestrator shutdown error: %v", err)
		}
	}()

	log.Printf("map-agent listening on :%s (tools: %d geoprocessing algorithms)", cfg.Server.Port, len(algorithms))
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	<-shutdownDone

	fmt.Println("Server stopped")
}
