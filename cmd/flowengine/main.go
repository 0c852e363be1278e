package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bonitasoft/bonita-engine-sub045/internal/config"
	"github.com/bonitasoft/bonita-engine-sub045/internal/log"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/engine"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/script/js"
	"github.com/bonitasoft/bonita-engine-sub045/pkg/storage/inmemory"
)

func main() {
	conf := config.InitConfig()
	log.Init(conf.Log.Level)

	appContext, ctxCancel := context.WithCancel(context.Background())
	defer ctxCancel()

	store := inmemory.New()
	flowEngine := engine.NewEngine(
		engine.EngineWithName(conf.Name),
		engine.EngineWithStorage(store),
		engine.EngineWithScriptRuntime(js.NewJsRuntime(appContext,
			conf.Engine.ScriptPool.MaxRunners, conf.Engine.ScriptPool.MinRunners)),
	)

	definitions, err := filepath.Glob(filepath.Join(conf.Engine.DefinitionsDir, "*.yaml"))
	if err != nil {
		log.Error("Failed to scan definitions directory %s: %s", conf.Engine.DefinitionsDir, err)
		os.Exit(1)
	}
	for _, file := range definitions {
		definition, err := flowEngine.DeployDefinitionFile(appContext, file)
		if err != nil {
			log.Error("Failed to deploy %s: %s", file, err)
			os.Exit(1)
		}
		log.Infof(appContext, "Deployed %s version %d from %s", definition.Name, definition.Version, file)
	}

	if conf.Engine.StartProcess != "" {
		instance, err := flowEngine.CreateAndRunInstanceByName(appContext, conf.Engine.StartProcess, nil)
		if err != nil {
			log.Error("Failed to start process %s: %s", conf.Engine.StartProcess, err)
			os.Exit(1)
		}
		log.Infof(appContext, "Started process instance %d, state %s", instance.Key, instance.State)
	}

	appStop := make(chan os.Signal, 2)
	signal.Notify(appStop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-appStop
	log.Infof(appContext, "Received %s. Shutting down", sig.String())
}
