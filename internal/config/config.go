package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Name   string `yaml:"name" json:"name" env:"ENGINE_NAME" env-default:"flow-engine"`
	Log    Log    `yaml:"log" json:"log"`
	Engine Engine `yaml:"engine" json:"engine"`
}

type Log struct {
	Level string `yaml:"level" json:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Engine struct {
	// DefinitionsDir is scanned for *.yaml process definitions on startup.
	DefinitionsDir string `yaml:"definitionsDir" json:"definitionsDir" env:"ENGINE_DEFINITIONS_DIR" env-default:"definitions"`
	// StartProcess names a deployed process to start one instance of after
	// deployment; empty starts nothing.
	StartProcess string     `yaml:"startProcess" json:"startProcess" env:"ENGINE_START_PROCESS"`
	ScriptPool   ScriptPool `yaml:"scriptPool" json:"scriptPool"`
}

type ScriptPool struct {
	MaxRunners int `yaml:"maxRunners" json:"maxRunners" env:"ENGINE_SCRIPT_MAX_RUNNERS" env-default:"4"`
	MinRunners int `yaml:"minRunners" json:"minRunners" env:"ENGINE_SCRIPT_MIN_RUNNERS" env-default:"1"`
}

func InitConfig() Config {
	c := Config{}
	var fileName string
	confFile := os.Getenv("CONFIG_FILE")
	if confFile == "" {
		wd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		fileName = fmt.Sprintf("%s/conf.yaml", wd)
	} else {
		fileName = confFile
	}
	var err error
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(&c)
		fmt.Printf("Configuration file %s not found. Reading config from ENV.\n", fileName)
	} else {
		err = cleanenv.ReadConfig(fileName, &c)
	}
	if err != nil {
		fmt.Printf("Error occurred while reading the configuration: %s\n", err)
		panic(err)
	}
	return c
}
