// weir-example runs a small change-data pipeline: a generator (or Kafka
// topic) feeding a filter processor feeding a logging sink, with
// epoch-based commits and optional checkpointing.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	flag "github.com/spf13/pflag"

	"github.com/weirflow/weir"
	"github.com/weirflow/weir/connector/kafka"
	"github.com/weirflow/weir/dag"
	"github.com/weirflow/weir/types"
)

var ko = koanf.New(".")

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := initConfig(); err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	d := dag.New()
	source := types.NewNodeHandle(0, "source")
	filter := types.NewNodeHandle(0, "filter")
	sink := types.NewNodeHandle(0, "sink")

	var err error
	if brokers := ko.Strings("kafka.brokers"); len(brokers) > 0 {
		err = d.AddSource(source, kafka.NewSourceFactory(brokers, ko.String("kafka.topic"), types.DefaultPortHandle))
	} else {
		err = d.AddSource(source, &generatorFactory{count: ko.Int("records")})
	}
	if err != nil {
		log.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	must(log, d.AddProcessor(filter, &filterFactory{}))
	must(log, d.AddSink(sink, &logSinkFactory{log: log}))
	must(log, d.Connect(dag.NewEndpoint(source, types.DefaultPortHandle), dag.NewEndpoint(filter, types.DefaultPortHandle)))
	must(log, d.Connect(dag.NewEndpoint(filter, types.DefaultPortHandle), dag.NewEndpoint(sink, types.DefaultPortHandle)))

	opts := []weir.Option{
		weir.WithLog(log),
		weir.WithCommitTimeout(ko.Duration("commit-timeout")),
	}
	if dir := ko.String("checkpoint-dir"); dir != "" {
		opts = append(opts, weir.WithCheckpointDir(dir))
	}

	executor, err := weir.NewDagExecutor(d, opts...)
	if err != nil {
		log.Error("failed to build executor", "error", err)
		os.Exit(1)
	}
	defer executor.Close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("shutting down")
		executor.Stop()
	}()

	executor.Start(context.Background())
	if err := executor.Wait(); err != nil {
		log.Error("pipeline failed", "error", err)
		os.Exit(1)
	}
	log.Info("pipeline finished")
}

func must(log *slog.Logger, err error) {
	if err != nil {
		log.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
}

func initConfig() error {
	f := flag.NewFlagSet("weir-example", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}
	f.String("config", "", "path to a yaml config file")
	f.Int("records", 100, "number of records the generator emits")
	f.Duration("commit-timeout", 50*time.Millisecond, "epoch commit timeout")
	f.String("checkpoint-dir", "", "enable checkpointing under this directory")
	f.StringSlice("kafka.brokers", nil, "kafka brokers; enables the kafka source")
	f.String("kafka.topic", "", "kafka topic to ingest")
	if err := f.Parse(os.Args[1:]); err != nil {
		return err
	}

	if path, _ := f.GetString("config"); path != "" {
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return fmt.Errorf("unsupported config file %q, want yaml", path)
		}
		if err := ko.Load(file.Provider(path), yaml.Parser()); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return ko.Load(posflag.Provider(f, ".", ko), nil)
}
