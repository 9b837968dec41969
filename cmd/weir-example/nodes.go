package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/weirflow/weir/dag"
	"github.com/weirflow/weir/epoch"
	"github.com/weirflow/weir/recordstore"
	"github.com/weirflow/weir/types"
)

func generatorSchema() types.Schema {
	return types.Schema{
		Fields: []types.FieldDefinition{
			{Name: "id", Kind: types.KindInt},
			{Name: "name", Kind: types.KindString},
		},
		PrimaryIndex: []int{0},
	}
}

// generatorFactory builds a source that emits count synthetic inserts
// and stops. With checkpointing enabled a restart resumes after the last
// committed id.
type generatorFactory struct {
	count int
}

func (f *generatorFactory) OutputPorts() []dag.OutputPortDef {
	return []dag.OutputPortDef{dag.OutputPort(types.DefaultPortHandle)}
}

func (f *generatorFactory) OutputSchema(port types.PortHandle) (types.Schema, error) {
	if port != types.DefaultPortHandle {
		return types.Schema{}, fmt.Errorf("%w: %d", dag.ErrInvalidPortHandle, port)
	}
	return generatorSchema(), nil
}

func (f *generatorFactory) Build(outputSchemas map[types.PortHandle]types.Schema) (dag.Source, error) {
	return &generator{count: f.count}, nil
}

type generator struct {
	count int
}

func (g *generator) Start(ctx context.Context, fw dag.SourceForwarder, lastCheckpoint *types.OpIdentifier) error {
	start := uint64(0)
	if lastCheckpoint != nil {
		start = lastCheckpoint.SeqInTx
	}
	for seq := start + 1; seq <= uint64(g.count); seq++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		record := types.NewRecord(
			types.IntField(int64(seq)),
			types.StringField(fmt.Sprintf("record-%d", seq)),
		)
		if err := fw.Send(seq, types.Insert(record), types.DefaultPortHandle); err != nil {
			return err
		}
		if seq%10 == 0 {
			if err := fw.Commit(&types.OpIdentifier{TxID: 0, SeqInTx: seq}); err != nil {
				return err
			}
		}
	}
	return nil
}

// filterFactory builds a processor that drops records with odd ids.
type filterFactory struct{}

func (f *filterFactory) InputPorts() []types.PortHandle {
	return []types.PortHandle{types.DefaultPortHandle}
}

func (f *filterFactory) OutputPorts() []dag.OutputPortDef {
	return []dag.OutputPortDef{dag.OutputPort(types.DefaultPortHandle)}
}

func (f *filterFactory) OutputSchema(port types.PortHandle, inputSchemas map[types.PortHandle]types.Schema) (types.Schema, error) {
	in, ok := inputSchemas[types.DefaultPortHandle]
	if !ok {
		return types.Schema{}, dag.ErrSchemaNotInitialized
	}
	return in, nil
}

func (f *filterFactory) Build(inputSchemas, outputSchemas map[types.PortHandle]types.Schema, store *recordstore.Store, state []byte) (dag.Processor, error) {
	return &filter{}, nil
}

type filter struct{}

func (p *filter) Process(fromPort types.PortHandle, op types.Operation, fw dag.ProcessorForwarder) error {
	if op.Kind == types.OpInsert && op.New.Values[0].Int%2 != 0 {
		return nil
	}
	fw.Send(op, types.DefaultPortHandle)
	return nil
}

func (p *filter) Commit(e *epoch.Epoch) error { return nil }

func (p *filter) Serialize(w io.Writer) error { return nil }

// logSinkFactory builds a sink that logs every operation it receives.
type logSinkFactory struct {
	log *slog.Logger
}

func (f *logSinkFactory) InputPorts() []types.PortHandle {
	return []types.PortHandle{types.DefaultPortHandle}
}

func (f *logSinkFactory) Build(inputSchemas map[types.PortHandle]types.Schema, state []byte) (dag.Sink, error) {
	return &logSink{log: f.log}, nil
}

type logSink struct {
	log *slog.Logger
}

func (s *logSink) Process(fromPort types.PortHandle, op types.Operation) error {
	s.log.Info("received operation", "kind", op.Kind, "record", op.New.Values)
	return nil
}

func (s *logSink) Commit(e *epoch.Epoch) error {
	s.log.Info("epoch committed", "epoch", e.ID)
	return nil
}

func (s *logSink) Serialize(w io.Writer) error { return nil }

func (s *logSink) OnSnapshottingStarted(connection string) error {
	s.log.Info("snapshotting started", "connection", connection)
	return nil
}

func (s *logSink) OnSnapshottingDone(connection string, token *types.OpIdentifier) error {
	s.log.Info("snapshotting done", "connection", connection, "token", token)
	return nil
}
