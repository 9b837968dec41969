package dag

import (
	"context"
	"io"

	"github.com/weirflow/weir/epoch"
	"github.com/weirflow/weir/recordstore"
	"github.com/weirflow/weir/types"
)

func testSchema() types.Schema {
	return types.Schema{
		Fields: []types.FieldDefinition{
			{Name: "id", Kind: types.KindInt},
		},
		PrimaryIndex: []int{0},
	}
}

type stubSourceFactory struct {
	ports []OutputPortDef
}

func (f *stubSourceFactory) OutputPorts() []OutputPortDef { return f.ports }

func (f *stubSourceFactory) OutputSchema(port types.PortHandle) (types.Schema, error) {
	return testSchema(), nil
}

func (f *stubSourceFactory) Build(map[types.PortHandle]types.Schema) (Source, error) {
	return stubSource{}, nil
}

type stubSource struct{}

func (stubSource) Start(context.Context, SourceForwarder, *types.OpIdentifier) error { return nil }

type stubProcessorFactory struct {
	inputs  []types.PortHandle
	outputs []OutputPortDef
}

func (f *stubProcessorFactory) InputPorts() []types.PortHandle { return f.inputs }
func (f *stubProcessorFactory) OutputPorts() []OutputPortDef   { return f.outputs }

func (f *stubProcessorFactory) OutputSchema(port types.PortHandle, inputSchemas map[types.PortHandle]types.Schema) (types.Schema, error) {
	if len(inputSchemas) < len(f.inputs) {
		return types.Schema{}, ErrSchemaNotInitialized
	}
	return inputSchemas[f.inputs[0]], nil
}

func (f *stubProcessorFactory) Build(in, out map[types.PortHandle]types.Schema, store *recordstore.Store, state []byte) (Processor, error) {
	return stubProcessor{}, nil
}

type stubProcessor struct{}

func (stubProcessor) Process(types.PortHandle, types.Operation, ProcessorForwarder) error {
	return nil
}
func (stubProcessor) Commit(*epoch.Epoch) error { return nil }
func (stubProcessor) Serialize(io.Writer) error { return nil }

type stubSinkFactory struct {
	inputs []types.PortHandle
}

func (f *stubSinkFactory) InputPorts() []types.PortHandle { return f.inputs }

func (f *stubSinkFactory) Build(map[types.PortHandle]types.Schema, []byte) (Sink, error) {
	return stubSink{}, nil
}

type stubSink struct{}

func (stubSink) Process(types.PortHandle, types.Operation) error { return nil }
func (stubSink) Commit(*epoch.Epoch) error { return nil }
func (stubSink) Serialize(io.Writer) error { return nil }
func (stubSink) OnSnapshottingStarted(string) error { return nil }
func (stubSink) OnSnapshottingDone(string, *types.OpIdentifier) error { return nil }
