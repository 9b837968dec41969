package dag

import (
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/weirflow/weir/types"
)

func TestPrepareSchemas(t *testing.T) {
	d := linearDag(t)
	assert.NoError(t, d.Connect(NewEndpoint(src, port), NewEndpoint(proc, port)))
	assert.NoError(t, d.Connect(NewEndpoint(proc, port), NewEndpoint(snk, port)))

	schemas, err := PrepareSchemas(d)
	assert.NoError(t, err)

	want := testSchema()
	assert.True(t, want.Equal(schemas.OutputSchemas(src)[port]))
	assert.True(t, want.Equal(schemas.InputSchemas(proc)[port]))
	assert.True(t, want.Equal(schemas.OutputSchemas(proc)[port]))
	assert.True(t, want.Equal(schemas.InputSchemas(snk)[port]))
}

func TestPrepareSchemasMissingInput(t *testing.T) {
	d := linearDag(t)
	assert.NoError(t, d.Connect(NewEndpoint(src, port), NewEndpoint(proc, port)))
	// Sink input left unconnected.
	_, err := PrepareSchemas(d)
	assert.Error(t, err)
}

func TestPrepareSchemasDiamondJoin(t *testing.T) {
	d := New()
	join := types.NewNodeHandle(0, "join")

	assert.NoError(t, d.AddSource(src, &stubSourceFactory{
		ports: []OutputPortDef{OutputPort(1), OutputPort(2)},
	}))
	assert.NoError(t, d.AddProcessor(join, &stubProcessorFactory{
		inputs:  []types.PortHandle{1, 2},
		outputs: []OutputPortDef{OutputPort(port)},
	}))
	assert.NoError(t, d.AddSink(snk, &stubSinkFactory{inputs: []types.PortHandle{port}}))
	assert.NoError(t, d.Connect(NewEndpoint(src, 1), NewEndpoint(join, 1)))
	assert.NoError(t, d.Connect(NewEndpoint(src, 2), NewEndpoint(join, 2)))
	assert.NoError(t, d.Connect(NewEndpoint(join, port), NewEndpoint(snk, port)))

	schemas, err := PrepareSchemas(d)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(schemas.InputSchemas(join)))
	assert.Equal(t, 1, len(schemas.OutputSchemas(join)))
}
