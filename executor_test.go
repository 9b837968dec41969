package weir_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"github.com/weirflow/weir"
	"github.com/weirflow/weir/dag"
	"github.com/weirflow/weir/epoch"
	"github.com/weirflow/weir/recordstore"
	"github.com/weirflow/weir/types"
)

const port = types.DefaultPortHandle

func testSchema() types.Schema {
	return types.Schema{
		Fields:       []types.FieldDefinition{{Name: "id", Kind: types.KindInt}},
		PrimaryIndex: []int{0},
	}
}

// generatorFactory emits count sequential inserts, declaring a resume
// token every commitEvery records. With a checkpoint it resumes after
// the last committed id.
type generatorFactory struct {
	count       int
	commitEvery int
}

func (f *generatorFactory) OutputPorts() []dag.OutputPortDef {
	return []dag.OutputPortDef{dag.OutputPort(port)}
}

func (f *generatorFactory) OutputSchema(types.PortHandle) (types.Schema, error) {
	return testSchema(), nil
}

func (f *generatorFactory) Build(map[types.PortHandle]types.Schema) (dag.Source, error) {
	return &generator{count: f.count, commitEvery: f.commitEvery}, nil
}

type generator struct {
	count       int
	commitEvery int
}

func (g *generator) Start(ctx context.Context, fw dag.SourceForwarder, lastCheckpoint *types.OpIdentifier) error {
	start := uint64(0)
	if lastCheckpoint != nil {
		start = lastCheckpoint.SeqInTx
	}
	for i := start + 1; i <= uint64(g.count); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		op := types.Insert(types.NewRecord(types.IntField(int64(i))))
		if err := fw.Send(i, op, port); err != nil {
			return err
		}
		if g.commitEvery > 0 && i%uint64(g.commitEvery) == 0 {
			token := types.NewOpIdentifier(0, i)
			if err := fw.Commit(&token); err != nil {
				return err
			}
		}
	}
	return nil
}

// endlessFactory emits inserts until the pipeline stops it.
type endlessFactory struct{}

func (f *endlessFactory) OutputPorts() []dag.OutputPortDef {
	return []dag.OutputPortDef{dag.OutputPort(port)}
}

func (f *endlessFactory) OutputSchema(types.PortHandle) (types.Schema, error) {
	return testSchema(), nil
}

func (f *endlessFactory) Build(map[types.PortHandle]types.Schema) (dag.Source, error) {
	return &endless{}, nil
}

type endless struct{}

func (g *endless) Start(ctx context.Context, fw dag.SourceForwarder, _ *types.OpIdentifier) error {
	for i := uint64(1); ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		op := types.Insert(types.NewRecord(types.IntField(int64(i))))
		if err := fw.Send(i, op, port); err != nil {
			return err
		}
		time.Sleep(time.Millisecond)
	}
}

// passthroughFactory forwards every operation unchanged.
type passthroughFactory struct{}

func (f *passthroughFactory) InputPorts() []types.PortHandle { return []types.PortHandle{port} }

func (f *passthroughFactory) OutputPorts() []dag.OutputPortDef {
	return []dag.OutputPortDef{dag.OutputPort(port)}
}

func (f *passthroughFactory) OutputSchema(_ types.PortHandle, in map[types.PortHandle]types.Schema) (types.Schema, error) {
	schema, ok := in[port]
	if !ok {
		return types.Schema{}, dag.ErrSchemaNotInitialized
	}
	return schema, nil
}

func (f *passthroughFactory) Build(_, _ map[types.PortHandle]types.Schema, _ *recordstore.Store, _ []byte) (dag.Processor, error) {
	return &passthrough{}, nil
}

type passthrough struct{}

func (p *passthrough) Process(_ types.PortHandle, op types.Operation, fw dag.ProcessorForwarder) error {
	fw.Send(op, port)
	return nil
}

func (p *passthrough) Commit(*epoch.Epoch) error { return nil }
func (p *passthrough) Serialize(io.Writer) error { return nil }

// countingFactory builds a stateful processor that counts every
// operation it sees and checkpoints the count. The factory keeps the
// built instance so tests can inspect it after the run.
type countingFactory struct {
	built *counting
}

func (f *countingFactory) InputPorts() []types.PortHandle { return []types.PortHandle{port} }

func (f *countingFactory) OutputPorts() []dag.OutputPortDef {
	return []dag.OutputPortDef{dag.OutputPort(port)}
}

func (f *countingFactory) OutputSchema(_ types.PortHandle, in map[types.PortHandle]types.Schema) (types.Schema, error) {
	schema, ok := in[port]
	if !ok {
		return types.Schema{}, dag.ErrSchemaNotInitialized
	}
	return schema, nil
}

func (f *countingFactory) Build(_, _ map[types.PortHandle]types.Schema, _ *recordstore.Store, state []byte) (dag.Processor, error) {
	p := &counting{}
	if state != nil {
		if len(state) != 8 {
			return nil, fmt.Errorf("unexpected state length %d", len(state))
		}
		p.count = binary.BigEndian.Uint64(state)
	}
	f.built = p
	return p, nil
}

type counting struct {
	count uint64
}

func (p *counting) Process(_ types.PortHandle, op types.Operation, fw dag.ProcessorForwarder) error {
	p.count++
	fw.Send(op, port)
	return nil
}

func (p *counting) Commit(*epoch.Epoch) error { return nil }

func (p *counting) Serialize(w io.Writer) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], p.count)
	_, err := w.Write(buf[:])
	return err
}

// collectingSink records every operation and committed epoch id.
type collectingSink struct {
	mu      sync.Mutex
	ops     []int64
	commits []uint64
	fail    error
}

type collectingSinkFactory struct {
	sink *collectingSink
}

func (f *collectingSinkFactory) InputPorts() []types.PortHandle { return []types.PortHandle{port} }

func (f *collectingSinkFactory) Build(map[types.PortHandle]types.Schema, []byte) (dag.Sink, error) {
	return f.sink, nil
}

func (s *collectingSink) Process(_ types.PortHandle, op types.Operation) error {
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	s.ops = append(s.ops, op.New.Values[0].Int)
	s.mu.Unlock()
	return nil
}

func (s *collectingSink) Commit(e *epoch.Epoch) error {
	s.mu.Lock()
	s.commits = append(s.commits, e.ID)
	s.mu.Unlock()
	return nil
}

func (s *collectingSink) Serialize(io.Writer) error { return nil }
func (s *collectingSink) OnSnapshottingStarted(string) error { return nil }
func (s *collectingSink) OnSnapshottingDone(string, *types.OpIdentifier) error { return nil }

func (s *collectingSink) Ops() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.ops...)
}

func (s *collectingSink) Commits() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.commits...)
}

func linearPipeline(t *testing.T, source dag.SourceFactory, sink *collectingSink) *dag.Dag {
	t.Helper()
	d := dag.New()
	src := types.NewNodeHandle(0, "gen")
	proc := types.NewNodeHandle(0, "pass")
	snk := types.NewNodeHandle(0, "collect")
	assert.NoError(t, d.AddSource(src, source))
	assert.NoError(t, d.AddProcessor(proc, &passthroughFactory{}))
	assert.NoError(t, d.AddSink(snk, &collectingSinkFactory{sink: sink}))
	assert.NoError(t, d.Connect(dag.NewEndpoint(src, port), dag.NewEndpoint(proc, port)))
	assert.NoError(t, d.Connect(dag.NewEndpoint(proc, port), dag.NewEndpoint(snk, port)))
	return d
}

func TestPipelineDeliversOpsInOrder(t *testing.T) {
	sink := &collectingSink{}
	d := linearPipeline(t, &generatorFactory{count: 50, commitEvery: 10}, sink)

	ex, err := weir.NewDagExecutor(d, weir.WithCommitTimeout(10*time.Millisecond))
	assert.NoError(t, err)
	assert.NoError(t, ex.Run(context.Background()))
	assert.NoError(t, ex.Close())

	ops := sink.Ops()
	assert.Equal(t, 50, len(ops))
	for i, got := range ops {
		assert.Equal(t, int64(i+1), got)
	}

	commits := sink.Commits()
	assert.True(t, len(commits) >= 1)
	assert.Equal(t, uint64(1), commits[0])
	for i := 1; i < len(commits); i++ {
		assert.True(t, commits[i] > commits[i-1])
	}
}

func TestMaxOpsThresholdClosesEpochs(t *testing.T) {
	sink := &collectingSink{}
	d := linearPipeline(t, &generatorFactory{count: 20}, sink)

	// The timeout is far away; only the op threshold and termination
	// close epochs here.
	ex, err := weir.NewDagExecutor(d,
		weir.WithCommitTimeout(time.Hour),
		weir.WithMaxOpsBeforeCommit(10),
	)
	assert.NoError(t, err)
	assert.NoError(t, ex.Run(context.Background()))
	assert.NoError(t, ex.Close())

	assert.Equal(t, 20, len(sink.Ops()))

	// Two threshold closes plus the final epoch forced by termination.
	commits := sink.Commits()
	assert.Equal(t, 3, len(commits))
	assert.Equal(t, uint64(1), commits[0])
	assert.Equal(t, uint64(2), commits[1])
	assert.Equal(t, uint64(3), commits[2])
}

func TestGracefulStopDrainsAndCommits(t *testing.T) {
	sink := &collectingSink{}
	d := linearPipeline(t, &endlessFactory{}, sink)

	ex, err := weir.NewDagExecutor(d, weir.WithCommitTimeout(10*time.Millisecond))
	assert.NoError(t, err)

	ex.Start(context.Background())

	deadline := time.After(10 * time.Second)
	for len(sink.Ops()) < 10 {
		select {
		case <-deadline:
			t.Fatal("sink never received operations")
		case <-time.After(time.Millisecond):
		}
	}

	ex.Stop()
	assert.NoError(t, ex.Wait())
	assert.NoError(t, ex.Close())

	// Termination forces a final committed epoch.
	assert.True(t, len(sink.Commits()) >= 1)
}

func TestHardCancelAborts(t *testing.T) {
	sink := &collectingSink{}
	d := linearPipeline(t, &endlessFactory{}, sink)

	ex, err := weir.NewDagExecutor(d, weir.WithCommitTimeout(10*time.Millisecond))
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ex.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.Error(t, ex.Wait())
	assert.NoError(t, ex.Close())
}

func TestErrorThresholdAbortsPipeline(t *testing.T) {
	boom := errors.New("sink rejected record")
	sink := &collectingSink{fail: boom}
	d := linearPipeline(t, &generatorFactory{count: 10}, sink)

	ex, err := weir.NewDagExecutor(d,
		weir.WithCommitTimeout(10*time.Millisecond),
		weir.WithErrorThreshold(3),
	)
	assert.NoError(t, err)

	err = ex.Run(context.Background())
	assert.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.NoError(t, ex.Close())
}

func TestCheckpointRestartResumesSource(t *testing.T) {
	dir := t.TempDir()

	run := func(sink *collectingSink) {
		t.Helper()
		d := linearPipeline(t, &generatorFactory{count: 20, commitEvery: 5}, sink)
		ex, err := weir.NewDagExecutor(d,
			weir.WithCommitTimeout(10*time.Millisecond),
			weir.WithCheckpointDir(dir),
			weir.WithMaxPersistInterval(0),
		)
		assert.NoError(t, err)
		assert.NoError(t, ex.Run(context.Background()))
		assert.NoError(t, ex.Close())
	}

	first := &collectingSink{}
	run(first)
	assert.Equal(t, 20, len(first.Ops()))
	firstCommits := first.Commits()
	assert.True(t, len(firstCommits) >= 1)

	// The source committed through record 20, so a restart replays
	// nothing, and epoch ids continue past the first run's.
	second := &collectingSink{}
	run(second)
	assert.Equal(t, 0, len(second.Ops()))

	secondCommits := second.Commits()
	assert.True(t, len(secondCommits) >= 1)
	assert.True(t, secondCommits[0] > firstCommits[len(firstCommits)-1])
}

func TestCheckpointRestartRestoresProcessorState(t *testing.T) {
	dir := t.TempDir()

	run := func() *counting {
		t.Helper()
		d := dag.New()
		src := types.NewNodeHandle(0, "gen")
		proc := types.NewNodeHandle(0, "count")
		snk := types.NewNodeHandle(0, "collect")
		factory := &countingFactory{}
		assert.NoError(t, d.AddSource(src, &generatorFactory{count: 20, commitEvery: 5}))
		assert.NoError(t, d.AddProcessor(proc, factory))
		assert.NoError(t, d.AddSink(snk, &collectingSinkFactory{sink: &collectingSink{}}))
		assert.NoError(t, d.Connect(dag.NewEndpoint(src, port), dag.NewEndpoint(proc, port)))
		assert.NoError(t, d.Connect(dag.NewEndpoint(proc, port), dag.NewEndpoint(snk, port)))

		ex, err := weir.NewDagExecutor(d,
			weir.WithCommitTimeout(10*time.Millisecond),
			weir.WithCheckpointDir(dir),
			weir.WithMaxPersistInterval(0),
		)
		assert.NoError(t, err)
		assert.NoError(t, ex.Run(context.Background()))
		assert.NoError(t, ex.Close())
		return factory.built
	}

	first := run()
	assert.Equal(t, uint64(20), first.count)

	// The second run replays nothing, so the count can only be 20 if it
	// was restored from the checkpoint.
	second := run()
	assert.Equal(t, uint64(20), second.count)
}
