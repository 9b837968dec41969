// Package kafka provides a source connector that ingests a Kafka topic
// as a stream of insert operations.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/weirflow/weir/dag"
	"github.com/weirflow/weir/types"
)

// Schema returns the schema every Kafka source emits: the raw record
// plus its position in the log.
func Schema() types.Schema {
	return types.Schema{
		Fields: []types.FieldDefinition{
			{Name: "key", Kind: types.KindBinary, Nullable: true},
			{Name: "value", Kind: types.KindBinary, Nullable: true},
			{Name: "partition", Kind: types.KindInt},
			{Name: "offset", Kind: types.KindInt},
			{Name: "timestamp", Kind: types.KindTimestamp},
		},
		PrimaryIndex: []int{2, 3},
	}
}

// SourceFactory builds Kafka sources for one topic.
type SourceFactory struct {
	brokers []string
	topic   string
	port    types.PortHandle
}

func NewSourceFactory(brokers []string, topic string, port types.PortHandle) *SourceFactory {
	return &SourceFactory{brokers: brokers, topic: topic, port: port}
}

func (f *SourceFactory) OutputPorts() []dag.OutputPortDef {
	return []dag.OutputPortDef{dag.OutputPort(f.port)}
}

func (f *SourceFactory) OutputSchema(port types.PortHandle) (types.Schema, error) {
	if port != f.port {
		return types.Schema{}, fmt.Errorf("%w: %d", dag.ErrInvalidPortHandle, port)
	}
	return Schema(), nil
}

func (f *SourceFactory) Build(outputSchemas map[types.PortHandle]types.Schema) (dag.Source, error) {
	return &source{brokers: f.brokers, topic: f.topic, port: f.port}, nil
}

// source consumes one topic. The resume token tracks a single partition
// (tx id = partition, seq = offset); restartable pipelines should use
// one source per partition.
type source struct {
	brokers []string
	topic   string
	port    types.PortHandle
}

func (s *source) Start(ctx context.Context, fw dag.SourceForwarder, lastCheckpoint *types.OpIdentifier) error {
	opts := []kgo.Opt{
		kgo.SeedBrokers(s.brokers...),
	}
	if lastCheckpoint != nil {
		opts = append(opts, kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			s.topic: {int32(lastCheckpoint.TxID): kgo.NewOffset().At(int64(lastCheckpoint.SeqInTx) + 1)},
		}))
	} else {
		opts = append(opts, kgo.ConsumeTopics(s.topic))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("failed to create kafka client: %w", err)
	}
	defer client.Close()

	if err := fw.UpdateSchema(Schema(), s.port); err != nil {
		return err
	}

	var seq uint64
	for {
		fetches, pollErr := poll(ctx, client)
		if pollErr != nil {
			return pollErr
		}

		var token *types.OpIdentifier
		for it := fetches.RecordIter(); !it.Done(); {
			r := it.Next()
			record := types.NewRecord(
				types.BinaryField(r.Key),
				types.BinaryField(r.Value),
				types.IntField(int64(r.Partition)),
				types.IntField(r.Offset),
				types.TimestampField(r.Timestamp),
			)
			seq++
			if err := fw.Send(seq, types.Insert(record), s.port); err != nil {
				return err
			}
			token = &types.OpIdentifier{TxID: uint64(r.Partition), SeqInTx: uint64(r.Offset)}
		}
		if token != nil {
			if err := fw.Commit(token); err != nil {
				return err
			}
		}
	}
}

func poll(ctx context.Context, client *kgo.Client) (kgo.Fetches, error) {
	fetches := client.PollFetches(ctx)
	if err := ctx.Err(); err != nil {
		return fetches, err
	}
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.Canceled) {
			return fetches, fe.Err
		}
		return fetches, fmt.Errorf("failed to fetch from %s/%d: %w", fe.Topic, fe.Partition, fe.Err)
	}
	return fetches, nil
}
