package stream

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"classification-pipeline/internal/events"
)

type Consumer struct {
	client *kgo.Client
	log    zerolog.Logger
}

func NewConsumer(client *kgo.Client, log zerolog.Logger) *Consumer {
	return &Consumer{client: client, log: log}
}

// Run polls until ctx is canceled or the client is closed, calling handle
// once per record in partition order. A record is committed when handle
// succeeds or returns a ValidationError (malformed input is rejected, not
// retried). Any other error stops the partition's batch and rewinds the
// partition to the failed record, so the next poll fetches it again.
func (c *Consumer) Run(ctx context.Context, handle func(ctx context.Context, record *kgo.Record) error) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("fetch error")
		})

		var toCommit []*kgo.Record
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			for _, record := range p.Records {
				err := handle(ctx, record)
				switch {
				case err == nil:
					toCommit = append(toCommit, record)
				case events.IsValidationError(err):
					c.log.Error().Err(err).
						Str("topic", record.Topic).
						Int64("offset", record.Offset).
						Msg("rejecting malformed record")
					toCommit = append(toCommit, record)
				default:
					c.log.Error().Err(err).
						Str("topic", record.Topic).
						Int64("offset", record.Offset).
						Msg("record processing failed, rewinding for redelivery")
					// The fetch position has already advanced past this
					// record; without a rewind, committing any later record
					// on the partition would permanently acknowledge it.
					c.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
						record.Topic: {record.Partition: {
							Epoch:  record.LeaderEpoch,
							Offset: record.Offset,
						}},
					})
					return
				}
			}
		})

		if len(toCommit) > 0 {
			if err := c.client.CommitRecords(ctx, toCommit...); err != nil {
				c.log.Error().Err(err).Msg("commit error")
			}
		}
	}
}
