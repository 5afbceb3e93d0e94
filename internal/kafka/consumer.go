package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Handler returns nil only when the message is fully processed and its
// offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	commit  func(ctx context.Context, msgs ...kafka.Message) error
	workers int
	log     logrus.FieldLogger
}

func NewConsumer(brokers []string, group, topic string, workers int, log logrus.FieldLogger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:       r,
		commit:  r.CommitMessages,
		workers: workers,
		log:     log.WithFields(logrus.Fields{"group": group, "topic": topic}),
	}
}

// Start fetches until ctx is cancelled. A partition is always handled by the
// same worker, in offset order. Kafka keeps one committed offset per
// partition, so once a message fails its partition is no longer committed
// by this process: the failed message and everything after it are fetched
// again after a restart or rebalance.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	lanes := make([]chan kafka.Message, c.workers)
	errs := make(chan error, c.workers)

	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			c.work(ctx, in, h, errs)
		}(lanes[i])
	}
	stop := func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case lanes[lane(m.Partition, c.workers)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}

		select {
		case e := <-errs:
			c.log.WithError(e).Warn("consumer worker error")
			time.Sleep(200 * time.Millisecond)
		default:
		}
	}
}

func lane(partition, workers int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % workers
}

// work handles one lane. Messages on a held partition are still handled so
// side effects are not delayed, but their offsets are not committed.
func (c *Consumer) work(ctx context.Context, in <-chan kafka.Message, h Handler, errs chan<- error) {
	held := map[int]bool{}
	for m := range in {
		if err := h(ctx, m); err != nil {
			if !held[m.Partition] {
				held[m.Partition] = true
				c.log.WithFields(logrus.Fields{"partition": m.Partition, "offset": m.Offset}).
					Warn("handler failed, partition commits held until restart")
			}
			c.report(errs, err)
			continue
		}
		if held[m.Partition] {
			continue
		}
		if err := c.commit(ctx, m); err != nil {
			c.report(errs, err)
		}
	}
}

func (c *Consumer) report(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
		c.log.WithError(err).Warn("consumer worker error")
	}
}
