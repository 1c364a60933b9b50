package client

import (
	"context"
	"io"
	"sync"

	"github.com/mailbridge/mailbridge/interfaces"
	"github.com/mailbridge/mailbridge/internal/models"
)

type iteratorResult struct {
	message *models.Message
	err     error
}

// messageIterator resolves search hits into full messages lazily. The
// producer goroutine starts on the first Next call and the channel
// capacity of one bounds read-ahead to a single fetched message.
type messageIterator struct {
	ids     interfaces.IDIterator
	resolve func(ctx context.Context, id string) (*models.Message, error)

	once    sync.Once
	results chan iteratorResult
	cancel  context.CancelFunc
}

func newMessageIterator(ids interfaces.IDIterator, resolve func(ctx context.Context, id string) (*models.Message, error)) interfaces.MessageIterator {
	return &messageIterator{
		ids:     ids,
		resolve: resolve,
		results: make(chan iteratorResult, 1),
	}
}

func (it *messageIterator) start() {
	ctx, cancel := context.WithCancel(context.Background())
	it.cancel = cancel

	go func() {
		defer close(it.results)
		defer it.ids.Close()

		for {
			id, err := it.ids.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case it.results <- iteratorResult{err: err}:
				case <-ctx.Done():
				}
				return
			}

			m, err := it.resolve(ctx, id)
			select {
			case it.results <- iteratorResult{message: m, err: err}:
				if err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (it *messageIterator) Next(ctx context.Context) (*models.Message, error) {
	it.once.Do(it.start)

	select {
	case res, ok := <-it.results:
		if !ok {
			return nil, io.EOF
		}
		return res.message, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (it *messageIterator) Close() error {
	it.once.Do(it.start)
	it.cancel()
	return nil
}
