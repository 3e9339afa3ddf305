package job

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("job not found")

// Store is the durable record store for jobs. Logs and chat messages are
// append-only; Update never touches them. Deleting a job drops its messages.
type Store interface {
	Create(ctx context.Context, j Job) (Job, error)
	GetByID(ctx context.Context, id string) (Job, error)
	List(ctx context.Context) ([]Job, error)
	Update(ctx context.Context, id string, upd Update) (Job, error)
	AppendLog(ctx context.Context, id string, entry LogEntry) error
	AppendMessage(ctx context.Context, id string, msg Message) (Message, error)
	ListMessages(ctx context.Context, id string) ([]Message, error)
	ClearMessages(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Close() error
}
