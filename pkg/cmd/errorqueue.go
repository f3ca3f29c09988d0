package cmd

import (
	"context"
	"strconv"

	"github.com/construkt/approvalflow/pkg/errorqueue"
)

// NewErrorQueue selects the operator error queue backend. A Redis address
// makes halted instances survive restarts; without one the queue lives in
// process memory.
func NewErrorQueue(ctx context.Context, redisAddr, redisPassword, redisDB string) (errorqueue.Queue, error) {
	if redisAddr == "" {
		return errorqueue.NewMemoryQueue(), nil
	}

	db := 0

	if redisDB != "" {
		parsed, err := strconv.Atoi(redisDB)
		if err != nil {
			return nil, err
		}

		db = parsed
	}

	return errorqueue.NewRedisQueue(ctx, redisAddr, redisPassword, db)
}
