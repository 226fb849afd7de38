package ports

import "context"

// Publisher fans invalidation events out to the other gateway instances.
type Publisher interface {
	PublishRaw(ctx context.Context, topicArn string, payload []byte) error
}
