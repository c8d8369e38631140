package pipeline

import (
	"fmt"

	"github.com/openelr/relay/internal/runtime"
)

// Register attaches one handler per stage to the service router. Each stage
// consumes its own queue and publishes to the queue of the stage after it;
// the send queue publishes to itself so resend compensation loops back in.
func Register(svc *runtime.Service, c *Consumer) error {
	if c.Publisher == nil {
		c.Publisher = svc.Publisher()
	}
	for _, stage := range Stages() {
		consumeQueue := stage.Action().QueueName()
		publishQueue := publishQueueFor(stage)
		err := runtime.RegisterMessageHandler(svc, runtime.MessageHandlerRegistration{
			Name:         string(stage) + "-stage",
			ConsumeQueue: consumeQueue,
			PublishQueue: publishQueue,
			Handler:      c.Handler(stage, publishQueue),
		})
		if err != nil {
			return fmt.Errorf("register %s stage: %w", stage, err)
		}
	}
	return nil
}

func publishQueueFor(stage Stage) string {
	if stage.Terminal() {
		return stage.Action().QueueName()
	}
	return stage.Next().Action().QueueName()
}
