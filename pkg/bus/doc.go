// Package bus provides durable, at-least-once message delivery between
// the threshold evaluator and the enforcement workflows.
//
// The evaluator must not block on enforcement, and an enforcement
// request must survive a crash between detection and execution. The
// queue decouples the two: the evaluator enqueues a typed message and
// moves on; a consumer picks it up, possibly after a restart.
//
// # Delivery semantics
//
// Delivery is at-least-once. Receive claims the oldest visible message
// and hides it for the visibility timeout; only Ack removes it. A
// consumer that crashes mid-handling simply lets the timeout lapse and
// the message is redelivered with an incremented attempt count. All
// downstream handlers are therefore idempotent.
//
// # Usage
//
//	queue, err := bus.NewSQLiteQueue(&bus.SQLiteQueueConfig{Path: "data/queue.db"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	consumer := bus.NewConsumer(queue, bus.ConsumerConfig{})
//	consumer.Handle(bus.TypeSuspensionRequired, func(ctx context.Context, env bus.Envelope) error {
//	    msg, err := bus.DecodeSuspensionRequired(env)
//	    if err != nil {
//	        return err
//	    }
//	    return workflows.Suspend(ctx, msg)
//	})
//	go consumer.Run(ctx)
package bus
