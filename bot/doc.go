// Package bot routes inbound updates to features.
//
// A Dispatcher reads updates from a platform.Source, drops redelivered
// update IDs, and offers each update to its handlers in registration order
// until one consumes it. Updates are handled concurrently up to a worker
// limit; a panicking handler is recovered and reported as a PANIC error.
//
//	d, err := bot.New(bot.DefaultConfig(), []features.Handler{quote, image, greeting},
//		bot.WithLogger(logger), bot.WithObserver(observer))
//	go source.Run(ctx)
//	err = d.Run(ctx, source.Updates())
package bot
