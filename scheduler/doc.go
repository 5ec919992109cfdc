// Package scheduler runs the explicit distribution retry on a cron schedule.
//
// Gold never retries a FAILED delivery on its own. The RetrySweeper finds
// documents whose aggregate status is PARTIAL and resets their failed
// deliveries, as long as each one is still below the retry ceiling. The
// deliveries themselves run later on the Gold queue consumer.
package scheduler
