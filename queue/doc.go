// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package queue provides durable, at-least-once job queues for the pipeline
// stages.
//
// A job carries a single document id. Each message records its attempt
// options ({attempts, backoff: {type, delayMs}}) so a failed handler can be
// rescheduled with exponential backoff without consulting the producer.
//
// Two backends are provided:
//   - BadgerQueue stores messages in the shared BadgerDB under "queue:" keys
//   - RedisQueue stores messages in a sorted set and hash per queue
//
// A Consumer polls one queue and runs its handler on an ants worker pool,
// bounded to a fixed concurrency when configured. A message that is received
// but never acknowledged becomes visible again after the visibility timeout.
//
// Example:
//
//	q, _ := queue.NewBadgerQueue(backend.DB(), "silver")
//	c, _ := queue.NewConsumer(q, handler, queue.WithConcurrency(4))
//	go c.Run(ctx)
//	q.Enqueue(ctx, queue.Job{DocumentID: id}, queue.DefaultOptions())
package queue
