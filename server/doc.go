// Package server exposes the pipeline over an HTTP admin API.
//
// Routes live under /api/v1:
//
//	POST   /documents                    multipart upload (file, category_id, mime_type)
//	GET    /documents                    list (category_id, gold_status, limit)
//	GET    /documents/:id                one document with its stage states
//	DELETE /documents/:id                soft delete
//	GET    /documents/:id/chunks         Silver chunks
//	GET    /documents/:id/summary        per-target delivery counts
//	POST   /documents/:id/stages/:stage  enqueue a stage job
//	POST   /documents/:id/retry          reset FAILED Gold deliveries and queue Gold
//	POST   /search                       semantic search
//	GET    /categories                   list categories
//	PUT    /categories/:id               create or replace a category
//	GET    /queues                       pending and dead job counts
//	GET    /health                       liveness and target availability
package server
