// Package job runs background tasks on River, a Postgres-native queue.
//
// A task is any type with a Name method and a Handle method; the payload
// type is inferred from Handle's second parameter and travels as JSON:
//
//	type CleanupBlob struct{ blobs storage.Storage }
//
//	func (t *CleanupBlob) Name() string { return "blob_cleanup" }
//	func (t *CleanupBlob) Handle(ctx context.Context, p CleanupPayload) error {
//		return t.blobs.Delete(ctx, p.Key)
//	}
//
// Periodic tasks add a Schedule method returning a five-field cron
// expression and take no payload:
//
//	func (t *SweepTrash) Schedule() string { return "0 3 * * *" }
//	func (t *SweepTrash) Handle(ctx context.Context) error { ... }
//
// [Manager] owns the River client and workers; [Enqueuer] only inserts jobs
// for processes that do not run workers. [Local] executes the same task
// registry in-process and backs deployments without Postgres as well as
// tests. All three satisfy [Dispatcher].
//
// River keeps its own tables; call [Migrate] once before starting a manager.
package job
