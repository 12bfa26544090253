// Package lib provides a Go SDK to schedule media uploads programmatically.
//
// This package embeds the postsched engine in an application without shelling
// out to the postsched CLI binary. Tasks are kept in memory, every finished
// upload is recorded in the result log of the data directory.
//
// # Quick Start
//
// Create a client, start it, and schedule uploads:
//
//	client, err := lib.New(ctx, lib.Config{APIKey: os.Getenv("POSTSCHED_API_KEY")})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	id, err := client.Submit(ctx, lib.TaskDescriptor{
//	    MediaRef:    "/videos/launch.mp4",
//	    Caption:     "We are live!",
//	    Owner:       "my-brand",
//	    Platforms:   []string{"tiktok", "instagram"},
//	    ScheduledAt: time.Now().Add(2 * time.Hour),
//	})
//
// # Status Events
//
// Every state change of a task (queued, firing, progress, succeeded, failed,
// cancelled) is published to the subscribers. Slow subscribers lose the oldest
// events, they never block the engine:
//
//	events, cancel := client.Subscribe()
//	defer cancel()
//	for ev := range events {
//	    fmt.Printf("%s %s %s\n", ev.TaskID, ev.Phase, ev.Message)
//	}
//
// # Shutdown
//
// [Client.Shutdown] stops firing new tasks and waits for the in-flight uploads.
// Pending tasks are not persisted and are lost:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
//	defer cancel()
//	client.Shutdown(ctx)
//
// # Error Handling
//
// Methods return errors that can be inspected with [errors.Is]:
//
//   - [ErrNotFound]: The task does not exist.
//   - [ErrNotValid]: Invalid input, like a task without media or owner.
//
// Failed uploads are not errors, they end as [TaskStatusFailed] tasks with the
// failure detail in [Task.LastError].
//
// # Testing
//
// Use [Config].DryRun and a temporary data directory to run the engine without
// calling the upload API:
//
//	client, _ := lib.New(ctx, lib.Config{
//	    DataDir: t.TempDir(),
//	    DryRun:  true,
//	})
//	defer client.Close()
//
// # Thread Safety
//
// A [Client] is safe for concurrent use from multiple goroutines.
package lib
