// Package client provides a Go client for the dispatcher control API.
//
// Basic usage:
//
//	c := client.New("http://localhost:8080", client.WithAPIKey("key"))
//
//	uuid, err := c.Submit(ctx, client.TaskSubmission{
//		Task:    "sleep",
//		Kwargs:  map[string]any{"duration": 1.5},
//		Timeout: 30,
//	})
//
//	status, err := c.PoolStatus(ctx)
//
//	canceled, err := c.Cancel(ctx, uuid)
//
// Duplicate suppression rides on the submission itself:
//
//	c.Submit(ctx, client.TaskSubmission{Task: "reindex", OnDuplicate: "queue_one"})
package client
