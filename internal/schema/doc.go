// Package schema defines the task and comment records shared by the store,
// the HTTP API, the client cache and the terminal board.
//
// # Records
//
// A Task belongs to exactly one user and sits in one of three board columns:
//
//	{
//	  "id": "0b7a3c0e-4c55-4a53-9a49-8b0f4bd2d8a1",
//	  "user_id": "alice",
//	  "title": "Write release notes",
//	  "description": null,
//	  "status": "in-progress",
//	  "priority": "high",
//	  "due_date": "2026-11-02T00:00:00Z",
//	  "tags": [],
//	  "created_at": "2026-10-19T08:00:00Z",
//	  "updated_at": "2026-10-19T09:30:00Z"
//	}
//
// Comments hang off a task and are read oldest first.
//
// # Patches
//
// TaskUpdate is a partial update. Fields left out of the JSON body are not
// touched; description and due_date may be sent as an explicit null to clear
// them. Apply performs the merge and is used both by the server and by the
// client cache when it applies an optimistic update, so both sides agree on
// the result.
//
// # Task files
//
// ReadTaskFile and WriteTaskFile move tasks between the store and files on
// disk (.json, .yaml/.yml or .toml), used by the inbox daemon and by
// import/export.
package schema
