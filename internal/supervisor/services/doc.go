// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

/*
Package services adapts Reelguard components to the suture.Service model.

Each wrapper implements

	Serve(ctx context.Context) error

and fmt.Stringer so suture can name it in its event log.

HTTPServerService wraps *http.Server: ListenAndServe runs in a goroutine and
Shutdown drains connections when the context is canceled.

ValueLogGCService periodically reclaims space in the Badger value log. Badger
never collects it on its own.

IncidentDrainService waits for in-flight incident deliveries on shutdown so
webhook and NATS notifications are not cut off mid-send.
*/
package services
