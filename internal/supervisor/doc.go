// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

/*
Package supervisor runs Reelguard's long-running services under suture v4.

The tree has three layers so a failing maintenance task cannot take the API
down with it:

	RootSupervisor ("reelguard")
	├── DataSupervisor ("data-layer")
	│   └── ValueLogGCService (Badger store only)
	├── MessagingSupervisor ("messaging-layer")
	│   └── IncidentDrainService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Supervisor events (restarts, backoff, timeouts) are logged through sutureslog
into the process-wide zerolog logger.
*/
package supervisor
