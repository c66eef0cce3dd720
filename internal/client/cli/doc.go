// Package cli implements syncctl, the command line front end of the sync
// engine.
//
// Every subcommand opens the configured local store, talks to the server
// when it can and falls back to offline operation when it cannot. The
// engine's own flags (-a, -d, -b, -t, -u, -p, -c, ...) may appear anywhere
// on the command line; everything else is handed to the subcommand.
//
//	syncctl -d ./data save Task '{"title":"buy milk"}'
//	syncctl list Task
//	syncctl query Task "done = false and title ~ milk"
//	syncctl sync
//	syncctl shell
package cli
