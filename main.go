// Command fleetctl is the operator CLI and supervisor entrypoint for a
// fleet of autonomous agent processes.
package main

import "github.com/fleetsupervisor/fleetd/cmd"

func main() {
	cmd.Execute()
}
