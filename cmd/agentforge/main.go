// Command agentforge is the CLI front end for OrchestratorService: it
// wires config, storage, and the workflow/consensus engines, then exposes
// each service operation as a subcommand. It never implements task
// lifecycle logic itself — every subcommand is a thin translation from
// flags to an internal/orchestrator.Service call plus table/JSON rendering.
package main

func main() {
	Execute()
}
