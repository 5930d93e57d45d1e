package simagent

import (
	"time"

	"github.com/manlab-io/manlab/internal/protocol"
)

// runCommand fabricates a realistic inProgress -> terminal status sequence
// for any dispatched command, rather than actually executing it (spec.md's
// agent-side-execution non-goal). shell.exec, script.run and system.update
// simulate a short run, and shell.exec and script.run also report captured
// "logs"; everything else completes almost immediately.
func (a *Agent) runCommand(cmd protocol.CommandPayload) {
	a.log.Info().Str("command_id", cmd.CommandID).Str("type", string(cmd.Type)).Msg("executing command")

	a.sendCommandStatus(cmd.CommandID, "inProgress", "", "")

	delay := 200 * time.Millisecond
	switch cmd.Type {
	case protocol.CommandShellExec, protocol.CommandScriptRun, protocol.CommandSystemUpdate:
		delay = 1500 * time.Millisecond
	}

	select {
	case <-time.After(delay):
	case <-a.ctx.Done():
		a.sendCommandStatus(cmd.CommandID, "cancelled", "", "context cancelled")
		return
	}

	if a.rng.Float64() < 0.05 {
		a.sendCommandStatus(cmd.CommandID, "failed", "", "simulated failure")
		return
	}

	logs := ""
	switch cmd.Type {
	case protocol.CommandShellExec, protocol.CommandScriptRun:
		logs = "command completed successfully\n"
	}
	a.sendCommandStatus(cmd.CommandID, "success", logs, "")
}

func (a *Agent) sendCommandStatus(commandID, status, logs, errMsg string) {
	payload := protocol.CommandStatusPayload{
		CommandID: commandID,
		Status:    status,
		Logs:      logs,
		Error:     errMsg,
	}
	if err := a.ws.SendMessage(protocol.TypeCommandStatus, payload); err != nil {
		a.log.Error().Err(err).Str("command_id", commandID).Msg("failed to send command status")
	}
}
