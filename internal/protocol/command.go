package protocol

// CommandType is the closed enum of commands the hub may dispatch to an
// agent (§4.2). An unknown discriminant fails fast rather than silently
// falling through: ParseCommandType reports ok=false and dispatch.Enqueue
// rejects the command as a bad request.
type CommandType string

const (
	CommandDockerList    CommandType = "docker.list"
	CommandDockerStart   CommandType = "docker.start"
	CommandDockerStop    CommandType = "docker.stop"
	CommandDockerRestart CommandType = "docker.restart"

	CommandSystemUpdate   CommandType = "system.update"
	CommandSystemShutdown CommandType = "system.shutdown"
	CommandSystemRestart  CommandType = "system.restart"

	CommandAgentShutdown    CommandType = "agent.shutdown"
	CommandAgentEnableTask  CommandType = "agent.enableTask"
	CommandAgentDisableTask CommandType = "agent.disableTask"
	CommandAgentUninstall   CommandType = "agent.uninstall"

	CommandShellExec CommandType = "shell.exec"

	CommandServiceStatus  CommandType = "service.status"
	CommandServiceRestart CommandType = "service.restart"

	CommandSmartScan CommandType = "smart.scan"
	CommandScriptRun CommandType = "script.run"

	CommandLogRead CommandType = "log.read"
	CommandLogTail CommandType = "log.tail"

	CommandTerminalOpen  CommandType = "terminal.open"
	CommandTerminalClose CommandType = "terminal.close"
	CommandTerminalInput CommandType = "terminal.input"

	CommandFileList   CommandType = "file.list"
	CommandFileRead   CommandType = "file.read"
	CommandFileZip    CommandType = "file.zip"
	CommandFileStream CommandType = "file.stream"

	CommandCancel       CommandType = "command.cancel"
	CommandConfigUpdate CommandType = "config.update"
)

// knownCommandTypes backs IsKnown — a set literal keeps ParseCommandType and
// IsKnown trivially in sync with the const block above.
var knownCommandTypes = map[CommandType]bool{
	CommandDockerList: true, CommandDockerStart: true, CommandDockerStop: true, CommandDockerRestart: true,
	CommandSystemUpdate: true, CommandSystemShutdown: true, CommandSystemRestart: true,
	CommandAgentShutdown: true, CommandAgentEnableTask: true, CommandAgentDisableTask: true, CommandAgentUninstall: true,
	CommandShellExec:      true,
	CommandServiceStatus:  true, CommandServiceRestart: true,
	CommandSmartScan: true, CommandScriptRun: true,
	CommandLogRead: true, CommandLogTail: true,
	CommandTerminalOpen: true, CommandTerminalClose: true, CommandTerminalInput: true,
	CommandFileList: true, CommandFileRead: true, CommandFileZip: true, CommandFileStream: true,
	CommandCancel: true, CommandConfigUpdate: true,
}

// IsKnown reports whether t is a member of the closed command enum.
func (t CommandType) IsKnown() bool {
	return knownCommandTypes[t]
}

// ParseCommandType validates a wire string against the closed enum, failing
// fast with ok=false on anything not named in §4.2's taxonomy.
func ParseCommandType(s string) (t CommandType, ok bool) {
	t = CommandType(s)
	return t, t.IsKnown()
}
