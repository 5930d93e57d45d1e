package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommandType_KnownTypes(t *testing.T) {
	for _, s := range []string{
		"docker.list", "docker.start", "docker.stop", "docker.restart",
		"system.update", "system.shutdown", "system.restart",
		"agent.shutdown", "agent.enableTask", "agent.disableTask", "agent.uninstall",
		"shell.exec",
		"service.status", "service.restart",
		"smart.scan", "script.run",
		"log.read", "log.tail",
		"terminal.open", "terminal.close", "terminal.input",
		"file.list", "file.read", "file.zip", "file.stream",
		"command.cancel", "config.update",
	} {
		ct, ok := ParseCommandType(s)
		assert.True(t, ok, "expected %q to be a known command type", s)
		assert.Equal(t, CommandType(s), ct)
		assert.True(t, ct.IsKnown())
	}
}

func TestParseCommandType_UnknownFailsFast(t *testing.T) {
	_, ok := ParseCommandType("docker.exec") // not in the closed enum
	assert.False(t, ok)

	_, ok = ParseCommandType("")
	assert.False(t, ok)
}

func TestMessage_EncodeAndParsePayload(t *testing.T) {
	type inner struct {
		Hostname string `json:"hostname"`
	}

	msg, err := NewMessage(TypeRegister, inner{Hostname: "node-a"})
	assert.NoError(t, err)
	data, err := msg.Encode()
	assert.NoError(t, err)
	assert.Contains(t, string(data), "node-a")

	var decoded inner
	assert.NoError(t, msg.ParsePayload(&decoded))
	assert.Equal(t, "node-a", decoded.Hostname)
}
