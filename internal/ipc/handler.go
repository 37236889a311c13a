package ipc

import (
	"log"
	"time"
)

// isPollingCmd reports commands clients send frequently enough that
// logging each one would flood the log
func isPollingCmd(cmd CommandType) bool {
	return cmd == CmdStatus || cmd == CmdGetJob
}

// RequestLogger logs incoming requests (for debugging)
func RequestLogger(req *Request) {
	log.Printf("[IPC] Command: %s (%d bytes)", req.Cmd, len(req.Data))
}

// ResponseLogger logs outgoing responses (for debugging)
func ResponseLogger(resp *Response, duration time.Duration) {
	if resp.Success {
		log.Printf("[IPC] Response: success duration=%v", duration)
	} else {
		log.Printf("[IPC] Response: error=%q duration=%v", resp.Error, duration)
	}
}
