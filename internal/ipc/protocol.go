// Package ipc handles inter-process communication between the daemon and clients.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/wavhaven/wavhaven/analyzerd/internal/analysis"
	"github.com/wavhaven/wavhaven/analyzerd/internal/scanner"
)

// CommandType represents the type of command
type CommandType string

const (
	CmdAnalyze   CommandType = "analyze"
	CmdGetJob    CommandType = "getJob"
	CmdGetResult CommandType = "getResult"
	CmdSimilar   CommandType = "similar"
	CmdClusters  CommandType = "clusters"
	CmdScanDir   CommandType = "scanDir"
	CmdStatus    CommandType = "status"
	CmdGetConfig CommandType = "getConfig"

	// Queue and store control
	CmdPause        CommandType = "pause"
	CmdResume       CommandType = "resume"
	CmdDeleteResult CommandType = "deleteResult"

	// Job updates
	CmdSubscribeJobs   CommandType = "subscribeJobs"
	CmdUnsubscribeJobs CommandType = "unsubscribeJobs"
)

// PushJobUpdate is the push message type carrying a Job snapshot
const PushJobUpdate = "jobUpdate"

// PushMessage represents a server-initiated message (no request needed)
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request represents a client request
type Request struct {
	Cmd  CommandType     `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response represents a server response
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// AnalyzeRequest is the data for an analyze command. Either Path or Data
// (base64 in JSON) is set.
type AnalyzeRequest struct {
	Path               string `json:"path,omitempty"`
	Data               []byte `json:"data,omitempty"`
	Filename           string `json:"filename,omitempty"`
	ApplyLowPassFilter bool   `json:"applyLowPassFilter"`

	// Async returns the job as soon as it is queued
	Async bool `json:"async"`
}

// AnalyzeResponse is the response to an analyze command
type AnalyzeResponse struct {
	Job analysis.Job `json:"job"`
}

// JobRequest is the data for a getJob command
type JobRequest struct {
	ID string `json:"id"`
}

// ResultRequest is the data for a getResult command
type ResultRequest struct {
	ContentKey string `json:"contentKey"`
}

// SimilarRequest is the data for a similar command
type SimilarRequest struct {
	ContentKey string `json:"contentKey"`
	Limit      int    `json:"limit,omitempty"`
}

// SimilarResponse is the response to a similar command
type SimilarResponse struct {
	ContentKey string           `json:"contentKey"`
	Matches    []analysis.Match `json:"matches"`
}

// ClustersRequest is the data for a clusters command
type ClustersRequest struct {
	// Neighbours is the number of similar tracks linked per result
	Neighbours int `json:"neighbours,omitempty"`
}

// ClustersResponse is the response to a clusters command
type ClustersResponse struct {
	Communities []analysis.Community `json:"communities"`
}

// ScanDirRequest is the data for a scanDir command. Without Path the
// configured library paths are scanned.
type ScanDirRequest struct {
	Path string `json:"path,omitempty"`

	// ApplyLowPassFilter is passed to every queued analysis
	ApplyLowPassFilter bool `json:"applyLowPassFilter"`
}

// ScanDirResponse is the response to a scanDir command
type ScanDirResponse struct {
	Paths   []string `json:"paths"`
	Queued  int      `json:"queued"`
	Skipped int      `json:"skipped"`
	JobIDs  []string `json:"jobIds"`
}

// StatusResponse is the response to a status command
type StatusResponse struct {
	Version string                `json:"version"`
	Worker  analysis.WorkerStatus `json:"worker"`
	Store   analysis.Stats        `json:"store"`
	Scan    scanner.ScanStatus    `json:"scan"`
}

// EncodeRequest encodes a request to JSON
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest decodes a request from JSON
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// EncodeResponse encodes a response to JSON
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse decodes a response from JSON
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// NewRequest creates a request with data marshaled as its payload
func NewRequest(cmd CommandType, data interface{}) (*Request, error) {
	req := &Request{Cmd: cmd}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request data: %w", err)
		}
		req.Data = raw
	}
	return req, nil
}

// NewSuccessResponse creates a success response with data
func NewSuccessResponse(data interface{}) (*Response, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Response{
		Success: true,
		Data:    rawData,
	}, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// NewPushMessage creates a push message for server-initiated updates
func NewPushMessage(msgType string, data interface{}) ([]byte, error) {
	rawData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(PushMessage{
		Type: msgType,
		Data: rawData,
	})
}
