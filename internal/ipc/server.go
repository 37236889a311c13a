package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/wavhaven/wavhaven/analyzerd/internal/analysis"
	"github.com/wavhaven/wavhaven/analyzerd/internal/config"
	"github.com/wavhaven/wavhaven/analyzerd/internal/scanner"
)

// Version is reported by the status command
var Version = "dev"

// maxLineSize bounds one request line; inline uploads are base64 encoded
const maxLineSize = 64 << 20

const (
	// pushBuffer bounds the job updates queued for one subscriber
	pushBuffer = 64

	writeTimeout = 10 * time.Second
)

// client is one connected socket. Responses and pushes share the
// connection, so writes are serialized. Pushes are queued and written by
// pushLoop so publishers never wait on a slow reader.
type client struct {
	conn    net.Conn
	writeMu sync.Mutex

	pushes    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn net.Conn) *client {
	return &client{
		conn:   conn,
		pushes: make(chan []byte, pushBuffer),
		done:   make(chan struct{}),
	}
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(data)
	return err
}

// push queues msg without blocking. It reports false when the client is
// closed or its queue is full.
func (c *client) push(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.pushes <- msg:
		return true
	default:
		return false
	}
}

// pushLoop writes queued pushes until the client is closed
func (c *client) pushLoop() {
	for {
		select {
		case msg := <-c.pushes:
			if err := c.write(msg); err != nil {
				log.Printf("[IPC] Push failed, closing client: %v", err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Server handles IPC communication with clients
type Server struct {
	socketPath string
	configMgr  *config.Manager
	worker     *analysis.Worker
	store      *analysis.ResultStore
	similarity *analysis.SimilarityEngine
	libScanner *scanner.Scanner

	listener net.Listener
	ready    chan struct{}
	mu       sync.Mutex
	clients  map[*client]struct{}

	jobSubsMu sync.RWMutex
	jobSubs   map[*client]bool // Clients subscribed to job updates
}

// NewServer creates a new IPC server
func NewServer(
	socketPath string,
	configMgr *config.Manager,
	worker *analysis.Worker,
	store *analysis.ResultStore,
	similarity *analysis.SimilarityEngine,
	libScanner *scanner.Scanner,
) *Server {
	return &Server{
		socketPath: socketPath,
		configMgr:  configMgr,
		worker:     worker,
		store:      store,
		similarity: similarity,
		libScanner: libScanner,
		ready:      make(chan struct{}),
		clients:    make(map[*client]struct{}),
		jobSubs:    make(map[*client]bool),
	}
}

// Ready is closed once the socket accepts connections
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Start listens on the socket and serves clients until ctx is done
func (s *Server) Start(ctx context.Context) error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	log.Printf("[IPC] Creating socket at %s", s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = listener

	// Set socket permissions (user-only)
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	log.Printf("[IPC] Server listening, waiting for connections...")

	go s.acceptLoop(ctx)
	close(s.ready)

	<-ctx.Done()

	log.Printf("[IPC] Shutting down server...")

	s.mu.Lock()
	clientCount := len(s.clients)
	for c := range s.clients {
		c.close()
	}
	s.mu.Unlock()

	log.Printf("[IPC] Closed %d client connections", clientCount)

	listener.Close()
	os.RemoveAll(s.socketPath)

	log.Printf("[IPC] Server stopped")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("[IPC] Accept error: %v", err)
			continue
		}

		c := newClient(conn)
		s.mu.Lock()
		s.clients[c] = struct{}{}
		clientCount := len(s.clients)
		s.mu.Unlock()

		log.Printf("[IPC] New client connection (active: %d)", clientCount)

		go c.pushLoop()
		go s.handleConnection(ctx, c)
	}
}

func (s *Server) handleConnection(ctx context.Context, c *client) {
	defer func() {
		c.close()
		s.mu.Lock()
		delete(s.clients, c)
		clientCount := len(s.clients)
		s.mu.Unlock()
		s.jobSubsMu.Lock()
		delete(s.jobSubs, c)
		s.jobSubsMu.Unlock()
		log.Printf("[IPC] Client disconnected (active: %d)", clientCount)
	}()

	reader := bufio.NewScanner(c.conn)
	reader.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for reader.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := reader.Bytes()
		if len(line) == 0 {
			continue
		}

		req, err := DecodeRequest(line)
		if err != nil {
			log.Printf("[IPC] Invalid request format: %v", err)
			if err := s.sendResponse(c, NewErrorResponse("invalid request format")); err != nil {
				return
			}
			continue
		}

		// Skip verbose logging for frequent polling commands
		verbose := !isPollingCmd(req.Cmd)
		if verbose {
			RequestLogger(req)
		}

		start := time.Now()
		resp := s.handleRequest(ctx, c, req)

		if verbose {
			ResponseLogger(resp, time.Since(start))
		}

		if err := s.sendResponse(c, resp); err != nil {
			log.Printf("[IPC] Send error: %v", err)
			return
		}
	}

	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		log.Printf("[IPC] Read error: %v", err)
	}
}

func (s *Server) handleRequest(ctx context.Context, c *client, req *Request) *Response {
	switch req.Cmd {
	case CmdAnalyze:
		return s.handleAnalyze(ctx, req)
	case CmdGetJob:
		return s.handleGetJob(req)
	case CmdGetResult:
		return s.handleGetResult(req)
	case CmdSimilar:
		return s.handleSimilar(req)
	case CmdClusters:
		return s.handleClusters(req)
	case CmdScanDir:
		return s.handleScanDir(ctx, req)
	case CmdStatus:
		return s.handleStatus()
	case CmdGetConfig:
		return s.handleGetConfig()
	case CmdPause:
		s.worker.Pause()
		log.Printf("[ANALYSIS] Worker paused")
		return s.handleStatus()
	case CmdResume:
		s.worker.Resume()
		log.Printf("[ANALYSIS] Worker resumed")
		return s.handleStatus()
	case CmdDeleteResult:
		return s.handleDeleteResult(req)
	case CmdSubscribeJobs:
		return s.handleSubscribeJobs(c)
	case CmdUnsubscribeJobs:
		return s.handleUnsubscribeJobs(c)
	default:
		return NewErrorResponse(fmt.Sprintf("unknown command: %s", req.Cmd))
	}
}

func decodeData(req *Request, v interface{}) *Response {
	if len(req.Data) == 0 {
		return NewErrorResponse("missing request data")
	}
	if err := json.Unmarshal(req.Data, v); err != nil {
		return NewErrorResponse("invalid request data")
	}
	return nil
}

func successOrInternal(data interface{}) *Response {
	resp, err := NewSuccessResponse(data)
	if err != nil {
		log.Printf("[IPC] Failed to encode response: %v", err)
		return NewErrorResponse("internal error")
	}
	return resp
}

func (s *Server) handleAnalyze(ctx context.Context, req *Request) *Response {
	var analyzeReq AnalyzeRequest
	if resp := decodeData(req, &analyzeReq); resp != nil {
		return resp
	}
	if analyzeReq.Path == "" && len(analyzeReq.Data) == 0 {
		return NewErrorResponse("path or data required")
	}

	id, err := s.worker.Submit(analysis.JobRequest{
		Path:     analyzeReq.Path,
		Data:     analyzeReq.Data,
		Filename: analyzeReq.Filename,
		Options:  analysis.Options{ApplyLowPassFilter: analyzeReq.ApplyLowPassFilter},
	})
	if err != nil {
		return NewErrorResponse(err.Error())
	}

	var job analysis.Job
	if analyzeReq.Async {
		job, err = s.worker.Job(id)
	} else {
		job, err = s.worker.Wait(ctx, id)
	}
	if err != nil {
		return NewErrorResponse(err.Error())
	}

	resp := successOrInternal(AnalyzeResponse{Job: job})
	if job.State == analysis.JobFailed {
		resp.Success = false
		resp.Error = job.Error
	}
	return resp
}

func (s *Server) handleGetJob(req *Request) *Response {
	var jobReq JobRequest
	if resp := decodeData(req, &jobReq); resp != nil {
		return resp
	}

	job, err := s.worker.Job(jobReq.ID)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	return successOrInternal(job)
}

func (s *Server) handleGetResult(req *Request) *Response {
	var resultReq ResultRequest
	if resp := decodeData(req, &resultReq); resp != nil {
		return resp
	}

	stored, err := s.store.Get(resultReq.ContentKey)
	if errors.Is(err, analysis.ErrNotFound) {
		return NewErrorResponse("result not found")
	}
	if err != nil {
		log.Printf("[IPC] Failed to load result %s: %v", resultReq.ContentKey, err)
		return NewErrorResponse("failed to load result")
	}
	return successOrInternal(stored)
}

func (s *Server) handleDeleteResult(req *Request) *Response {
	var resultReq ResultRequest
	if resp := decodeData(req, &resultReq); resp != nil {
		return resp
	}
	if _, err := s.store.Get(resultReq.ContentKey); err != nil {
		if errors.Is(err, analysis.ErrNotFound) {
			return NewErrorResponse("result not found")
		}
		return NewErrorResponse(err.Error())
	}
	if err := s.store.Delete(resultReq.ContentKey); err != nil {
		log.Printf("[STORE] Failed to delete %s: %v", resultReq.ContentKey, err)
		return NewErrorResponse(err.Error())
	}
	log.Printf("[STORE] Deleted result %s", resultReq.ContentKey)
	return successOrInternal(map[string]bool{"deleted": true})
}

func (s *Server) handleSimilar(req *Request) *Response {
	var similarReq SimilarRequest
	if resp := decodeData(req, &similarReq); resp != nil {
		return resp
	}
	limit := similarReq.Limit
	if limit <= 0 {
		limit = analysis.DefaultSimilarLimit
	}

	matches, err := s.similarity.FindSimilar(similarReq.ContentKey, limit)
	if errors.Is(err, analysis.ErrNotFound) {
		return NewErrorResponse("result not found")
	}
	if err != nil {
		log.Printf("[IPC] Similarity search failed: %v", err)
		return NewErrorResponse("similarity search failed")
	}
	if matches == nil {
		matches = []analysis.Match{}
	}

	return successOrInternal(SimilarResponse{
		ContentKey: similarReq.ContentKey,
		Matches:    matches,
	})
}

func (s *Server) handleClusters(req *Request) *Response {
	var clustersReq ClustersRequest
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &clustersReq); err != nil {
			return NewErrorResponse("invalid request data")
		}
	}

	communities, err := analysis.NewCommunityDetector(s.similarity, clustersReq.Neighbours).Detect()
	if err != nil {
		log.Printf("[IPC] Community detection failed: %v", err)
		return NewErrorResponse("community detection failed")
	}
	return successOrInternal(ClustersResponse{Communities: communities})
}

func (s *Server) handleScanDir(ctx context.Context, req *Request) *Response {
	var scanReq ScanDirRequest
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &scanReq); err != nil {
			return NewErrorResponse("invalid request data")
		}
	}

	paths := s.configMgr.Get().Library.Paths
	if scanReq.Path != "" {
		paths = []string{scanReq.Path}
	}
	if len(paths) == 0 {
		log.Printf("[SCANNER] No library paths configured")
		return NewErrorResponse("no library paths configured")
	}

	result, err := s.QueueScan(ctx, paths, analysis.Options{ApplyLowPassFilter: scanReq.ApplyLowPassFilter})
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	return successOrInternal(result)
}

// QueueScan streams the audio files under paths and submits each one for
// analysis as it is found. Files the queue has no room for are counted as
// skipped.
func (s *Server) QueueScan(ctx context.Context, paths []string, opts analysis.Options) (*ScanDirResponse, error) {
	files := make(chan scanner.FileInfo, 64)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- s.libScanner.ScanPathsStreaming(ctx, paths, files)
	}()

	resp := &ScanDirResponse{Paths: paths, JobIDs: []string{}}
	for file := range files {
		id, err := s.worker.Submit(analysis.JobRequest{Path: file.Path, Options: opts})
		if err != nil {
			resp.Skipped++
			continue
		}
		resp.Queued++
		resp.JobIDs = append(resp.JobIDs, id)
	}
	if err := <-scanErr; err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}

	log.Printf("[SCANNER] Queued %d files for analysis (%d skipped)", resp.Queued, resp.Skipped)
	return resp, nil
}

func (s *Server) handleStatus() *Response {
	return successOrInternal(StatusResponse{
		Version: Version,
		Worker:  s.worker.GetStatus(),
		Store:   s.store.Stats(),
		Scan:    s.libScanner.GetStatus(),
	})
}

func (s *Server) handleGetConfig() *Response {
	return successOrInternal(s.configMgr.Get())
}

func (s *Server) handleSubscribeJobs(c *client) *Response {
	if c == nil {
		return NewErrorResponse("subscriptions need a connection")
	}
	s.jobSubsMu.Lock()
	s.jobSubs[c] = true
	count := len(s.jobSubs)
	s.jobSubsMu.Unlock()

	log.Printf("[IPC] Client subscribed to job updates (total: %d)", count)
	return successOrInternal(map[string]bool{"subscribed": true})
}

func (s *Server) handleUnsubscribeJobs(c *client) *Response {
	s.jobSubsMu.Lock()
	delete(s.jobSubs, c)
	count := len(s.jobSubs)
	s.jobSubsMu.Unlock()

	log.Printf("[IPC] Client unsubscribed from job updates (total: %d)", count)
	return successOrInternal(map[string]bool{"subscribed": false})
}

// PublishJob queues a job snapshot for every subscribed client. It never
// blocks; subscribers whose queue is full are unsubscribed.
func (s *Server) PublishJob(job analysis.Job) {
	s.jobSubsMu.RLock()
	if len(s.jobSubs) == 0 {
		s.jobSubsMu.RUnlock()
		return
	}

	// Copy subscriber list to avoid holding lock during I/O
	subs := make([]*client, 0, len(s.jobSubs))
	for c := range s.jobSubs {
		subs = append(subs, c)
	}
	s.jobSubsMu.RUnlock()

	msg, err := NewPushMessage(PushJobUpdate, job)
	if err != nil {
		log.Printf("[IPC] Failed to encode job update: %v", err)
		return
	}
	msg = append(msg, '\n')

	for _, c := range subs {
		if !c.push(msg) {
			s.jobSubsMu.Lock()
			delete(s.jobSubs, c)
			s.jobSubsMu.Unlock()
			log.Printf("[IPC] Dropped job subscriber: push queue full or closed")
		}
	}
}

func (s *Server) sendResponse(c *client, resp *Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return c.write(data)
}
