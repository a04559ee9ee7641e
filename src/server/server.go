package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"refquery/src/directors"
	"refquery/src/helpers"
	"refquery/src/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Welcome is the first line a client receives after connecting.
const Welcome = "refquery ready"

// maxLineSize bounds one request line.
const maxLineSize = 1 << 20

// Server answers rewrite and find requests over TCP, one extended JSON object per line:
//
//	{"op": "find", "bundle": "Author", "filter": {"agent": {"name": "agent2"}}, "useFindWithinReference": true}
//
// Every request gets exactly one response line with a "status" of "success" or "error".
type Server struct {
	Host string
	Port int

	service *directors.BundleService
	logger  *zap.SugaredLogger

	mu                sync.Mutex
	listener          net.Listener
	activeConnections map[string]*Connection
	running           bool
	cancel            context.CancelFunc
	wg                sync.WaitGroup
}

// Connection represents an active client connection
type Connection struct {
	ID         string
	Conn       net.Conn
	Reader     *bufio.Reader
	Writer     *bufio.Writer
	LastActive time.Time
	Logger     *zap.SugaredLogger
}

func NewServer(host string, port int, service *directors.BundleService, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{
		Host:              host,
		Port:              port,
		service:           service,
		logger:            logger,
		activeConnections: make(map[string]*Connection),
	}
}

// Start begins listening for incoming connections. Port 0 picks a free port; see Addr.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("error starting server on %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Infow("server listening", "addr", listener.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptConnections(ctx, listener)
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every active connection, then waits for their handlers.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	err := s.listener.Close()
	for id, conn := range s.activeConnections {
		conn.Conn.Close()
		delete(s.activeConnections, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Server shutdown complete")
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) acceptConnections(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if !s.isRunning() {
				return
			}
			s.logger.Errorw("Error accepting connection", "error", err)
			continue
		}

		s.logger.Debugw("New connection received", "remoteAddr", conn.RemoteAddr().String())

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConnection(ctx, c)
		}(conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	connID := generateConnectionID()
	connection := &Connection{
		ID:         connID,
		Conn:       conn,
		Reader:     bufio.NewReader(conn),
		Writer:     bufio.NewWriter(conn),
		LastActive: time.Now(),
		Logger:     s.logger.With("connID", connID, "remoteAddr", conn.RemoteAddr().String()),
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.activeConnections[connID] = connection
	s.mu.Unlock()

	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.activeConnections, connID)
		s.mu.Unlock()
		connection.Logger.Debug("Connection closed")
	}()

	sendSuccess(connection.Writer, Welcome)

	scanner := bufio.NewScanner(connection.Reader)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		connection.LastActive = time.Now()

		result, err := s.ProcessRequest(ctx, line)
		if err != nil {
			connection.Logger.Debugw("request failed", "error", err)
			sendError(connection.Writer, err.Error())
			continue
		}
		sendResult(connection.Writer, result, connection.Logger)
	}
	if err := scanner.Err(); err != nil && s.isRunning() {
		connection.Logger.Warnw("Error reading from client", "error", err)
	}
}

// ProcessRequest runs one request line and returns the value of the "result" field.
func (s *Server) ProcessRequest(ctx context.Context, line string) (interface{}, error) {
	req, err := helpers.ParseExtJSON([]byte(line))
	if err != nil {
		return nil, err
	}

	op, _ := req["op"].(string)
	bundle, _ := req["bundle"].(string)
	filter := bson.M{}
	if raw, ok := req["filter"]; ok && raw != nil {
		doc, ok := raw.(bson.M)
		if !ok {
			return nil, fmt.Errorf("filter must be an object, got %T", raw)
		}
		filter = doc
	}

	switch op {
	case "ping":
		return "pong", nil
	case "rewrite":
		rewritten, n, err := s.service.Rewrite(ctx, bundle, filter)
		if err != nil {
			return nil, err
		}
		return bson.M{
			"filter":      rewritten,
			"rewritten":   n,
			"fingerprint": helpers.FilterFingerprint(rewritten),
		}, nil
	case "find":
		useRefs, _ := req["useFindWithinReference"].(bool)
		docs, err := s.service.Find(ctx, bundle, filter, models.QueryOptions{UseFindWithinReference: useRefs})
		if err != nil {
			return nil, err
		}
		list := make(bson.A, 0, len(docs))
		for _, d := range docs {
			list = append(list, d)
		}
		return list, nil
	case "":
		return nil, fmt.Errorf("missing op")
	default:
		return nil, fmt.Errorf("unknown op %q", op)
	}
}

// Helper functions
func sendError(writer *bufio.Writer, message string) {
	writeLine(writer, bson.D{{Key: "status", Value: "error"}, {Key: "message", Value: message}})
}

func sendSuccess(writer *bufio.Writer, message string) {
	writeLine(writer, bson.D{{Key: "status", Value: "success"}, {Key: "message", Value: message}})
}

func sendResult(writer *bufio.Writer, result interface{}, logger *zap.SugaredLogger) {
	response := bson.D{{Key: "status", Value: "success"}, {Key: "result", Value: result}}
	if err := writeLine(writer, response); err != nil {
		logger.Errorw("failed to send result", "error", err)
	}
}

func writeLine(writer *bufio.Writer, response bson.D) error {
	out, err := helpers.ToExtJSON(response)
	if err != nil {
		out = fmt.Sprintf(`{"status":"error","message":%q}`, err.Error())
	}
	writer.WriteString(out + "\n")
	return writer.Flush()
}

func generateConnectionID() string {
	return "conn_" + helpers.GenerateUUID()
}
