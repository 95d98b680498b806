// Package testing provides a scripted mock PostgreSQL server for tests,
// built on pgmock. A script covers one client connection from startup to
// close.
package testing

import (
	"fmt"
	"net"
	"strconv"
	"testing"

	"github.com/jackc/pgmock"
	"github.com/jackc/pgproto3/v2"
)

// Common PostgreSQL type OIDs for row descriptions.
const (
	OIDBool        uint32 = 16
	OIDInt8        uint32 = 20
	OIDInt2        uint32 = 21
	OIDInt4        uint32 = 23
	OIDText        uint32 = 25
	OIDFloat8      uint32 = 701
	OIDVarchar     uint32 = 1043
	OIDDate        uint32 = 1082
	OIDTimestamptz uint32 = 1184
	OIDNumeric     uint32 = 1700
	OIDJSONB       uint32 = 3802
)

// MockServer serves a single pgmock script on a local TCP port.
type MockServer struct {
	Script   *pgmock.Script
	Listener net.Listener
	t        *testing.T
	done     chan error
}

// NewMockServer starts listening on 127.0.0.1 with an ephemeral port. The
// listener is closed when the test ends.
func NewMockServer(t *testing.T, steps ...pgmock.Step) *MockServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	m := &MockServer{
		Script:   &pgmock.Script{Steps: steps},
		Listener: listener,
		t:        t,
		done:     make(chan error, 1),
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// Addr returns the host:port the mock server is listening on.
func (m *MockServer) Addr() string {
	return m.Listener.Addr().String()
}

// Host returns the listening host.
func (m *MockServer) Host() string {
	host, _, _ := net.SplitHostPort(m.Addr())
	return host
}

// Port returns the listening port.
func (m *MockServer) Port() int {
	_, port, _ := net.SplitHostPort(m.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Start accepts one connection in the background and runs the script on it.
// Wait returns the script's result.
func (m *MockServer) Start() {
	go func() {
		m.done <- m.serve()
	}()
}

// Wait blocks until the script finishes and fails the test if it did not
// run to completion.
func (m *MockServer) Wait() {
	m.t.Helper()
	if err := <-m.done; err != nil {
		m.t.Errorf("mock server script failed: %v", err)
	}
}

func (m *MockServer) serve() error {
	conn, err := m.Listener.Accept()
	if err != nil {
		return err
	}
	defer conn.Close()

	backend := pgproto3.NewBackend(pgproto3.NewChunkReader(conn), conn)
	if err := m.Script.Run(backend); err != nil {
		return fmt.Errorf("script: %w", err)
	}
	return nil
}

// Close closes the listener.
func (m *MockServer) Close() error {
	return m.Listener.Close()
}

// AcceptConnSteps returns the steps for accepting an unauthenticated
// connection.
func AcceptConnSteps() []pgmock.Step {
	return pgmock.AcceptUnauthenticatedConnRequestSteps()
}

// Field describes a text-format result column.
func Field(name string, oid uint32) pgproto3.FieldDescription {
	return pgproto3.FieldDescription{
		Name:         []byte(name),
		DataTypeOID:  oid,
		DataTypeSize: -1,
		TypeModifier: -1,
		Format:       0,
	}
}

// Row builds a DataRow payload. A nil entry is SQL NULL.
func Row(values ...any) [][]byte {
	row := make([][]byte, len(values))
	for i, v := range values {
		switch v := v.(type) {
		case nil:
			row[i] = nil
		case string:
			row[i] = []byte(v)
		case []byte:
			row[i] = v
		default:
			row[i] = []byte(fmt.Sprint(v))
		}
	}
	return row
}

// ExpectQuery returns a step that expects a simple query message.
func ExpectQuery(query string) pgmock.Step {
	return pgmock.ExpectMessage(&pgproto3.Query{String: query})
}

// SendReadyForQuery returns a step that sends ReadyForQuery with status
// 'I' (idle), 'T' (in transaction), or 'E' (failed transaction).
func SendReadyForQuery(status byte) pgmock.Step {
	return pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: status})
}

// WaitForClose returns a step that waits for the client to disconnect.
func WaitForClose() pgmock.Step {
	return pgmock.WaitForClose()
}

// SelectSteps answers query with the given columns and rows.
func SelectSteps(query string, fields []pgproto3.FieldDescription, rows ...[][]byte) []pgmock.Step {
	steps := []pgmock.Step{
		ExpectQuery(query),
		pgmock.SendMessage(&pgproto3.RowDescription{Fields: fields}),
	}
	for _, row := range rows {
		steps = append(steps, pgmock.SendMessage(&pgproto3.DataRow{Values: row}))
	}
	return append(steps,
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte(fmt.Sprintf("SELECT %d", len(rows)))}),
		SendReadyForQuery('I'),
	)
}

// CommandSteps answers a statement that returns no columns.
func CommandSteps(query, tag string) []pgmock.Step {
	return []pgmock.Step{
		ExpectQuery(query),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte(tag)}),
		SendReadyForQuery('I'),
	}
}

// ErrorSteps answers query with an ErrorResponse.
func ErrorSteps(query, code, message string) []pgmock.Step {
	return []pgmock.Step{
		ExpectQuery(query),
		pgmock.SendMessage(&pgproto3.ErrorResponse{
			Severity: "ERROR",
			Code:     code,
			Message:  message,
		}),
		SendReadyForQuery('I'),
	}
}

// Script joins step groups into one script.
func Script(groups ...[]pgmock.Step) []pgmock.Step {
	var steps []pgmock.Step
	for _, g := range groups {
		steps = append(steps, g...)
	}
	return steps
}

// Step and FieldDescription are re-exported so tests need not import
// pgmock or pgproto3 directly.
type (
	Step             = pgmock.Step
	FieldDescription = pgproto3.FieldDescription
)
