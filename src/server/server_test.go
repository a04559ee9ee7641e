package server

import (
	"bufio"
	"context"
	"net"
	"testing"

	"refquery/src/directors"
	"refquery/src/helpers"
	"refquery/src/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	args := settings.Defaults()
	args.SchemaFile = "../directors/testdata/library.yaml"
	args.DataFile = "../directors/testdata/library.json"
	service, err := directors.NewBundleService(args, logger)
	require.NoError(t, err)
	require.NoError(t, service.LoadFiles(context.Background()))

	return NewServer("127.0.0.1", 0, service, logger)
}

func TestProcessRequest(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	agent2, err := primitive.ObjectIDFromHex("5f0000000000000000000022")
	require.NoError(t, err)

	result, err := srv.ProcessRequest(ctx, `{"op": "ping"}`)
	require.NoError(t, err)
	assert.Equal(t, "pong", result)

	result, err = srv.ProcessRequest(ctx, `{"op": "rewrite", "bundle": "Author", "filter": {"agent.name": "agent2"}}`)
	require.NoError(t, err)
	rewrite := result.(bson.M)
	assert.Equal(t, bson.M{"agent": agent2}, rewrite["filter"])
	assert.Equal(t, 1, rewrite["rewritten"])
	assert.Equal(t, helpers.FilterFingerprint(bson.M{"agent": agent2}), rewrite["fingerprint"])

	result, err = srv.ProcessRequest(ctx, `{"op": "find", "bundle": "Author", "filter": {"agent.name": "agent2"}, "useFindWithinReference": true}`)
	require.NoError(t, err)
	docs := result.(bson.A)
	require.Len(t, docs, 1)
	assert.Equal(t, "author2", docs[0].(bson.M)["name"])

	failures := []string{
		`not json`,
		`{}`,
		`{"op": "drop"}`,
		`{"op": "find", "bundle": "Author", "filter": [1]}`,
		`{"op": "find", "bundle": "Ghost"}`,
		`{"op": "find", "bundle": "Author", "filter": {"agent": {"name": "agent2"}}}`,
	}
	for _, line := range failures {
		_, err := srv.ProcessRequest(ctx, line)
		assert.Error(t, err, line)
	}
}

func TestServeOverTCP(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { assert.NoError(t, srv.Stop()) })

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	readResponse := func() bson.M {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		resp, err := helpers.ParseExtJSON([]byte(line))
		require.NoError(t, err)
		return resp
	}

	welcome := readResponse()
	assert.Equal(t, "success", welcome["status"])
	assert.Equal(t, Welcome, welcome["message"])

	_, err = conn.Write([]byte(`{"op": "find", "bundle": "Author", "filter": {"books.title": "book1"}, "useFindWithinReference": true}` + "\n"))
	require.NoError(t, err)
	resp := readResponse()
	require.Equal(t, "success", resp["status"], resp["message"])
	docs := resp["result"].(bson.A)
	require.Len(t, docs, 1)
	assert.Equal(t, "author1", docs[0].(bson.M)["name"])

	// blank lines are skipped and errors keep the connection open
	_, err = conn.Write([]byte("\n{\"op\": \"nope\"}\n{\"op\": \"ping\"}\n"))
	require.NoError(t, err)
	resp = readResponse()
	assert.Equal(t, "error", resp["status"])
	resp = readResponse()
	assert.Equal(t, "pong", resp["result"])
}

func TestStopWithoutStart(t *testing.T) {
	srv := NewServer("127.0.0.1", 0, nil, nil)
	assert.Nil(t, srv.Addr())
	assert.NoError(t, srv.Stop())
}
