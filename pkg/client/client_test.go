package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"apiflow/internal/fanout"
	"apiflow/pkg/config"
	errs "apiflow/pkg/errors"
	"apiflow/pkg/logger"
	"apiflow/pkg/parser"
	"apiflow/pkg/waiter"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tableWaiters = `
version: 2
waiters:
  TableExists:
    operation: DescribeTable
    delay: 0
    maxAttempts: 5
    acceptors:
      - state: success
        matcher: path
        argument: Table.TableStatus
        expected: ACTIVE
      - state: retry
        matcher: error
        expected: ResourceNotFoundException
`

func testConfig(t *testing.T, serverURL string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Client.Service = "dynamodb"
	cfg.Client.Region = "us-west-2"
	cfg.Client.EndpointURL = serverURL
	cfg.Client.TargetPrefix = "DynamoDB_20120810"
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Retry.JitterFactor = 0
	cfg.Credentials.Anonymous = true
	cfg.Telemetry.Metrics = true
	return cfg
}

func writeModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "waiters.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tableWaiters), 0644))
	return path
}

func TestNewRequiresService(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := New(cfg, WithLogger(logger.NewNopLogger()))

	var cfgErr *errs.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "service is required")
}

func TestNewResolvesEndpoint(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Client.Service = "sqs"
	cfg.Client.Region = "eu-west-1"
	cfg.Credentials.Anonymous = true
	cfg.Telemetry.Metrics = false

	c, err := New(cfg, WithLogger(logger.NewNopLogger()))
	require.NoError(t, err)
	assert.Equal(t, "https://sqs.eu-west-1.amazonaws.com", c.Endpoint().URL)
	assert.Equal(t, "eu-west-1", c.Endpoint().SigningRegion)
	assert.Nil(t, c.Metrics())
	assert.Nil(t, c.Waiters())
}

func TestNewRejectsBadWaiterModel(t *testing.T) {
	cfg := testConfig(t, "http://localhost:1")
	cfg.Waiters.ModelPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(cfg, WithLogger(logger.NewNopLogger()))
	var cfgErr *errs.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestInvokeRetriesAndRecordsMetrics(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var targets, agents []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		targets = append(targets, r.Header.Get("X-Amz-Target"))
		agents = append(agents, r.Header.Get("User-Agent"))
		mu.Unlock()
		assert.Equal(t, contentTypeJSON, r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Authorization"))

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "users", body["TableName"])
		w.Write([]byte(`{"Table":{"TableStatus":"ACTIVE","ItemCount":3}}`))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Client.UserAgent = "apiflow-test/1.0"
	c, err := New(cfg, WithLogger(logger.NewNopLogger()))
	require.NoError(t, err)

	res, err := c.Invoke(context.Background(), "DescribeTable", map[string]any{"TableName": "users"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	table := res.Parsed["Table"].(map[string]any)
	assert.Equal(t, "ACTIVE", table["TableStatus"])

	assert.Equal(t, []string{"DynamoDB_20120810.DescribeTable", "DynamoDB_20120810.DescribeTable"}, targets)
	assert.Equal(t, []string{"apiflow-test/1.0", "apiflow-test/1.0"}, agents)

	count, err := testutil.GatherAndCount(c.Metrics().Registry(), "apiflow_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestInvokeSignsWithStaticCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 "), auth)
		assert.Contains(t, auth, "/us-west-2/dynamodb/aws4_request")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Credentials.Anonymous = false
	cfg.Credentials.AccessKeyID = "AKIDEXAMPLE"
	cfg.Credentials.SecretAccessKey = "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY"

	c, err := New(cfg, WithLogger(logger.NewNopLogger()))
	require.NoError(t, err)

	_, err = c.Invoke(context.Background(), "ListTables", nil)
	require.NoError(t, err)
}

func TestInvokeApplicationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"__type":"com.amazonaws.dynamodb.v20120810#ResourceNotFoundException","message":"no table"}`))
	}))
	defer srv.Close()

	c, err := New(testConfig(t, srv.URL), WithLogger(logger.NewNopLogger()))
	require.NoError(t, err)

	_, err = c.Invoke(context.Background(), "DescribeTable", map[string]any{"TableName": "gone"})
	var appErr *errs.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "ResourceNotFoundException", appErr.Code)
	assert.Equal(t, "DescribeTable", appErr.Operation)
}

func TestBuildSpecJSON(t *testing.T) {
	c := &Client{config: config.DefaultConfig()}
	c.config.Client.TargetPrefix = "Kinesis_20131202"

	spec, err := c.BuildSpec("ListStreams", nil)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, spec.Method)
	assert.Equal(t, "Kinesis_20131202.ListStreams", spec.Header.Get("X-Amz-Target"))

	body, err := io.ReadAll(spec.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(body))

	c.config.Client.Protocol = parser.ProtocolRestJSON
	spec, err = c.BuildSpec("ListFunctions", map[string]any{"MaxItems": 10})
	require.NoError(t, err)
	assert.Equal(t, contentTypeRESTJSON, spec.Header.Get("Content-Type"))
	assert.Empty(t, spec.Header.Get("X-Amz-Target"))
}

func TestBuildSpecQuery(t *testing.T) {
	c := &Client{config: config.DefaultConfig()}
	c.config.Client.Protocol = parser.ProtocolQuery
	c.config.Client.APIVersion = "2012-11-05"

	params := map[string]any{
		"QueueUrl":       "https://sqs/q",
		"AttributeNames": []any{"All", "Policy"},
		"Tag":            map[string]any{"Key": "env", "Value": "prod"},
		"Delay":          float64(30),
		"Fifo":           true,
	}
	spec, err := c.BuildSpec("GetQueueAttributes", params)
	require.NoError(t, err)
	assert.Equal(t, contentTypeForm, spec.Header.Get("Content-Type"))

	body, err := io.ReadAll(spec.Body)
	require.NoError(t, err)
	form, err := url.ParseQuery(string(body))
	require.NoError(t, err)

	assert.Equal(t, "GetQueueAttributes", form.Get("Action"))
	assert.Equal(t, "2012-11-05", form.Get("Version"))
	assert.Equal(t, "All", form.Get("AttributeNames.member.1"))
	assert.Equal(t, "Policy", form.Get("AttributeNames.member.2"))
	assert.Equal(t, "env", form.Get("Tag.Key"))
	assert.Equal(t, "30", form.Get("Delay"))
	assert.Equal(t, "true", form.Get("Fifo"))

	c.config.Client.Protocol = parser.ProtocolEC2
	spec, err = c.BuildSpec("DescribeInstances", map[string]any{"InstanceId": []any{"i-1", "i-2"}})
	require.NoError(t, err)
	body, err = io.ReadAll(spec.Body)
	require.NoError(t, err)
	form, err = url.ParseQuery(string(body))
	require.NoError(t, err)
	assert.Equal(t, "i-2", form.Get("InstanceId.2"))
	assert.False(t, form.Has("Version"))
}

func TestBuildSpecRestXML(t *testing.T) {
	c := &Client{config: config.DefaultConfig()}
	c.config.Client.Protocol = parser.ProtocolRestXML

	spec, err := c.BuildSpec("ListBuckets", map[string]any{"prefix": "logs/"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, spec.Method)
	assert.Equal(t, "logs/", spec.Query.Get("prefix"))
	assert.Nil(t, spec.Body)
}

func TestBuildSpecUnsupportedProtocol(t *testing.T) {
	c := &Client{config: config.DefaultConfig()}
	c.config.Client.Protocol = "smithy-rpc-v2-cbor"

	_, err := c.BuildSpec("Op", nil)
	var cfgErr *errs.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func tableServer(t *testing.T, creatingPolls int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch {
		case n == 1:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"__type":"ResourceNotFoundException","message":"not yet"}`))
		case n <= 1+creatingPolls:
			w.Write([]byte(`{"Table":{"TableStatus":"CREATING"}}`))
		default:
			w.Write([]byte(`{"Table":{"TableStatus":"ACTIVE"}}`))
		}
	}))
	return srv, &calls
}

func TestWait(t *testing.T) {
	srv, calls := tableServer(t, 1)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Waiters.ModelPath = writeModel(t)
	log := logger.NewTestLogger()

	c, err := New(cfg, WithLogger(log))
	require.NoError(t, err)
	assert.Equal(t, []string{"TableExists"}, c.Waiters().WaiterNames())

	require.NoError(t, c.Wait(context.Background(), "TableExists", map[string]any{"TableName": "users"}))
	assert.Equal(t, int32(3), calls.Load())

	count, err := testutil.GatherAndCount(c.Metrics().Registry(), "apiflow_waiter_results_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWaitUnknownWaiter(t *testing.T) {
	cfg := testConfig(t, "http://localhost:1")
	c, err := New(cfg, WithLogger(logger.NewNopLogger()))
	require.NoError(t, err)

	err = c.Wait(context.Background(), "TableExists", nil)
	var cfgErr *errs.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	cfg.Waiters.ModelPath = writeModel(t)
	c, err = New(cfg, WithLogger(logger.NewNopLogger()))
	require.NoError(t, err)
	_, err = c.Waiter("BucketExists")
	assert.ErrorContains(t, err, "waiter does not exist: BucketExists")
}

func TestWaitAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Table":{"TableStatus":"ACTIVE"}}`))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Waiters.ModelPath = writeModel(t)
	c, err := New(cfg, WithLogger(logger.NewNopLogger()))
	require.NoError(t, err)

	sets := []map[string]any{{"TableName": "a"}, {"TableName": "b"}, {"TableName": "c"}}
	obs := &jobRecorder{attempts: map[string]int{}}
	results, err := c.WaitAll(context.Background(), "TableExists", sets, WaitAllOptions{
		Workers: 2,
		Observe: obs.forJob,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Empty(t, fanout.Failed(results))
	assert.Equal(t, "TableExists[1]", results[1].Name)
	assert.Equal(t, map[string]int{"TableExists[0]": 1, "TableExists[1]": 1, "TableExists[2]": 1}, obs.attempts)
}

type jobRecorder struct {
	mu       sync.Mutex
	attempts map[string]int
}

func (r *jobRecorder) forJob(job string) waiter.Observer { return &jobObserver{r: r, job: job} }

type jobObserver struct {
	r   *jobRecorder
	job string
}

func (o *jobObserver) ObserveWaiterAttempt(_ string, attempt int, _ waiter.State) {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()
	o.r.attempts[o.job] = attempt
}

func (o *jobObserver) ObserveWaiterResult(string, int, error) {}
