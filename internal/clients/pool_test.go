package clients

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// fakeAdmin implements AdminClient in memory for pool tests.
type fakeAdmin struct {
	mu      sync.Mutex
	pingErr error
	closed  bool
}

func (f *fakeAdmin) failPing(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakeAdmin) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeAdmin) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeAdmin) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeAdmin) CreateTopic(ctx context.Context, spec domain.TopicSpec) error { return nil }
func (f *fakeAdmin) CreateTopics(ctx context.Context, specs []domain.TopicSpec) map[string]TopicOutcome {
	return nil
}
func (f *fakeAdmin) DeleteTopic(ctx context.Context, name string) error { return nil }
func (f *fakeAdmin) DeleteTopics(ctx context.Context, names []string) map[string]TopicOutcome {
	return nil
}
func (f *fakeAdmin) ListTopics(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeAdmin) DescribeTopic(ctx context.Context, name string) (*domain.TopicDescription, error) {
	return nil, nil
}
func (f *fakeAdmin) DescribeTopicConfigs(ctx context.Context, name string) (map[string]string, error) {
	return nil, nil
}
func (f *fakeAdmin) AlterTopicConfigs(ctx context.Context, name string, configs map[string]string) error {
	return nil
}
func (f *fakeAdmin) DescribeCluster(ctx context.Context) (*domain.ClusterInfo, error) {
	return nil, nil
}

func connInfo(server string) *domain.ConnectionInfo {
	return &domain.ConnectionInfo{BootstrapServers: []string{server}}
}

func newTestPool(opts PoolOptions) (*Pool, map[string]*fakeAdmin) {
	admins := make(map[string]*fakeAdmin)
	var mu sync.Mutex
	dial := func(info *domain.ConnectionInfo) (AdminClient, error) {
		mu.Lock()
		defer mu.Unlock()
		admin := &fakeAdmin{}
		admins[info.BootstrapServers[0]] = admin
		return admin, nil
	}
	logger := logrus.New()
	return NewPool(dial, opts, logger), admins
}

func TestPoolRegisterAndGet(t *testing.T) {
	pool, _ := newTestPool(DefaultPoolOptions())
	defer pool.Close()
	ctx := context.Background()

	require.NoError(t, pool.Register("inst-1", connInfo("a:9092")))

	client := pool.Get(ctx, "inst-1")
	require.NotNil(t, client)

	// Same entry on repeat use.
	assert.Same(t, client, pool.Get(ctx, "inst-1"))

	stats := pool.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, int64(2), stats[0].UseCount)
	assert.True(t, stats[0].IsHealthy)
}

func TestPoolGetUnknownInstance(t *testing.T) {
	pool, _ := newTestPool(DefaultPoolOptions())
	defer pool.Close()
	assert.Nil(t, pool.Get(context.Background(), "ghost"))
}

func TestPoolRegisterRejectsEmptyServers(t *testing.T) {
	pool, _ := newTestPool(DefaultPoolOptions())
	defer pool.Close()
	err := pool.Register("inst-1", &domain.ConnectionInfo{})
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}

func TestPoolRemoveClosesConnection(t *testing.T) {
	pool, admins := newTestPool(DefaultPoolOptions())
	defer pool.Close()
	ctx := context.Background()

	require.NoError(t, pool.Register("inst-1", connInfo("a:9092")))
	require.NotNil(t, pool.Get(ctx, "inst-1"))

	pool.Remove("inst-1")
	assert.True(t, admins["a:9092"].isClosed())
	assert.Nil(t, pool.Get(ctx, "inst-1"))
}

func TestPoolHealthCheckEvictsFailing(t *testing.T) {
	pool, admins := newTestPool(DefaultPoolOptions())
	defer pool.Close()
	ctx := context.Background()

	require.NoError(t, pool.Register("inst-1", connInfo("a:9092")))
	require.NoError(t, pool.Register("inst-2", connInfo("b:9092")))
	require.NotNil(t, pool.Get(ctx, "inst-1"))
	require.NotNil(t, pool.Get(ctx, "inst-2"))

	admins["a:9092"].failPing(errors.New(errors.CodeKafkaConnection, "broker down"))

	results := pool.HealthCheckAll(ctx)
	assert.False(t, results["inst-1"])
	assert.True(t, results["inst-2"])
	assert.True(t, admins["a:9092"].isClosed())

	// The entry survives eviction and is re-dialed on next use.
	client := pool.Get(ctx, "inst-1")
	require.NotNil(t, client)
	assert.False(t, admins["a:9092"].isClosed())
}

func TestPoolCapacityReturnsNilWhenFull(t *testing.T) {
	opts := DefaultPoolOptions()
	opts.MaxConnections = 1
	opts.MaxIdleTime = time.Hour
	pool, _ := newTestPool(opts)
	defer pool.Close()
	ctx := context.Background()

	require.NoError(t, pool.Register("inst-1", connInfo("a:9092")))
	require.NoError(t, pool.Register("inst-2", connInfo("b:9092")))

	require.NotNil(t, pool.Get(ctx, "inst-1"))
	// Nothing is idle to evict, so the second dial is refused.
	assert.Nil(t, pool.Get(ctx, "inst-2"))

	// The first instance keeps working.
	assert.NotNil(t, pool.Get(ctx, "inst-1"))
}

func TestPoolIdleEviction(t *testing.T) {
	opts := DefaultPoolOptions()
	opts.MaxIdleTime = 10 * time.Millisecond
	pool, admins := newTestPool(opts)
	defer pool.Close()
	ctx := context.Background()

	require.NoError(t, pool.Register("inst-1", connInfo("a:9092")))
	require.NotNil(t, pool.Get(ctx, "inst-1"))

	time.Sleep(20 * time.Millisecond)
	pool.evictIdle()
	assert.True(t, admins["a:9092"].isClosed())

	// Registration survives; next Get re-dials.
	assert.NotNil(t, pool.Get(ctx, "inst-1"))
}

func TestPoolCloseClosesEverything(t *testing.T) {
	pool, admins := newTestPool(DefaultPoolOptions())
	ctx := context.Background()

	require.NoError(t, pool.Register("inst-1", connInfo("a:9092")))
	require.NotNil(t, pool.Get(ctx, "inst-1"))

	pool.Close()
	assert.True(t, admins["a:9092"].isClosed())
	assert.Nil(t, pool.Get(ctx, "inst-1"))
}

func TestRetentionMsOrDefault(t *testing.T) {
	assert.Equal(t, int64(1234), RetentionMsOrDefault(map[string]string{"retention.ms": "1234"}))
	assert.Equal(t, domain.DefaultRetentionMs, RetentionMsOrDefault(map[string]string{}))
	assert.Equal(t, domain.DefaultRetentionMs, RetentionMsOrDefault(map[string]string{"retention.ms": "junk"}))
}
