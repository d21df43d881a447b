package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/ethpandaops/sfbulk/pkg/retry"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3 struct {
	failures int
	calls    int
	objects  map[string]string
	types    map[string]string
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.calls++

	if m.failures > 0 {
		m.failures--
		return nil, errors.New("connection reset by peer")
	}

	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	m.objects[aws.ToString(in.Key)] = string(body)
	m.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)

	return &s3.PutObjectOutput{}, nil
}

func testConfig() *Config {
	return &Config{
		Enabled:         true,
		Bucket:          "exports",
		Prefix:          "sfbulk",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Retry: retry.Policy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     1,
		},
	}
}

func writeTable(t *testing.T) ([]string, string) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "Account.csv")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	slices := []string{filepath.Join(dir, "0"), filepath.Join(dir, "1")}
	require.NoError(t, os.WriteFile(slices[0], []byte("001,Acme\n"), 0o600))
	require.NoError(t, os.WriteFile(slices[1], []byte(""), 0o600))

	manifest := dir + ".manifest"
	require.NoError(t, os.WriteFile(manifest, []byte(`{"columns":["Id","Name"]}`), 0o600))

	return slices, manifest
}

func newMock(failures int) *mockS3 {
	return &mockS3{failures: failures, objects: map[string]string{}, types: map[string]string{}}
}

func TestPublish(t *testing.T) {
	slices, manifest := writeTable(t)
	api := newMock(0)

	p := NewWithAPI(logrus.New(), testConfig(), api)

	keys, err := p.Publish(context.Background(), "Account", slices, manifest)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"sfbulk/Account/slices/0",
		"sfbulk/Account/slices/1",
		"sfbulk/Account/manifest.json",
	}, keys)
	assert.Equal(t, "001,Acme\n", api.objects["sfbulk/Account/slices/0"])
	assert.Equal(t, "", api.objects["sfbulk/Account/slices/1"])
	assert.Equal(t, "application/json", api.types["sfbulk/Account/manifest.json"])
	assert.Equal(t, "text/csv", api.types["sfbulk/Account/slices/0"])
}

func TestPublishRetriesTransientFailures(t *testing.T) {
	slices, manifest := writeTable(t)
	api := newMock(2)

	p := NewWithAPI(logrus.New(), testConfig(), api)

	_, err := p.Publish(context.Background(), "Account", slices[:1], manifest)
	require.NoError(t, err)

	assert.Equal(t, 4, api.calls)
	assert.Equal(t, "001,Acme\n", api.objects["sfbulk/Account/slices/0"], "the body is re-read on every attempt")
}

func TestPublishExhausted(t *testing.T) {
	slices, manifest := writeTable(t)
	api := newMock(10)

	p := NewWithAPI(logrus.New(), testConfig(), api)

	keys, err := p.Publish(context.Background(), "Account", slices, manifest)
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.KindExhausted))
	assert.Empty(t, keys)
	assert.Equal(t, 3, api.calls)
}

func TestPublishMissingFile(t *testing.T) {
	api := newMock(0)
	p := NewWithAPI(logrus.New(), testConfig(), api)

	_, err := p.Publish(context.Background(), "Account", []string{filepath.Join(t.TempDir(), "nope")}, "")
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.KindInternal))
	assert.Equal(t, 0, api.calls)
}

func TestNewBuildsClient(t *testing.T) {
	cfg := testConfig()
	cfg.Endpoint = "fsn1.your-objectstorage.com"
	cfg.UsePathStyle = true

	p := New(logrus.New(), cfg)

	client, ok := p.api.(*s3.Client)
	require.True(t, ok)
	assert.Equal(t, "https://fsn1.your-objectstorage.com", aws.ToString(client.Options().BaseEndpoint))
	assert.True(t, client.Options().UsePathStyle)
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate(), "disabled publishing needs nothing")

	cfg.Enabled = true
	require.ErrorIs(t, cfg.Validate(), ErrBucketRequired)

	cfg.Bucket = "exports"
	require.ErrorIs(t, cfg.Validate(), ErrCredentialsRequired)

	cfg = testConfig()
	require.NoError(t, cfg.Validate())
}
